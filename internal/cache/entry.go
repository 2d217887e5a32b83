// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package cache

import "fmt"

// key identifies a cached object: a block of a table, addressed by the
// table's id and the block's offset within the table's data object.
type key struct {
	id     uint64
	offset uint64
}

func (k key) String() string {
	return fmt.Sprintf("%d.%d", k.id, k.offset)
}

type entry struct {
	key        key
	value      []byte
	charge     int64
	next, prev *entry
}

func (e *entry) String() string {
	return e.key.String()
}

// entryList is a double-linked circular list of *entry elements. The code is
// derived from the stdlib container/list but customized to entry in order to
// avoid a separate allocation for every element.
type entryList struct {
	root entry
}

func (l *entryList) init() {
	l.root.next = &l.root
	l.root.prev = &l.root
}

func (l *entryList) empty() bool {
	return l.root.next == &l.root
}

func (l *entryList) back() *entry {
	return l.root.prev
}

func (l *entryList) insertAfter(e, at *entry) {
	n := at.next
	at.next = e
	e.prev = at
	e.next = n
	n.prev = e
}

func (l *entryList) remove(e *entry) *entry {
	if e == &l.root {
		panic("cannot remove root list node")
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next = nil // avoid memory leaks
	e.prev = nil // avoid memory leaks
	return e
}

func (l *entryList) pushFront(e *entry) {
	l.insertAfter(e, &l.root)
}

func (l *entryList) moveToFront(e *entry) {
	if l.root.next == e {
		return
	}
	l.insertAfter(l.remove(e), &l.root)
}

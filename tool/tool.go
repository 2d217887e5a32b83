// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package tool implements the introspection commands of the hummock CLI:
// inspecting the sstables and version checkpoints of a store directory, and
// dumping and replaying traces.
package tool

import (
	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/hummock"
	"github.com/cockroachdb/hummock/objstorage/remote"
	"github.com/spf13/cobra"
)

// Comparer exports the hummock.Comparer type.
type Comparer = hummock.Comparer

// T is the container for all of the introspection tools.
type T struct {
	Commands  []*cobra.Command
	opts      *hummock.Options
	comparers map[string]*Comparer
	sstable   *sstableT
	version   *versionT
	trace     *traceT
	verbose   bool
}

// New creates a new introspection tool. The options are read when a command
// runs, so the caller may fill them in after New returns, for example from a
// persistent pre-run hook.
func New(opts *hummock.Options) *T {
	t := &T{
		opts:      opts,
		comparers: make(map[string]*Comparer),
	}
	t.RegisterComparer(hummock.DefaultComparer)

	t.sstable = newSSTable(t)
	t.version = newVersion(t)
	t.trace = newTrace(t)
	t.Commands = []*cobra.Command{
		t.sstable.Root,
		t.version.Root,
		t.trace.Root,
	}
	for _, cmd := range t.Commands {
		cmd.PersistentFlags().BoolVar(&t.verbose, "log-objects", false,
			"log every object store call")
	}
	return t
}

// RegisterComparer registers a comparer for use by the introspection tools.
// Tables and checkpoints name the comparer they were written with.
func (t *T) RegisterComparer(c *Comparer) {
	t.comparers[c.Name] = c
}

func (t *T) comparer(name string) (*Comparer, error) {
	if name == "" {
		return t.opts.EnsureDefaults().Comparer, nil
	}
	c, ok := t.comparers[name]
	if !ok {
		return nil, errors.Newf("unknown comparer %q", name)
	}
	return c, nil
}

// openStorage opens the object store rooted at the store directory dir.
func (t *T) openStorage(dir string) (remote.Storage, error) {
	objs, err := remote.NewLocalFS(dir)
	if err != nil {
		return nil, err
	}
	if t.verbose {
		objs = remote.WithLogging(objs, t.opts.EnsureDefaults().Logger.Infof)
	}
	return objs, nil
}

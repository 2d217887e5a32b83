// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import "context"

// DeleteObsoleteTables removes the objects of obsolete tables: tables no
// longer referenced by any live version and absent from the newest durable
// checkpoint. It returns the number of tables deleted. Tables that fail to
// delete stay queued.
func (vs *VersionSet) DeleteObsoleteTables(ctx context.Context) (int, error) {
	vs.mu.Lock()
	var deletable []obsoleteTable
	remaining := vs.mu.obsolete[:0]
	for _, o := range vs.mu.obsolete {
		if o.supersededBy <= vs.mu.durableID {
			deletable = append(deletable, o)
		} else {
			remaining = append(remaining, o)
		}
	}
	vs.mu.obsolete = remaining
	vs.mu.Unlock()

	for i, o := range deletable {
		if err := vs.tables.remove(ctx, o.meta.TableNum); err != nil {
			vs.mu.Lock()
			vs.mu.obsolete = append(vs.mu.obsolete, deletable[i:]...)
			vs.mu.Unlock()
			return i, err
		}
		vs.logger.Infof("[JOB gc] deleted obsolete table %s", o.meta)
	}
	return len(deletable), nil
}

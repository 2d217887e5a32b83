// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package hummock

import (
	"math"

	"github.com/cockroachdb/hummock/internal/base"
	"github.com/cockroachdb/hummock/internal/manifest"
)

// levelMaxBytes returns the target size of each level. L0 is sized by its
// table count instead and has no byte target.
func levelMaxBytes(opts *Options) [manifest.NumLevels]float64 {
	var res [manifest.NumLevels]float64
	size := float64(opts.LBaseMaxBytes)
	for level := 1; level < manifest.NumLevels; level++ {
		res[level] = size
		size *= float64(opts.LevelMultiplier)
	}
	return res
}

// levelScores returns the compaction score of each level. A score >= 1
// means the level is over its threshold. The L0 score is the ratio of its
// table count to L0CompactionThreshold; the score of every other level is
// the ratio of its size to its target size. The last level always scores
// zero since it cannot be compacted further down.
func levelScores(v *manifest.Version, opts *Options) [manifest.NumLevels]float64 {
	var scores [manifest.NumLevels]float64
	scores[0] = float64(len(v.Levels[0])) / float64(opts.L0CompactionThreshold)
	maxBytes := levelMaxBytes(opts)
	for level := 1; level < manifest.NumLevels-1; level++ {
		scores[level] = float64(v.LevelSize(level)) / maxBytes[level]
	}
	return scores
}

func anyCompacting(tables []*manifest.TableMetadata) bool {
	for _, t := range tables {
		if t.IsCompacting() {
			return true
		}
	}
	return false
}

func tablesSize(tables []*manifest.TableMetadata) uint64 {
	var n uint64
	for _, t := range tables {
		n += t.Size
	}
	return n
}

// PickCompaction returns the compaction task for the level with the highest
// score, or nil if no level is over its threshold. Levels whose candidate
// inputs are already being compacted are skipped.
//
// An L0 compaction takes every L0 table along with the L1 tables
// overlapping them. A compaction of any other level L takes the single
// table of L whose overlap with L+1 is smallest relative to its own size,
// along with the overlapping tables of L+1.
func PickCompaction(v *manifest.Version, opts *Options) *CompactionTask {
	opts = opts.EnsureDefaults()
	cmp := opts.Comparer.Compare
	scores := levelScores(v, opts)
	for {
		level, best := -1, 0.0
		for l, score := range scores {
			if score >= 1 && score > best {
				level, best = l, score
			}
		}
		if level < 0 {
			return nil
		}
		var task *CompactionTask
		if level == 0 {
			task = pickL0(v, cmp)
		} else {
			task = pickLevel(v, cmp, level)
		}
		if task != nil {
			return task
		}
		scores[level] = 0
	}
}

func pickL0(v *manifest.Version, cmp base.Compare) *CompactionTask {
	l0 := v.Levels[0]
	if len(l0) == 0 || anyCompacting(l0) {
		return nil
	}
	task := &CompactionTask{
		Inputs:      []CompactionLevel{{Level: 0, Tables: l0}},
		TargetLevel: 1,
	}
	task.KeyRange = task.inputRange(cmp)
	if l1 := v.Overlaps(1, task.KeyRange); len(l1) > 0 {
		if anyCompacting(l1) {
			return nil
		}
		task.Inputs = append(task.Inputs, CompactionLevel{Level: 1, Tables: l1})
		task.KeyRange = task.inputRange(cmp)
	}
	return task
}

func pickLevel(v *manifest.Version, cmp base.Compare, level int) *CompactionTask {
	var task *CompactionTask
	bestRatio := math.Inf(1)
	for _, t := range v.Levels[level] {
		if t.IsCompacting() {
			continue
		}
		r := base.KeyRangeInclusive(t.Smallest, t.Largest)
		next := v.Overlaps(level+1, r)
		if anyCompacting(next) {
			continue
		}
		ratio := float64(tablesSize(next)) / float64(max(t.Size, 1))
		if ratio >= bestRatio {
			continue
		}
		bestRatio = ratio
		task = &CompactionTask{
			Inputs:      []CompactionLevel{{Level: level, Tables: []*manifest.TableMetadata{t}}},
			TargetLevel: level + 1,
		}
		if len(next) > 0 {
			task.Inputs = append(task.Inputs, CompactionLevel{Level: level + 1, Tables: next})
		}
		task.KeyRange = task.inputRange(cmp)
	}
	return task
}

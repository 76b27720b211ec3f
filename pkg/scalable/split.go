// Copyright 2023 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scalable

import (
	"sort"

	"github.com/matrixorigin/scalable/pkg/objstore"
	v2 "github.com/matrixorigin/scalable/pkg/util/metric/v2"
	"go.uber.org/zap"
)

// splitIfNeeded splits the leaf until no piece is above the split threshold
// or the leaf reached the max depth. The leaf must already be written.
func (s *session) splitIfNeeded(path []pathElem, leafID objstore.ID, leaf *nodeRecord) error {
	b := s.bits()
	for len(leaf.Entries) > s.h.SplitThreshold && leaf.Depth < s.h.maxLeafDepth() {
		oldDepth := leaf.Depth
		newDepth := oldDepth + 1

		k := sort.Search(len(leaf.Entries), func(i int) bool {
			return bitAt(leaf.Entries[i].Hash, oldDepth) == 1
		})
		upper := append([]entryRecord(nil), leaf.Entries[k:]...)
		sibling := &nodeRecord{
			Leaf:    true,
			Depth:   newDepth,
			Prefix:  leaf.Prefix | uint64(1)<<uint(63-oldDepth),
			Gen:     s.h.Gen,
			Prev:    leafID,
			Next:    leaf.Next,
			Entries: upper,
		}
		siblingID, err := createRecord(s.ctx, s.op, sibling)
		if err != nil {
			return err
		}
		if !leaf.Next.IsNil() {
			next, err := readNode(s.ctx, s.op, leaf.Next)
			if err != nil {
				return err
			}
			next.Prev = siblingID
			if err := writeRecord(s.ctx, s.op, leaf.Next, next); err != nil {
				return err
			}
		}
		leaf.Entries = leaf.Entries[:k]
		leaf.Depth = newDepth
		leaf.Next = siblingID
		if err := writeRecord(s.ctx, s.op, leafID, leaf); err != nil {
			return err
		}

		var parent *pathElem
		if len(path) > 0 {
			parent = &path[len(path)-1]
		}
		if parent != nil && newDepth <= parent.node.Depth+b {
			// the leaf aliased several slots, hand the upper half to the sibling
			half := slotSpan(parent.node.Depth, newDepth, b)
			first := slotIndex(leaf.Prefix, parent.node.Depth, b)
			for i := first + half; i < first+2*half; i++ {
				parent.node.Slots[i] = slotRecord{ID: siblingID}
			}
			if err := writeRecord(s.ctx, s.op, parent.id, parent.node); err != nil {
				return err
			}
		} else {
			// the leaf owned a single slot, a new directory takes its place
			dir := &nodeRecord{
				Depth:  oldDepth,
				Prefix: leaf.Prefix,
				Gen:    s.h.Gen,
				Slots:  make([]slotRecord, 1<<uint(b)),
			}
			half := len(dir.Slots) / 2
			for i := range dir.Slots {
				if i < half {
					dir.Slots[i] = slotRecord{ID: leafID}
				} else {
					dir.Slots[i] = slotRecord{ID: siblingID}
				}
			}
			dirID, err := createRecord(s.ctx, s.op, dir)
			if err != nil {
				return err
			}
			if parent != nil {
				parent.node.Slots[slotIndex(leaf.Prefix, parent.node.Depth, b)] = slotRecord{ID: dirID, Dir: true}
				if err := writeRecord(s.ctx, s.op, parent.id, parent.node); err != nil {
					return err
				}
			} else {
				s.h.Root = dirID
				if err := s.writeHandle(); err != nil {
					return err
				}
			}
			path = append(path, pathElem{id: dirID, node: dir})
		}

		v2.CollectionSplitCounter.Inc()
		s.logger.Debug("leaf split",
			zap.Uint64("leaf", uint64(leafID)),
			zap.Uint64("sibling", uint64(siblingID)),
			zap.Int("depth", newDepth))

		if len(leaf.Entries) <= s.h.SplitThreshold {
			leafID, leaf = siblingID, sibling
		}
	}
	return nil
}

// mergeIfNeeded merges the leaf with its sibling while both fit in the merge
// threshold, collapsing directories left with a single leaf when enabled.
// The leaf must already be written.
func (s *session) mergeIfNeeded(path []pathElem, leafID objstore.ID, leaf *nodeRecord) error {
	b := s.bits()
	for len(path) > 0 && leaf.Depth > s.h.MinDepth {
		parent := &path[len(path)-1]
		d := leaf.Depth
		if d-1 < parent.node.Depth {
			return nil
		}

		bit := uint64(1) << uint(64-d)
		siblingPrefix := leaf.Prefix ^ bit
		slot := parent.node.Slots[slotIndex(siblingPrefix, parent.node.Depth, b)]
		if slot.Dir {
			return nil
		}
		sibling, err := readNode(s.ctx, s.op, slot.ID)
		if err != nil {
			return err
		}
		if !sibling.Leaf || sibling.Depth != d {
			return nil
		}
		if len(leaf.Entries)+len(sibling.Entries) > s.h.MergeThreshold {
			return nil
		}

		lowerID, lower, upperID, upper := leafID, leaf, slot.ID, sibling
		if leaf.Prefix&bit != 0 {
			lowerID, lower, upperID, upper = slot.ID, sibling, leafID, leaf
		}
		lower.Entries = append(lower.Entries, upper.Entries...)
		lower.Depth = d - 1
		lower.Prefix &= highMask(d - 1)
		lower.Next = upper.Next
		if !upper.Next.IsNil() {
			next, err := readNode(s.ctx, s.op, upper.Next)
			if err != nil {
				return err
			}
			next.Prev = lowerID
			if err := writeRecord(s.ctx, s.op, upper.Next, next); err != nil {
				return err
			}
		}
		if err := writeRecord(s.ctx, s.op, lowerID, lower); err != nil {
			return err
		}
		if err := s.op.Delete(s.ctx, upperID); err != nil {
			return err
		}
		first := slotIndex(upper.Prefix, parent.node.Depth, b)
		span := slotSpan(parent.node.Depth, d, b)
		for i := first; i < first+span; i++ {
			parent.node.Slots[i] = slotRecord{ID: lowerID}
		}
		v2.CollectionMergeCounter.Inc()
		s.logger.Debug("leaf merge",
			zap.Uint64("leaf", uint64(lowerID)),
			zap.Uint64("removed", uint64(upperID)),
			zap.Int("depth", lower.Depth))

		leafID, leaf = lowerID, lower
		if lower.Depth == parent.node.Depth && s.h.Collapse {
			if err := s.collapse(path, lowerID); err != nil {
				return err
			}
			path = path[:len(path)-1]
			continue
		}
		if err := writeRecord(s.ctx, s.op, parent.id, parent.node); err != nil {
			return err
		}
	}
	return nil
}

// collapse replaces the directory at the end of path, whose slots all point
// at leafID, by the leaf itself.
func (s *session) collapse(path []pathElem, leafID objstore.ID) error {
	dir := path[len(path)-1]
	if len(path) > 1 {
		gp := &path[len(path)-2]
		gp.node.Slots[gp.slot] = slotRecord{ID: leafID}
		if err := writeRecord(s.ctx, s.op, gp.id, gp.node); err != nil {
			return err
		}
	} else {
		s.h.Root = leafID
		if err := s.writeHandle(); err != nil {
			return err
		}
	}
	if err := s.op.Delete(s.ctx, dir.id); err != nil {
		return err
	}
	v2.CollectionCollapseCounter.Inc()
	s.logger.Debug("directory collapse",
		zap.Uint64("directory", uint64(dir.id)),
		zap.Uint64("leaf", uint64(leafID)))
	return nil
}

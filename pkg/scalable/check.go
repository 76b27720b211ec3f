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
	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/matrixorigin/scalable/pkg/common/moerr"
	"github.com/matrixorigin/scalable/pkg/objstore"
)

type checker struct {
	s       *session
	visited *roaring64.Bitmap
	leaves  []objstore.ID
	nodes   map[objstore.ID]*nodeRecord
	entries int64
}

// check walks the whole tree and the leaf chain. It verifies the directory
// geometry, that every leaf is reachable once, that the chain links the
// leaves in hash order without gaps or cycles, that entries are ordered and
// belong to their leaf, and that the size counter matches.
func (s *session) check() error {
	c := &checker{
		s:       s,
		visited: roaring64.NewBitmap(),
		nodes:   make(map[objstore.ID]*nodeRecord),
	}
	root, err := readNode(s.ctx, s.op, s.h.Root)
	if err != nil {
		return err
	}
	if root.Leaf {
		err = c.checkLeaf(s.h.Root, root, 0)
	} else {
		err = c.checkDirectory(s.h.Root, root, 0, 0)
	}
	if err != nil {
		return err
	}
	if err := c.checkChain(); err != nil {
		return err
	}

	size, err := s.op.ReadCounter(s.ctx, s.h.Size)
	if err != nil {
		return err
	}
	if size != c.entries {
		return c.corrupted("size %d, but %d entries", size, c.entries)
	}
	return nil
}

func (c *checker) corrupted(msg string, args ...any) error {
	return moerr.NewInvalidState(c.s.ctx, "map %d corrupted: "+msg,
		append([]any{uint64(c.s.id)}, args...)...)
}

func (c *checker) visit(id objstore.ID) error {
	if c.visited.Contains(uint64(id)) {
		return c.corrupted("node %d reachable twice", uint64(id))
	}
	c.visited.Add(uint64(id))
	return nil
}

func (c *checker) checkDirectory(id objstore.ID, dir *nodeRecord, depth int, prefix uint64) error {
	b := c.s.bits()
	if err := c.visit(id); err != nil {
		return err
	}
	switch {
	case dir.Leaf:
		return c.corrupted("node %d is not a directory", uint64(id))
	case dir.Depth != depth || dir.Prefix != prefix:
		return c.corrupted("directory %d at depth %d prefix %x, expected %d %x",
			uint64(id), dir.Depth, dir.Prefix, depth, prefix)
	case dir.Gen != c.s.h.Gen:
		return c.corrupted("directory %d of generation %d", uint64(id), dir.Gen)
	case len(dir.Slots) != 1<<uint(b):
		return c.corrupted("directory %d has %d slots", uint64(id), len(dir.Slots))
	}

	for i := 0; i < len(dir.Slots); {
		slot := dir.Slots[i]
		childPrefix := prefix | uint64(i)<<uint(64-depth-b)
		child, err := readNode(c.s.ctx, c.s.op, slot.ID)
		if err != nil {
			return err
		}
		if slot.Dir {
			if err := c.checkDirectory(slot.ID, child, depth+b, childPrefix); err != nil {
				return err
			}
			i++
			continue
		}

		minChild := depth + 1
		if !c.s.h.Collapse {
			minChild = depth
		}
		if !child.Leaf || child.Depth < minChild || child.Depth > depth+b {
			return c.corrupted("slot %d of directory %d holds node %d of depth %d",
				i, uint64(id), uint64(slot.ID), child.Depth)
		}
		span := slotSpan(depth, child.Depth, b)
		if i%span != 0 {
			return c.corrupted("leaf %d misaligned in directory %d", uint64(slot.ID), uint64(id))
		}
		for j := i; j < i+span; j++ {
			if dir.Slots[j] != slot {
				return c.corrupted("leaf %d of depth %d does not own slot %d of directory %d",
					uint64(slot.ID), child.Depth, j, uint64(id))
			}
		}
		if err := c.checkLeaf(slot.ID, child, childPrefix&highMask(child.Depth)); err != nil {
			return err
		}
		i += span
	}
	return nil
}

func (c *checker) checkLeaf(id objstore.ID, leaf *nodeRecord, prefix uint64) error {
	h := c.s.h
	if err := c.visit(id); err != nil {
		return err
	}
	switch {
	case !leaf.Leaf:
		return c.corrupted("node %d is not a leaf", uint64(id))
	case leaf.Prefix != prefix:
		return c.corrupted("leaf %d prefix %x, expected %x", uint64(id), leaf.Prefix, prefix)
	case leaf.Gen != h.Gen:
		return c.corrupted("leaf %d of generation %d", uint64(id), leaf.Gen)
	case leaf.Depth < h.MinDepth:
		return c.corrupted("leaf %d depth %d below %d", uint64(id), leaf.Depth, h.MinDepth)
	case len(leaf.Entries) > h.SplitThreshold && leaf.Depth < h.maxLeafDepth():
		return c.corrupted("leaf %d holds %d entries", uint64(id), len(leaf.Entries))
	}

	mask := highMask(leaf.Depth)
	for i := range leaf.Entries {
		e := &leaf.Entries[i]
		if e.Hash&mask != prefix {
			return c.corrupted("entry %d of leaf %d has hash %x out of prefix %x",
				i, uint64(id), e.Hash, prefix)
		}
		if i > 0 {
			prev := &leaf.Entries[i-1]
			if comparePosition(prev.Hash, prev.identity(), e.Hash, e.identity()) >= 0 {
				return c.corrupted("entries %d and %d of leaf %d out of order", i-1, i, uint64(id))
			}
		}
	}
	c.entries += int64(len(leaf.Entries))
	c.leaves = append(c.leaves, id)
	c.nodes[id] = leaf
	return nil
}

// checkChain checks that the chain links exactly the leaves found by the
// tree walk, in the same order.
func (c *checker) checkChain() error {
	for i, id := range c.leaves {
		leaf := c.nodes[id]
		prev, next := objstore.NilID, objstore.NilID
		if i > 0 {
			prev = c.leaves[i-1]
		}
		if i < len(c.leaves)-1 {
			next = c.leaves[i+1]
		}
		if leaf.Prev != prev || leaf.Next != next {
			return c.corrupted("leaf %d linked to %d and %d, expected %d and %d",
				uint64(id), uint64(leaf.Prev), uint64(leaf.Next), uint64(prev), uint64(next))
		}
	}
	return nil
}

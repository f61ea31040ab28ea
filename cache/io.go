package cache

import (
	"log/slog"

	"github.com/nimblefs/sdfat/errkind"
)

// ReadWholeBlock ensures blockIndex is resident at the LRU head. A hit just
// promotes the slot; a miss evicts the tail (writing it back first if it
// is dirty and valid), reads blockIndex from the device into the freed
// slot, and promotes it.
func (c *Cache) ReadWholeBlock(blockIndex uint32) error {
	if idx, ok := c.lookup(blockIndex); ok {
		return c.moveToHead(idx)
	}
	c.trace("cache:miss", slog.Uint64("block", uint64(blockIndex)))

	idx := c.removeLeastUsed()
	if c.slots[idx].blockIndex != InvalidBlock && c.dirty.Get(int(idx)) {
		if err := c.writeback(idx); err != nil {
			// Don't let the failed write silently drop data: put the
			// slot back where a caller would expect to find it.
			c.addAsHead(idx)
			return err
		}
	}

	c.slots[idx].blockIndex = blockIndex
	c.dirty.Set(int(idx), false)
	c.valid.Set(int(idx), false)
	c.addAsHead(idx)

	if err := c.dev.ReadBlock(blockIndex, c.slots[idx].data[:]); err != nil {
		// leave the slot stamped invalid so no ghost data is returned
		c.slots[idx].blockIndex = InvalidBlock
		return err
	}
	c.valid.Set(int(idx), true)
	return nil
}

// ReadPartial ensures blockIndex is resident and copies out dst.
func (c *Cache) ReadPartial(blockIndex uint32, offset uint16, dst []byte) error {
	if int(offset)+len(dst) > BlockSize {
		return errkind.TooFar
	}
	if err := c.ReadWholeBlock(blockIndex); err != nil {
		return err
	}
	idx, _ := c.lookup(blockIndex)
	copy(dst, c.slots[idx].data[offset:int(offset)+len(dst)])
	return nil
}

// WritePartial ensures blockIndex is resident, mutates [offset,
// offset+len(src)) in place, and marks the slot dirty. No device I/O
// happens if the block was already resident.
func (c *Cache) WritePartial(blockIndex uint32, offset uint16, src []byte) error {
	if int(offset)+len(src) > BlockSize {
		return errkind.TooFar
	}
	if err := c.ReadWholeBlock(blockIndex); err != nil {
		return err
	}
	idx, _ := c.lookup(blockIndex)
	copy(c.slots[idx].data[offset:int(offset)+len(src)], src)
	c.dirty.Set(int(idx), true)
	return nil
}

func (c *Cache) writeback(idx uint16) error {
	c.debug("cache:writeback", slog.Uint64("block", uint64(c.slots[idx].blockIndex)))
	if err := c.dev.WriteBlock(c.slots[idx].blockIndex, c.slots[idx].data[:]); err != nil {
		return err
	}
	c.dirty.Set(int(idx), false)
	return nil
}

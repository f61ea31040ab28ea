// Package cache implements a small fixed-size LRU write-back cache of
// 512-byte sectors sitting between the FAT32 engine and the SPI block
// device. It guarantees at most one resident copy of any physical block,
// coalesces partial-block writes into a single device write at eviction
// time, and flushes deterministically on demand.
package cache

import (
	"context"
	"log/slog"

	"github.com/boljen/go-bitmap"

	"github.com/nimblefs/sdfat/errkind"
)

// BlockSize is the fixed sector size this cache operates on.
const BlockSize = 512

// InvalidBlock is the sentinel block index carried by an unused slot.
const InvalidBlock uint32 = 0xFFFFFFFF

// noSlot marks the end of the intrusive linked list; it is the largest
// uint16, which no real slot index reaches.
const noSlot = 0xFFFF

// BlockDevice is the narrow interface the cache needs from whatever sits
// below it. *spi.Device satisfies it.
type BlockDevice interface {
	ReadBlock(index uint32, dst []byte) error
	WriteBlock(index uint32, src []byte) error
}

type slot struct {
	blockIndex uint32
	next       uint16
	data       [BlockSize]byte
}

// Cache is a fixed array of N slots threaded as a singly-linked LRU list
// over slot indices (never pointers, so the whole structure is plain data).
// head is the most-recently-used slot; following next pointers walks
// toward the least-recently-used tail.
type Cache struct {
	dev BlockDevice
	log *slog.Logger

	slots []slot
	head  uint16

	// valid/dirty are tracked per slot, mirroring the per-block bitmaps a
	// larger disk-image cache would use, even though N here is tiny.
	valid bitmap.Bitmap
	dirty bitmap.Bitmap
}

// New builds a cache of numSlots slots backed by dev. numSlots must be at
// least 1.
func New(dev BlockDevice, numSlots int, log *slog.Logger) *Cache {
	if numSlots < 1 {
		panic("cache: numSlots must be at least 1")
	}
	c := &Cache{
		dev:   dev,
		log:   log,
		slots: make([]slot, numSlots),
	}
	c.reset()
	return c
}

// reset re-initializes every slot to the unused state and rebuilds the
// chain in slot order, matching the cache's state immediately after
// mount or flush.
func (c *Cache) reset() {
	n := len(c.slots)
	c.valid = bitmap.NewSlice(n)
	c.dirty = bitmap.NewSlice(n)
	for i := range c.slots {
		c.slots[i].blockIndex = InvalidBlock
		if i == n-1 {
			c.slots[i].next = noSlot
		} else {
			c.slots[i].next = uint16(i + 1)
		}
	}
	c.head = 0
}

const slogLevelTrace = slog.LevelDebug - 2

func (c *Cache) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if c.log != nil {
		c.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
func (c *Cache) trace(msg string, attrs ...slog.Attr) { c.logattrs(slogLevelTrace, msg, attrs...) }
func (c *Cache) debug(msg string, attrs ...slog.Attr) { c.logattrs(slog.LevelDebug, msg, attrs...) }

// lookup walks the chain from head looking for blockIndex. ok is false if
// no slot currently holds that block.
func (c *Cache) lookup(blockIndex uint32) (idx uint16, ok bool) {
	for i := c.head; i != noSlot; i = c.slots[i].next {
		if c.valid.Get(int(i)) && c.slots[i].blockIndex == blockIndex {
			return i, true
		}
	}
	return 0, false
}

// moveToHead unlinks idx from wherever it sits in the chain and relinks it
// as the new head. Returns CacheFailure if idx isn't found in the chain at
// all, which would indicate a corrupted chain.
func (c *Cache) moveToHead(idx uint16) error {
	if c.head == idx {
		return nil
	}
	prev := c.head
	for {
		if prev == noSlot {
			return errkind.CacheFailure.WithMessage("slot not found in LRU chain")
		}
		if c.slots[prev].next == idx {
			break
		}
		prev = c.slots[prev].next
	}
	c.slots[prev].next = c.slots[idx].next
	c.slots[idx].next = c.head
	c.head = idx
	return nil
}

// removeLeastUsed unlinks and returns the tail slot (the least-recently-used
// one), leaving the chain consistent. The single-slot chain is a special
// case: removing it empties head to noSlot temporarily; callers re-add it
// via addAsHead immediately after.
func (c *Cache) removeLeastUsed() uint16 {
	cur := c.head
	if c.slots[cur].next == noSlot {
		c.head = noSlot
		return cur
	}
	for c.slots[c.slots[cur].next].next != noSlot {
		cur = c.slots[cur].next
	}
	tail := c.slots[cur].next
	c.slots[cur].next = noSlot
	return tail
}

// addAsHead prepends idx to the chain as the new head.
func (c *Cache) addAsHead(idx uint16) {
	c.slots[idx].next = c.head
	c.head = idx
}

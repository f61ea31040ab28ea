package cache

import (
	"github.com/hashicorp/go-multierror"
)

// Flush writes back every dirty, valid slot, attempting all of them even
// if some fail, then re-initializes the cache to the unused state. The
// returned error, if any, is a *multierror.Error aggregating every slot
// that failed to write back.
func (c *Cache) Flush() error {
	var result *multierror.Error
	for i := range c.slots {
		idx := uint16(i)
		if c.slots[idx].blockIndex != InvalidBlock && c.dirty.Get(i) {
			if err := c.writeback(idx); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	c.reset()
	return result.ErrorOrNil()
}

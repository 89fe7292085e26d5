// Package sectorcache implements the buffered, write-back sector cache
// described in spec.md §4.1: a fixed-capacity table of disk-block-sized
// slots sitting between the filesystem and the block device, evicted by
// a second-chance (clock) scan over each slot's accessed bit.
//
// It is grounded on the teacher kernel's fs.Bdev_block_t / BlkList_t
// (biscuit/src/fs/blk.go), which models a cached disk block with a
// mutex, a dirty/evict flag, and explicit Read/Write/New_page methods;
// this package keeps that per-block-state shape but replaces the async
// Bdev_req_t/Disk_i request queue with the synchronous blockdev.Device
// this core's block layer exposes, and adds the index-to-slot table and
// clock sweep spec.md §4.1 calls for (the teacher's block cache is an
// LRU list managed by a separate, unretrieved cache.go).
package sectorcache

import (
	"sync"

	"kerncore/internal/blockdev"
	"kerncore/internal/console"
	"kerncore/internal/defs"
)

const sectorSize = blockdev.SectorSize

const emptySector = -1

// slot is one fixed-size cache entry.
type slot struct {
	sync.RWMutex
	sector   int
	dirty    bool
	accessed bool
	refcnt   int
	data     [sectorSize]byte
}

// Cache is a fixed-capacity write-back cache of disk sectors.
type Cache struct {
	dev *blockdev.Device

	// tableMu guards index and hand; it is released during I/O,
	// per spec.md §4.1's eviction-loop ordering rule.
	tableMu sync.Mutex
	index   map[int]int // sector -> slot index
	slots   []*slot
	hand    int
}

// New creates a cache of the given capacity backed by dev.
func New(dev *blockdev.Device, capacity int) *Cache {
	if capacity <= 0 {
		panic("sectorcache: capacity must be positive")
	}
	c := &Cache{
		dev:   dev,
		index: make(map[int]int, capacity),
		slots: make([]*slot, capacity),
	}
	for i := range c.slots {
		c.slots[i] = &slot{sector: emptySector}
	}
	return c
}

// acquire returns the slot for sector, allocating it and, when populate
// is true, reading the sector from the device if it is not already
// cached. The returned slot is already write-locked and its reference
// count raised; the caller gives both back with release. Holding the
// slot lock keeps the slot->sector binding stable while the caller uses
// the slot.
func (c *Cache) acquire(sector int, populate bool) (*slot, defs.Err_t) {
	for {
		c.tableMu.Lock()
		if idx, ok := c.index[sector]; ok {
			s := c.slots[idx]
			c.tableMu.Unlock()
			s.Lock()
			if s.sector != sector {
				// raced with an eviction; retry from scratch.
				s.Unlock()
				continue
			}
			s.accessed = true
			s.refcnt++
			return s, defs.EOK
		}
		idx, err := c.evictLocked()
		if err != defs.EOK {
			c.tableMu.Unlock()
			return nil, err
		}
		s := c.slots[idx]
		// Bind the slot to the new sector number before releasing the
		// table lock and before any I/O, so concurrent lookups of this
		// sector see the binding immediately.
		delete(c.index, s.sector)
		s.sector = sector
		c.index[sector] = idx
		c.tableMu.Unlock()

		s.Lock()
		s.dirty = false
		s.accessed = true
		s.refcnt++
		if populate {
			if err := c.dev.ReadSector(sector, s.data[:]); err != nil {
				s.sector = emptySector
				s.refcnt--
				s.Unlock()
				c.tableMu.Lock()
				delete(c.index, sector)
				c.tableMu.Unlock()
				return nil, defs.EIO
			}
		}
		return s, defs.EOK
	}
}

// evictLocked must be called with tableMu held. It finds a free slot or,
// failing that, a second-chance eviction victim, writing back the
// victim's contents if dirty. It temporarily releases tableMu while
// doing I/O and re-validates the slot identity when it reacquires it,
// per spec.md §4.1.
func (c *Cache) evictLocked() (int, defs.Err_t) {
	for i, s := range c.slots {
		if s.sector == emptySector {
			return i, defs.EOK
		}
	}
	n := len(c.slots)
	for tries := 0; tries < 2*n+1; tries++ {
		idx := c.hand
		c.hand = (c.hand + 1) % n
		s := c.slots[idx]

		s.Lock()
		if s.refcnt > 0 {
			s.Unlock()
			continue
		}
		if s.accessed {
			s.accessed = false
			s.Unlock()
			continue
		}
		victimSector := s.sector
		if s.dirty {
			c.tableMu.Unlock()
			err := c.dev.WriteSector(victimSector, s.data[:])
			c.tableMu.Lock()
			if err != nil {
				s.Unlock()
				return 0, defs.EIO
			}
			// Only update the sector's state once the writeback is
			// confirmed complete, and only if nobody repurposed this
			// slot for a different sector while we had the table lock
			// released.
			if s.sector == victimSector {
				s.dirty = false
			}
		}
		if s.sector != victimSector || s.refcnt > 0 {
			// Slot identity changed underneath us during writeback;
			// someone else claimed it. Try again.
			s.Unlock()
			continue
		}
		s.Unlock()
		return idx, defs.EOK
	}
	console.Tracef("sectorcache: eviction could not find a victim\n")
	return 0, defs.ENOMEM
}

func (c *Cache) release(s *slot) {
	s.refcnt--
	s.Unlock()
}

// Read reads an entire sector into buf, which must be exactly
// blockdev.SectorSize bytes.
func (c *Cache) Read(sector int, buf []byte) defs.Err_t {
	s, err := c.acquire(sector, true)
	if err != defs.EOK {
		return err
	}
	copy(buf, s.data[:])
	c.release(s)
	return defs.EOK
}

// Write overwrites an entire sector with buf without a prior read,
// since the whole sector is being replaced.
func (c *Cache) Write(sector int, buf []byte) defs.Err_t {
	s, err := c.acquire(sector, false)
	if err != defs.EOK {
		return err
	}
	copy(s.data[:], buf)
	s.dirty = true
	s.accessed = true
	c.release(s)
	return defs.EOK
}

// ReadPartial reads len(dst) bytes from sector starting at offset.
func (c *Cache) ReadPartial(sector int, dst []byte, offset int) defs.Err_t {
	if offset < 0 || offset+len(dst) > sectorSize {
		return defs.EINVAL
	}
	s, err := c.acquire(sector, true)
	if err != defs.EOK {
		return err
	}
	copy(dst, s.data[offset:offset+len(dst)])
	c.release(s)
	return defs.EOK
}

// WritePartial read-modify-writes len(src) bytes into sector at offset.
// The read, modify, and accessed-bit update all happen while the slot
// lock is held, so a concurrent eviction cannot observe a half-applied
// write (spec.md §4.1's "must not mark the accessed flag without also
// holding the sector's lock" rule).
func (c *Cache) WritePartial(sector int, src []byte, offset int) defs.Err_t {
	if offset < 0 || offset+len(src) > sectorSize {
		return defs.EINVAL
	}
	s, err := c.acquire(sector, true)
	if err != defs.EOK {
		return err
	}
	copy(s.data[offset:offset+len(src)], src)
	s.dirty = true
	s.accessed = true
	c.release(s)
	return defs.EOK
}

// DirtyOccupancy reports the number of slots currently dirty versus
// clean (including empty slots), used by internal/diag's snapshot.
func (c *Cache) DirtyOccupancy() (dirty, clean int) {
	c.tableMu.Lock()
	defer c.tableMu.Unlock()
	for _, s := range c.slots {
		s.Lock()
		if s.dirty {
			dirty++
		} else {
			clean++
		}
		s.Unlock()
	}
	return dirty, clean
}

// Flush writes every dirty slot back to the device. It is the only
// operation that guarantees durability and is meant to be invoked on
// clean shutdown; data written after the last Flush is lost by design
// (spec.md §4.1, Non-goals).
func (c *Cache) Flush() defs.Err_t {
	c.tableMu.Lock()
	defer c.tableMu.Unlock()
	for _, s := range c.slots {
		s.Lock()
		if s.sector != emptySector && s.dirty {
			if err := c.dev.WriteSector(s.sector, s.data[:]); err != nil {
				s.Unlock()
				return defs.EIO
			}
			s.dirty = false
		}
		s.Unlock()
	}
	return defs.EOK
}

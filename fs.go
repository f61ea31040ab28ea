// Package sdfat implements a FAT32 filesystem driver over an SPI-attached
// SD/SDHC block device: on-disk structure parsing, FAT chain
// walking/allocation, 8.3 directory traversal, and a cursor-based
// open-file API, all addressed through a small write-back block cache.
package sdfat

import (
	"context"
	"log/slog"

	"github.com/nimblefs/sdfat/cache"
	"github.com/nimblefs/sdfat/errkind"
)

// Device is what Fs needs from the layer beneath the cache: whole-block
// read/write. *spi.Device satisfies this.
type Device interface {
	ReadBlock(index uint32, dst []byte) error
	WriteBlock(index uint32, src []byte) error
}

// Size is a build-time capacity preset, mirroring the compile-time
// MAX_FILES/CACHED_SECTORS choice a microcontroller target would make.
type Size struct {
	CacheSlots    int
	MaxOpenFiles  int
}

// Capacity presets for the three target classes this driver is scaled
// for: a tiny single-cache-slot/two-file board, a small board with a
// couple of cache slots and eight files, and a larger one with an
// eight-slot cache and 32 files.
var (
	Tiny  = Size{CacheSlots: 1, MaxOpenFiles: 2}
	Small = Size{CacheSlots: 2, MaxOpenFiles: 8}
	Large = Size{CacheSlots: 8, MaxOpenFiles: 32}
)

// Fs is the single explicit aggregate carrying every piece of process-wide
// mutable state this driver needs: mount flag, geometry, the directory
// cursor, the open-file table, and the block cache. Keeping it as one
// value threaded through every operation (rather than package-level
// globals) is deliberate, so nothing prevents mounting more than one card
// from the same program if a caller ever wants to.
type Fs struct {
	log *slog.Logger

	dev   Device
	cache *cache.Cache

	mounted bool
	geo     Geometry

	currentDirFirstCluster uint32

	openTable []openFile
}

// New creates an unmounted filesystem handle sized per size, talking to
// dev beneath its block cache. log may be nil.
func New(dev Device, size Size, log *slog.Logger) *Fs {
	return &Fs{
		log:       log,
		dev:       dev,
		cache:     cache.New(dev, size.CacheSlots, log),
		openTable: make([]openFile, size.MaxOpenFiles),
	}
}

const slogLevelTrace = slog.LevelDebug - 2

func (fs *Fs) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if fs.log != nil {
		fs.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
func (fs *Fs) trace(msg string, attrs ...slog.Attr)   { fs.logattrs(slogLevelTrace, msg, attrs...) }
func (fs *Fs) debug(msg string, attrs ...slog.Attr)    { fs.logattrs(slog.LevelDebug, msg, attrs...) }
func (fs *Fs) logerror(msg string, attrs ...slog.Attr) { fs.logattrs(slog.LevelError, msg, attrs...) }

// Mount discovers the FAT32 partition, validates its volume ID and (if
// present) FS info block, clears the open-file table, and sets the
// current directory to root.
func (fs *Fs) Mount() error {
	geo, err := mountGeometry(fs.dev)
	if err != nil {
		fs.logerror("mount failed", slog.String("err", err.Error()))
		return err
	}
	fs.geo = geo
	fs.currentDirFirstCluster = geo.RootCluster
	for i := range fs.openTable {
		fs.openTable[i] = openFile{}
	}
	fs.mounted = true
	fs.debug("mounted", slog.Uint64("root_cluster", uint64(geo.RootCluster)))
	return nil
}

// Unmount closes any still-open cursors, writes the free-cluster count and
// next-free hint back to the FS info block whenever that block is tracked,
// flushes all dirty cache slots, and marks the filesystem unmounted.
func (fs *Fs) Unmount() error {
	if !fs.mounted {
		return errkind.FSNotMounted
	}
	for id := range fs.openTable {
		if fs.openTable[id].inUse {
			fs.closeFile(id)
		}
	}
	if fs.geo.FSInfoTracked() {
		if err := fs.writeBackFSInfo(); err != nil {
			fs.logerror("fsinfo writeback failed", slog.String("err", err.Error()))
		}
	}
	err := fs.cache.Flush()
	fs.mounted = false
	return err
}

func (fs *Fs) writeBackFSInfo() error {
	var block [sectorSize]byte
	if err := fs.cache.ReadPartial(fs.geo.FSInfoSector, 0, block[:]); err != nil {
		return err
	}
	fsi := fsInfoSector{data: block[:]}
	fsi.setFreeCount(fs.geo.FreeClusters)
	fsi.setNextFree(fs.geo.NextFreeHint)
	return fs.cache.WritePartial(fs.geo.FSInfoSector, 0, block[:])
}

func (fs *Fs) requireMounted() error {
	if !fs.mounted {
		return errkind.FSNotMounted
	}
	return nil
}

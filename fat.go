package sdfat

import (
	"encoding/binary"

	"github.com/nimblefs/sdfat/errkind"
)

// endOfChainMarker is written into a FAT entry to terminate a chain. Per
// the open question in the design notes, the full 32 bits are overwritten;
// a conformant implementation would preserve the reserved upper 4 bits
// with a read-modify-write instead (see DESIGN.md).
const endOfChainMarker uint32 = 0x0FFFFFFF

// nextCluster reads the FAT entry for cluster and returns the cluster it
// chains to. If cluster is itself an end-of-chain value, it returns
// CLUSTER_LOOKUP without touching the device.
func (fs *Fs) nextCluster(cluster uint32) (uint32, error) {
	if isEndOfChain(cluster) {
		return 0, errkind.ClusterLookup
	}
	return fs.readFATRaw(cluster)
}

// setClusterEntry writes v into cluster's entry in every FAT copy.
func (fs *Fs) setClusterEntry(cluster, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	offset := fs.geo.fatOffsetOf(cluster)
	base := fs.geo.fatSectorOf(cluster)
	for i := uint8(0); i < fs.geo.NumFATs; i++ {
		sector := base + uint32(i)*fs.geo.SectorsPerFAT
		if err := fs.cache.WritePartial(sector, offset, buf[:]); err != nil {
			return err
		}
	}
	return nil
}

// findFreeFrom linear-probes the FAT starting at hint+1, wrapping to
// cluster 3 (2 is root and reserved), until a free (0) entry is found or
// the search wraps back to hint. A hint outside [3, table size), which the
// probe never revisits, ends the search at the table's last entry instead.
func (fs *Fs) findFreeFrom(hint uint32) (uint32, error) {
	total := fs.geo.SectorsPerFAT * uint32(fs.geo.BytesPerSector) / 4
	if hint < 3 || hint >= total {
		hint = total - 1
	}
	cur := hint + 1
	for {
		if cur >= total {
			cur = 3
		}
		v, err := fs.readFATRaw(cur)
		if err != nil {
			return 0, err
		}
		if v == 0 {
			return cur, nil
		}
		if cur == hint {
			return 0, errkind.Full
		}
		cur++
	}
}

// readFATRaw reads a FAT entry without treating end-of-chain specially,
// for use by nextCluster and the free-cluster scan.
func (fs *Fs) readFATRaw(cluster uint32) (uint32, error) {
	var buf [4]byte
	sector := fs.geo.fatSectorOf(cluster)
	offset := fs.geo.fatOffsetOf(cluster)
	if err := fs.cache.ReadPartial(sector, offset, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// appendCluster walks anyClusterInChain to its tail, allocates a free
// cluster, writes end-of-chain into it, and links the old tail to it.
// Returns the newly-allocated cluster.
func (fs *Fs) appendCluster(anyClusterInChain uint32) (uint32, error) {
	tail := anyClusterInChain
	next, err := fs.readFATRaw(tail)
	if err != nil {
		return 0, err
	}
	for !isEndOfChain(next) {
		tail = next
		next, err = fs.readFATRaw(tail)
		if err != nil {
			return 0, err
		}
	}

	free, err := fs.findFreeFrom(fs.geo.NextFreeHint)
	if err != nil {
		return 0, err
	}
	if err := fs.setClusterEntry(free, endOfChainMarker); err != nil {
		return 0, err
	}
	if err := fs.setClusterEntry(tail, free); err != nil {
		return 0, err
	}
	fs.geo.NextFreeHint = free
	if fs.geo.FSInfoTracked() && fs.geo.FreeClusters != freeCountUnknown && fs.geo.FreeClusters > 0 {
		fs.geo.FreeClusters--
	}
	return free, nil
}

// allocCluster finds a single free cluster, marks it end-of-chain, and
// zero-fills it. It does not link it into any existing chain; callers
// that are extending a chain should use appendCluster instead.
func (fs *Fs) allocCluster() (uint32, error) {
	free, err := fs.findFreeFrom(fs.geo.NextFreeHint)
	if err != nil {
		return 0, err
	}
	if err := fs.setClusterEntry(free, endOfChainMarker); err != nil {
		return 0, err
	}
	if err := fs.zeroCluster(free); err != nil {
		return 0, err
	}
	fs.geo.NextFreeHint = free
	if fs.geo.FSInfoTracked() && fs.geo.FreeClusters != freeCountUnknown && fs.geo.FreeClusters > 0 {
		fs.geo.FreeClusters--
	}
	return free, nil
}

// freeChain walks first's chain writing 0 to every entry. An
// already-empty chain (first already end-of-chain) is a no-op success.
func (fs *Fs) freeChain(first uint32) error {
	cluster := first
	var count uint32
	for !isEndOfChain(cluster) {
		next, err := fs.nextCluster(cluster)
		atTail := err == errkind.ClusterLookup
		if err != nil && !atTail {
			return err
		}
		if err := fs.setClusterEntry(cluster, 0); err != nil {
			return err
		}
		count++
		if atTail {
			break
		}
		cluster = next
	}
	if fs.geo.FSInfoTracked() && fs.geo.FreeClusters != freeCountUnknown {
		fs.geo.FreeClusters += count
	}
	return nil
}

// zeroCluster fills every sector of cluster with zero bytes, used when
// extending a directory with a freshly allocated cluster.
func (fs *Fs) zeroCluster(cluster uint32) error {
	var zero [sectorSize]byte
	first := fs.geo.clusterToSector(cluster)
	for i := uint16(0); i < fs.geo.SectorsPerClus; i++ {
		if err := fs.cache.WritePartial(first+uint32(i), 0, zero[:]); err != nil {
			return err
		}
	}
	return nil
}

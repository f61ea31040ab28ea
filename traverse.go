package sdfat

import "github.com/nimblefs/sdfat/errkind"

const entriesPerSector = sectorSize / direntSize

var dotName = [11]byte{'.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}
var dotdotName = [11]byte{'.', '.', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' ', ' '}

// dirCursor walks the 32-byte directory entries of a cluster chain one at
// a time, crossing cluster boundaries transparently. It is always handed
// back to and advanced by the caller as a plain value: nothing here keeps
// a shared, hidden, process-wide position.
type dirCursor struct {
	cluster         uint32
	sectorInCluster uint16
	entryIndex      uint16
	exhausted       bool
}

// listFirst returns a cursor positioned at the first entry of the
// directory starting at dirFirstCluster.
func (fs *Fs) listFirst(dirFirstCluster uint32) dirCursor {
	return dirCursor{cluster: dirFirstCluster}
}

// listNext reads the entry currently under cur, advances cur past it, and
// returns the entry. Deleted slots are skipped transparently. Once the
// end-of-directory marker is reached, this and every subsequent call
// return errkind.EndOfDir.
func (fs *Fs) listNext(cur *dirCursor) (CondensedEntry, error) {
	if cur.exhausted {
		return CondensedEntry{}, errkind.EndOfDir
	}
	for {
		sector := fs.geo.clusterToSector(cur.cluster) + uint32(cur.sectorInCluster)
		raw, err := fs.readDirentRaw(sector, cur.entryIndex)
		if err != nil {
			return CondensedEntry{}, err
		}
		d := dirent{data: raw}
		if d.nameBytes()[0] == deEndOfDir {
			cur.exhausted = true
			return CondensedEntry{}, errkind.EndOfDir
		}
		deleted := d.nameBytes()[0] == deFreeDeleted
		entry := d.condense()
		if err := fs.advanceCursor(cur); err != nil {
			return CondensedEntry{}, err
		}
		if deleted {
			if cur.exhausted {
				return CondensedEntry{}, errkind.EndOfDir
			}
			continue
		}
		return entry, nil
	}
}

func (fs *Fs) advanceCursor(cur *dirCursor) error {
	cur.entryIndex++
	if cur.entryIndex < entriesPerSector {
		return nil
	}
	cur.entryIndex = 0
	cur.sectorInCluster++
	if cur.sectorInCluster < fs.geo.SectorsPerClus {
		return nil
	}
	cur.sectorInCluster = 0
	next, err := fs.readFATRaw(cur.cluster)
	if err != nil {
		return err
	}
	if isEndOfChain(next) {
		cur.exhausted = true
		return nil
	}
	cur.cluster = next
	return nil
}

// findEntry locates name within the directory starting at dirFirstCluster,
// returning the absolute sector and in-sector index of its entry so the
// caller can update or delete it in place.
func (fs *Fs) findEntry(dirFirstCluster uint32, name [11]byte) (uint32, uint16, CondensedEntry, error) {
	cur := fs.listFirst(dirFirstCluster)
	for !cur.exhausted {
		sector := fs.geo.clusterToSector(cur.cluster) + uint32(cur.sectorInCluster)
		idx := cur.entryIndex
		raw, err := fs.readDirentRaw(sector, idx)
		if err != nil {
			return 0, 0, CondensedEntry{}, err
		}
		d := dirent{data: raw}
		if d.nameBytes()[0] == deEndOfDir {
			break
		}
		if d.nameBytes()[0] != deFreeDeleted {
			if entry := d.condense(); entry.Name == name {
				return sector, idx, entry, nil
			}
		}
		if err := fs.advanceCursor(&cur); err != nil {
			return 0, 0, CondensedEntry{}, err
		}
	}
	return 0, 0, CondensedEntry{}, errkind.NotFound
}

// allocDirEntry finds the first free (deleted or end-of-directory) slot in
// the directory starting at dirFirstCluster, extending it with a freshly
// zeroed cluster if every existing slot is occupied.
func (fs *Fs) allocDirEntry(dirFirstCluster uint32) (uint32, uint16, error) {
	cluster := dirFirstCluster
	for {
		for s := uint16(0); s < fs.geo.SectorsPerClus; s++ {
			sector := fs.geo.clusterToSector(cluster) + uint32(s)
			for i := uint16(0); i < entriesPerSector; i++ {
				raw, err := fs.readDirentRaw(sector, i)
				if err != nil {
					return 0, 0, err
				}
				if raw[deName] == deEndOfDir || raw[deName] == deFreeDeleted {
					return sector, i, nil
				}
			}
		}
		next, err := fs.readFATRaw(cluster)
		if err != nil {
			return 0, 0, err
		}
		if isEndOfChain(next) {
			newCluster, aerr := fs.appendCluster(cluster)
			if aerr != nil {
				return 0, 0, aerr
			}
			if err := fs.zeroCluster(newCluster); err != nil {
				return 0, 0, err
			}
			cluster = newCluster
			continue
		}
		cluster = next
	}
}

// writeNewEntry synthesizes a fresh 32-byte directory entry at sector/idx.
func (fs *Fs) writeNewEntry(sector uint32, idx uint16, name [11]byte, isDir bool, firstCluster uint32) error {
	d := dirent{data: make([]byte, direntSize)}
	copy(d.nameBytes(), name[:])
	if isDir {
		d.setAttrib(attrDir)
	} else {
		d.setAttrib(attrArchive)
	}
	d.writeFiller(isDir)
	d.setFirstCluster(firstCluster)
	d.setFileSize(0)
	return fs.putDirentRaw(sector, idx, d.data)
}

func (fs *Fs) readDirentRaw(sector uint32, idx uint16) ([]byte, error) {
	buf := make([]byte, direntSize)
	if err := fs.cache.ReadPartial(sector, idx*direntSize, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (fs *Fs) putDirentRaw(sector uint32, idx uint16, data []byte) error {
	return fs.cache.WritePartial(sector, idx*direntSize, data)
}

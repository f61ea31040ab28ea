package sdfat

import "github.com/nimblefs/sdfat/errkind"

// FileMode selects how Open attaches a handle to a name.
type FileMode int

const (
	// ReadOnly requires the file to already exist and rejects writes.
	ReadOnly FileMode = iota
	// ReadWrite creates the file if it does not already exist, and
	// positions the cursor at the start.
	ReadWrite
	// Append requires the file to already exist, and positions the
	// cursor at its current end.
	Append
)

// Whence values for Seek, matching io.Seeker's.
const (
	SeekStart   = 0
	SeekCurrent = 1
	SeekEnd     = 2
)

// openFile is one live entry of the fixed-size open-file table: the
// directory-entry location backing it, and a cursor (current cluster,
// sector within it, and byte offset within that sector) kept in sync with
// seekOffset so sequential reads and writes don't re-walk the FAT chain
// from the start on every call.
type openFile struct {
	inUse bool
	mode  FileMode

	dirSector uint32
	dirIndex  uint16

	firstCluster uint32
	size         uint32

	seekOffset      uint32
	currentCluster  uint32
	sectorInCluster uint16
	offsetInSector  uint16
}

// Open attaches name, resolved within the current directory, to a file
// handle. Returns TOO_MANY_FILES if the open-file table is full, and
// ALREADY_OPEN if some other handle already has this exact file open.
func (fs *Fs) Open(name string, mode FileMode) (int, error) {
	if err := fs.requireMounted(); err != nil {
		return 0, err
	}
	enc, err := encodeName8_3(name, false)
	if err != nil {
		return 0, err
	}

	id := -1
	for i := range fs.openTable {
		if !fs.openTable[i].inUse {
			id = i
			break
		}
	}
	if id == -1 {
		return 0, errkind.TooManyFiles
	}

	sector, idx, entry, err := fs.findEntry(fs.currentDirFirstCluster, enc)
	switch {
	case err == errkind.NotFound && mode == ReadWrite:
		sector, idx, err = fs.allocDirEntry(fs.currentDirFirstCluster)
		if err != nil {
			return 0, err
		}
		if err := fs.writeNewEntry(sector, idx, enc, false, 0); err != nil {
			return 0, err
		}
		entry = CondensedEntry{Name: enc}
	case err != nil:
		return 0, err
	case entry.IsDir:
		return 0, errkind.NotFile
	}

	for i := range fs.openTable {
		if fs.openTable[i].inUse && fs.openTable[i].dirSector == sector && fs.openTable[i].dirIndex == idx {
			return 0, errkind.AlreadyOpen
		}
	}

	fs.openTable[id] = openFile{
		inUse:          true,
		mode:           mode,
		dirSector:      sector,
		dirIndex:       idx,
		firstCluster:   entry.FirstCluster,
		size:           entry.FileSize,
		currentCluster: entry.FirstCluster,
	}
	if mode == Append {
		if _, err := fs.Seek(id, 0, SeekEnd); err != nil {
			fs.openTable[id] = openFile{}
			return 0, err
		}
	}
	return id, nil
}

func (fs *Fs) file(id int) (*openFile, error) {
	if err := fs.requireMounted(); err != nil {
		return nil, err
	}
	if id < 0 || id >= len(fs.openTable) {
		return nil, errkind.BadFileID
	}
	f := &fs.openTable[id]
	if !f.inUse {
		return nil, errkind.NotOpen
	}
	return f, nil
}

// Close writes handle id's possibly-changed size and first cluster back to
// its directory entry and releases its table slot.
func (fs *Fs) Close(id int) error {
	if _, err := fs.file(id); err != nil {
		return err
	}
	return fs.closeFile(id)
}

// closeFile is Close without the public bounds/state checks, so Unmount
// can drive it directly over every still-open slot.
func (fs *Fs) closeFile(id int) error {
	f := &fs.openTable[id]
	if !f.inUse {
		return errkind.NotOpen
	}
	err := fs.writeBackDirEntry(f)
	fs.openTable[id] = openFile{}
	return err
}

func (fs *Fs) writeBackDirEntry(f *openFile) error {
	raw, err := fs.readDirentRaw(f.dirSector, f.dirIndex)
	if err != nil {
		return err
	}
	d := dirent{data: raw}
	d.setFirstCluster(f.firstCluster)
	d.setFileSize(f.size)
	return fs.putDirentRaw(f.dirSector, f.dirIndex, raw)
}

// Tell returns handle id's current seek offset.
func (fs *Fs) Tell(id int) (int64, error) {
	f, err := fs.file(id)
	if err != nil {
		return 0, err
	}
	return int64(f.seekOffset), nil
}

// Size returns the byte length recorded for handle id.
func (fs *Fs) Size(id int) (uint32, error) {
	f, err := fs.file(id)
	if err != nil {
		return 0, err
	}
	return f.size, nil
}

// Seek repositions handle id's cursor and returns the new offset.
// SEEK_TOO_FAR is returned for any target outside [0, size] — this driver
// does not support seeking past end-of-file to create a sparse hole.
func (fs *Fs) Seek(id int, offset int64, whence int) (int64, error) {
	f, err := fs.file(id)
	if err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case SeekStart:
		base = 0
	case SeekCurrent:
		base = int64(f.seekOffset)
	case SeekEnd:
		base = int64(f.size)
	default:
		return 0, errkind.SeekTooFar
	}
	target := base + offset
	if target < 0 || target > int64(f.size) {
		return 0, errkind.SeekTooFar
	}
	if err := fs.positionCursor(f, uint32(target)); err != nil {
		return 0, err
	}
	return target, nil
}

// positionCursor walks from the file's first cluster to locate the
// cluster/sector/offset for byte position target.
func (fs *Fs) positionCursor(f *openFile, target uint32) error {
	f.seekOffset = target
	if f.firstCluster == 0 {
		f.currentCluster, f.sectorInCluster, f.offsetInSector = 0, 0, 0
		return nil
	}
	bytesPerCluster := uint32(fs.geo.SectorsPerClus) * uint32(fs.geo.BytesPerSector)
	clustersToSkip := target / bytesPerCluster
	within := target % bytesPerCluster

	cluster := f.firstCluster
	for i := uint32(0); i < clustersToSkip; i++ {
		next, err := fs.nextCluster(cluster)
		if err != nil {
			return err
		}
		cluster = next
	}
	f.currentCluster = cluster
	f.sectorInCluster = uint16(within / uint32(fs.geo.BytesPerSector))
	f.offsetInSector = uint16(within % uint32(fs.geo.BytesPerSector))
	return nil
}

// advanceFileCursor moves f's cursor forward by count bytes, allocating
// and zeroing a new cluster if it runs off the end of the chain.
func (fs *Fs) advanceFileCursor(f *openFile, count uint32) error {
	f.seekOffset += count
	newOffset := uint32(f.offsetInSector) + count
	for newOffset >= uint32(fs.geo.BytesPerSector) {
		newOffset -= uint32(fs.geo.BytesPerSector)
		f.sectorInCluster++
		if f.sectorInCluster < fs.geo.SectorsPerClus {
			continue
		}
		f.sectorInCluster = 0
		next, err := fs.readFATRaw(f.currentCluster)
		if err != nil {
			return err
		}
		if isEndOfChain(next) {
			newCluster, aerr := fs.appendCluster(f.currentCluster)
			if aerr != nil {
				return aerr
			}
			if err := fs.zeroCluster(newCluster); err != nil {
				return err
			}
			f.currentCluster = newCluster
			continue
		}
		f.currentCluster = next
	}
	f.offsetInSector = uint16(newOffset)
	return nil
}

// Read copies up to len(p) bytes starting at handle id's cursor, clamped
// to the file's recorded size, and returns the number of bytes copied.
func (fs *Fs) Read(id int, p []byte) (int, error) {
	f, err := fs.file(id)
	if err != nil {
		return 0, err
	}
	remaining := f.size - f.seekOffset
	if uint32(len(p)) > remaining {
		p = p[:remaining]
	}
	n := 0
	for n < len(p) {
		sector := fs.geo.clusterToSector(f.currentCluster) + uint32(f.sectorInCluster)
		chunk := int(fs.geo.BytesPerSector) - int(f.offsetInSector)
		if chunk > len(p)-n {
			chunk = len(p) - n
		}
		if err := fs.cache.ReadPartial(sector, f.offsetInSector, p[n:n+chunk]); err != nil {
			return n, err
		}
		n += chunk
		if err := fs.advanceFileCursor(f, uint32(chunk)); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Write copies p to handle id's cursor position, allocating clusters as
// needed, and extends the recorded size if the cursor ran past the
// previous end-of-data.
func (fs *Fs) Write(id int, p []byte) (int, error) {
	f, err := fs.file(id)
	if err != nil {
		return 0, err
	}
	if f.mode == ReadOnly {
		return 0, errkind.FileReadOnly
	}
	if len(p) == 0 {
		return 0, nil
	}
	if f.firstCluster == 0 {
		free, err := fs.allocCluster()
		if err != nil {
			return 0, err
		}
		f.firstCluster = free
		f.currentCluster = free
	} else if isEndOfChain(f.currentCluster) {
		// Seeked to a size that ends exactly on the chain's last cluster.
		newCluster, err := fs.appendCluster(f.firstCluster)
		if err != nil {
			return 0, err
		}
		if err := fs.zeroCluster(newCluster); err != nil {
			return 0, err
		}
		f.currentCluster = newCluster
	}

	n := 0
	for n < len(p) {
		sector := fs.geo.clusterToSector(f.currentCluster) + uint32(f.sectorInCluster)
		chunk := int(fs.geo.BytesPerSector) - int(f.offsetInSector)
		if chunk > len(p)-n {
			chunk = len(p) - n
		}
		if err := fs.cache.WritePartial(sector, f.offsetInSector, p[n:n+chunk]); err != nil {
			return n, err
		}
		n += chunk
		if err := fs.advanceFileCursor(f, uint32(chunk)); err != nil {
			return n, err
		}
		if f.seekOffset > f.size {
			f.size = f.seekOffset
		}
	}
	return n, nil
}

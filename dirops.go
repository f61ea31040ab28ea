package sdfat

import "github.com/nimblefs/sdfat/errkind"

// DirEntry is the public, human-readable form of a listed directory entry.
type DirEntry struct {
	Name  string
	IsDir bool
	Size  uint32
}

// List returns every live entry of the current directory, in on-disk
// order, including "." and "..".
func (fs *Fs) List() ([]DirEntry, error) {
	if err := fs.requireMounted(); err != nil {
		return nil, err
	}
	var out []DirEntry
	cur := fs.listFirst(fs.currentDirFirstCluster)
	for {
		entry, err := fs.listNext(&cur)
		if err == errkind.EndOfDir {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, DirEntry{
			Name:  decodeName8_3(entry.Name),
			IsDir: entry.IsDir,
			Size:  entry.FileSize,
		})
	}
}

// Exists reports whether name (file or directory) is present in the
// current directory.
func (fs *Fs) Exists(name string) (bool, error) {
	if err := fs.requireMounted(); err != nil {
		return false, err
	}
	enc, err := encodeName8_3(name, false)
	if err != nil {
		enc, err = encodeName8_3(name, true)
		if err != nil {
			return false, err
		}
	}
	_, _, _, err = fs.findEntry(fs.currentDirFirstCluster, enc)
	switch err {
	case nil:
		return true, nil
	case errkind.NotFound:
		return false, nil
	default:
		return false, err
	}
}

// Mkdir creates an empty subdirectory of the current directory, with
// synthesized "." and ".." entries. The new directory's ".." points at
// cluster 0 when the current directory is the root, matching how FAT32
// itself cannot name the root by its real cluster number there.
func (fs *Fs) Mkdir(name string) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}
	enc, err := encodeName8_3(name, true)
	if err != nil {
		return err
	}
	if _, _, _, ferr := fs.findEntry(fs.currentDirFirstCluster, enc); ferr != errkind.NotFound {
		if ferr == nil {
			return errkind.AlreadyExists
		}
		return ferr
	}

	free, err := fs.allocCluster()
	if err != nil {
		return err
	}

	sector0 := fs.geo.clusterToSector(free)
	parentRef := fs.currentDirFirstCluster
	if parentRef == fs.geo.RootCluster {
		parentRef = 0
	}
	if err := fs.writeNewEntry(sector0, 0, dotName, true, free); err != nil {
		return err
	}
	if err := fs.writeNewEntry(sector0, 1, dotdotName, true, parentRef); err != nil {
		return err
	}

	sector, idx, err := fs.allocDirEntry(fs.currentDirFirstCluster)
	if err != nil {
		return err
	}
	return fs.writeNewEntry(sector, idx, enc, true, free)
}

// Rmdir removes an empty subdirectory of the current directory.
// NOT_EMPTY is returned if it holds anything besides "." and "..".
func (fs *Fs) Rmdir(name string) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}
	enc, err := encodeName8_3(name, true)
	if err != nil {
		return err
	}
	sector, idx, entry, err := fs.findEntry(fs.currentDirFirstCluster, enc)
	if err != nil {
		return err
	}
	if !entry.IsDir {
		return errkind.NotDir
	}
	empty, err := fs.dirIsEmpty(entry.FirstCluster)
	if err != nil {
		return err
	}
	if !empty {
		return errkind.NotEmpty
	}
	if err := fs.freeChain(entry.FirstCluster); err != nil {
		return err
	}
	return fs.markDeletedAt(sector, idx)
}

func (fs *Fs) dirIsEmpty(dirFirstCluster uint32) (bool, error) {
	cur := fs.listFirst(dirFirstCluster)
	for {
		entry, err := fs.listNext(&cur)
		if err == errkind.EndOfDir {
			return true, nil
		}
		if err != nil {
			return false, err
		}
		if entry.Name != dotName && entry.Name != dotdotName {
			return false, nil
		}
	}
}

// Delete removes a file (not a directory) from the current directory.
// ALREADY_OPEN is returned if some handle still has it open.
func (fs *Fs) Delete(name string) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}
	enc, err := encodeName8_3(name, false)
	if err != nil {
		return err
	}
	sector, idx, entry, err := fs.findEntry(fs.currentDirFirstCluster, enc)
	if err != nil {
		return err
	}
	if entry.IsDir {
		return errkind.NotFile
	}
	for i := range fs.openTable {
		if fs.openTable[i].inUse && fs.openTable[i].dirSector == sector && fs.openTable[i].dirIndex == idx {
			return errkind.AlreadyOpen
		}
	}
	if entry.FirstCluster != 0 {
		if err := fs.freeChain(entry.FirstCluster); err != nil {
			return err
		}
	}
	return fs.markDeletedAt(sector, idx)
}

func (fs *Fs) markDeletedAt(sector uint32, idx uint16) error {
	raw, err := fs.readDirentRaw(sector, idx)
	if err != nil {
		return err
	}
	dirent{data: raw}.markDeleted()
	return fs.putDirentRaw(sector, idx, raw)
}

// Pushd changes the current directory to the named subdirectory of it. A
// target of cluster 0 (how a directory's ".." entry spells "root") is
// rewritten to the real root cluster, since cluster 0 is never itself a
// valid cluster number to address.
func (fs *Fs) Pushd(name string) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}
	enc, err := encodeName8_3(name, true)
	if err != nil {
		return err
	}
	_, _, entry, err := fs.findEntry(fs.currentDirFirstCluster, enc)
	if err != nil {
		return err
	}
	if !entry.IsDir {
		return errkind.NotDir
	}
	target := entry.FirstCluster
	if target == 0 {
		target = fs.geo.RootCluster
	}
	fs.currentDirFirstCluster = target
	return nil
}

// Popd changes the current directory to its parent, following "..".
// Returns AT_ROOT if the current directory already is the root.
func (fs *Fs) Popd() error {
	if err := fs.requireMounted(); err != nil {
		return err
	}
	if fs.currentDirFirstCluster == fs.geo.RootCluster {
		return errkind.AtRoot
	}
	return fs.Pushd("..")
}

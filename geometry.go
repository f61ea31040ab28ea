package sdfat

import (
	"encoding/binary"

	"github.com/nimblefs/sdfat/errkind"
	"github.com/nimblefs/sdfat/internal/mbr"
)

const sectorSize = 512

// Byte offsets within the volume ID sector (the partition's first sector).
const (
	volBytesPerSector   = 11
	volSectorsPerClus   = 13
	volReservedSectors  = 14
	volNumberOfFATs     = 16
	volFAT16RootEntries = 17
	volFAT16Sectors     = 19
	volFAT16SectorsPer  = 22
	volHiddenSectors    = 28
	volFAT32Sectors     = 32
	volFAT32SectorsPer  = 36
	volRootCluster      = 44
	volFSInfoSector     = 48
	volSystemID         = 82
	volEndSignatureOff  = 510
)

// volumeID is a byte-view over a FAT32 volume ID sector (the BIOS
// Parameter Block plus the FAT32-specific extension).
type volumeID struct{ data []byte }

func (v volumeID) bytesPerSector() uint16  { return binary.LittleEndian.Uint16(v.data[volBytesPerSector:]) }
func (v volumeID) sectorsPerCluster() uint8 { return v.data[volSectorsPerClus] }
func (v volumeID) reservedSectors() uint16 {
	return binary.LittleEndian.Uint16(v.data[volReservedSectors:])
}
func (v volumeID) numberOfFATs() uint8 { return v.data[volNumberOfFATs] }
func (v volumeID) fat16RootEntries() uint16 {
	return binary.LittleEndian.Uint16(v.data[volFAT16RootEntries:])
}
func (v volumeID) fat16Sectors() uint16 { return binary.LittleEndian.Uint16(v.data[volFAT16Sectors:]) }
func (v volumeID) fat16SectorsPerFAT() uint16 {
	return binary.LittleEndian.Uint16(v.data[volFAT16SectorsPer:])
}
func (v volumeID) hiddenSectors() uint32 { return binary.LittleEndian.Uint32(v.data[volHiddenSectors:]) }
func (v volumeID) fat32Sectors() uint32  { return binary.LittleEndian.Uint32(v.data[volFAT32Sectors:]) }
func (v volumeID) sectorsPerFAT() uint32 {
	return binary.LittleEndian.Uint32(v.data[volFAT32SectorsPer:])
}
func (v volumeID) rootCluster() uint32  { return binary.LittleEndian.Uint32(v.data[volRootCluster:]) }
func (v volumeID) fsInfoSector() uint16 { return binary.LittleEndian.Uint16(v.data[volFSInfoSector:]) }
func (v volumeID) systemID() []byte     { return v.data[volSystemID : volSystemID+8] }
func (v volumeID) endSignature() uint16 {
	return binary.LittleEndian.Uint16(v.data[volEndSignatureOff:])
}

// FS info sector offsets.
const (
	fsiLeadSignature   = 0
	fsiStructSignature = 484
	fsiFreeCount       = 488
	fsiNextFree        = 492
	fsiTrailSignature  = 510
)

const (
	fsiLeadSignatureValue  = 0x41615252
	fsiStructSignatureVal  = 0x61417272
	freeCountUnknown       = 0xFFFFFFFF
)

type fsInfoSector struct{ data []byte }

func (f fsInfoSector) leadSignature() uint32 {
	return binary.LittleEndian.Uint32(f.data[fsiLeadSignature:])
}
func (f fsInfoSector) structSignature() uint32 {
	return binary.LittleEndian.Uint32(f.data[fsiStructSignature:])
}
func (f fsInfoSector) trailSignature() uint16 {
	return binary.LittleEndian.Uint16(f.data[fsiTrailSignature:])
}
func (f fsInfoSector) freeCount() uint32 { return binary.LittleEndian.Uint32(f.data[fsiFreeCount:]) }
func (f fsInfoSector) nextFree() uint32  { return binary.LittleEndian.Uint32(f.data[fsiNextFree:]) }
func (f fsInfoSector) setFreeCount(v uint32) {
	binary.LittleEndian.PutUint32(f.data[fsiFreeCount:], v)
}
func (f fsInfoSector) setNextFree(v uint32) {
	binary.LittleEndian.PutUint32(f.data[fsiNextFree:], v)
}

// Geometry is the set of constants computed once at mount time that every
// later operation addresses the card through.
type Geometry struct {
	PartitionStart   uint32
	PartitionSectors uint32

	BytesPerSector  uint16
	SectorsPerClus  uint16
	NumFATs         uint8
	FirstFATSector  uint32
	SectorsPerFAT   uint32
	FirstDataSector uint32
	RootCluster     uint32

	FSInfoSector    uint32 // absolute sector, 0 if tracking disabled
	FreeClusters    uint32 // freeCountUnknown if not tracked
	NextFreeHint    uint32
}

// FSInfoTracked reports whether this mount has a usable FS info block.
func (g *Geometry) FSInfoTracked() bool { return g.FSInfoSector != 0 }

// clusterToSector converts a cluster number to its first physical sector.
func (g *Geometry) clusterToSector(cluster uint32) uint32 {
	return g.FirstDataSector + (cluster-2)*uint32(g.SectorsPerClus)
}

// fatSectorOf returns the absolute sector holding cluster's FAT entry.
func (g *Geometry) fatSectorOf(cluster uint32) uint32 {
	return g.FirstFATSector + cluster>>7
}

// fatOffsetOf returns the byte offset within that sector of cluster's entry.
func (g *Geometry) fatOffsetOf(cluster uint32) uint16 {
	return uint16(cluster&127) * 4
}

// isEndOfChain reports whether a FAT entry value marks the end of a chain:
// any value whose bits 4 through 27 are all set (0x0FFFFFF0-0x0FFFFFFF once
// the upper nibble is ignored), or any value less than 2.
func isEndOfChain(v uint32) bool {
	return v < 2 || v&0x0FFFFFF0 == 0x0FFFFFF0
}

// mountGeometry performs the on-disk discovery steps: read the MBR,
// locate the FAT32 partition, validate the volume ID, and (optionally)
// validate the FS info block.
func mountGeometry(dev sectorReader) (Geometry, error) {
	var block0 [sectorSize]byte
	if err := dev.ReadBlock(0, block0[:]); err != nil {
		return Geometry{}, errkind.MBR.Wrap(err)
	}
	bootSector, err := mbr.ToBootSector(block0[:])
	if err != nil {
		return Geometry{}, errkind.MBR.Wrap(err)
	}
	if bootSector.BootSignature() != mbr.BootSignature {
		return Geometry{}, errkind.MBR.WithMessage("missing 0xAA55 signature")
	}
	_, pte, ok := bootSector.FindFAT32()
	if !ok {
		return Geometry{}, errkind.NoFAT32
	}

	var volBlock [sectorSize]byte
	if err := dev.ReadBlock(pte.StartLBA(), volBlock[:]); err != nil {
		return Geometry{}, errkind.VolumeID.Wrap(err)
	}
	vol := volumeID{data: volBlock[:]}
	if err := validateVolumeID(vol); err != nil {
		return Geometry{}, err
	}

	g := Geometry{
		PartitionStart:   pte.StartLBA(),
		PartitionSectors: pte.NumberOfSectors(),
		BytesPerSector:   vol.bytesPerSector(),
		SectorsPerClus:   uint16(vol.sectorsPerCluster()),
		NumFATs:          vol.numberOfFATs(),
		FreeClusters:     freeCountUnknown,
		NextFreeHint:     2,
	}
	g.FirstFATSector = g.PartitionStart + vol.hiddenSectors() + uint32(vol.reservedSectors())
	g.SectorsPerFAT = vol.sectorsPerFAT()
	g.FirstDataSector = g.FirstFATSector + g.SectorsPerFAT*uint32(g.NumFATs)
	g.RootCluster = vol.rootCluster()

	fsInfoIdx := vol.fsInfoSector()
	if fsInfoIdx != 0 && fsInfoIdx != 0xFFFF {
		var fsiBlock [sectorSize]byte
		absSector := g.PartitionStart + uint32(fsInfoIdx)
		if err := dev.ReadBlock(absSector, fsiBlock[:]); err == nil {
			fsi := fsInfoSector{data: fsiBlock[:]}
			if fsi.leadSignature() == fsiLeadSignatureValue &&
				fsi.structSignature() == fsiStructSignatureVal &&
				fsi.trailSignature() == mbr.BootSignature {
				g.FSInfoSector = absSector
				g.FreeClusters = fsi.freeCount()
				g.NextFreeHint = fsi.nextFree()
				if g.NextFreeHint < 2 {
					g.NextFreeHint = 2
				}
			}
		}
	}

	return g, nil
}

func validateVolumeID(v volumeID) error {
	if v.bytesPerSector() != sectorSize {
		return errkind.VolumeID.WithMessage("bytes per sector != 512")
	}
	if v.numberOfFATs() != 2 {
		return errkind.VolumeID.WithMessage("number of FATs != 2")
	}
	if v.fat16RootEntries() != 0 || v.fat16Sectors() != 0 || v.fat16SectorsPerFAT() != 0 {
		return errkind.VolumeID.WithMessage("FAT16 fields are not all zero")
	}
	if string(v.systemID()[:6]) != "FAT32 " {
		return errkind.VolumeID.WithMessage(`system id is not "FAT32 "`)
	}
	if v.endSignature() != mbr.BootSignature {
		return errkind.VolumeID.WithMessage("missing 0xAA55 end signature")
	}
	return nil
}

// sectorReader is the narrow view of the underlying cache/device mount
// needs: whole-sector reads addressed by absolute sector number.
type sectorReader interface {
	ReadBlock(index uint32, dst []byte) error
}

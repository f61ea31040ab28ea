package sdfat

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/nimblefs/sdfat/errkind"
)

const (
	testSectorsPerFAT  = 8
	testPartitionStart = 1
	testReserved       = 32
	testDataClusters   = 64
)

// memDevice is an in-memory sector-addressed device, standing in for the
// SPI card beneath the block cache in these tests.
type memDevice struct {
	sectors [][sectorSize]byte
}

func (d *memDevice) ReadBlock(index uint32, dst []byte) error {
	if int(index) >= len(d.sectors) {
		return errors.New("memDevice: read past end")
	}
	copy(dst, d.sectors[index][:])
	return nil
}

func (d *memDevice) WriteBlock(index uint32, src []byte) error {
	if int(index) >= len(d.sectors) {
		return errors.New("memDevice: write past end")
	}
	copy(d.sectors[index][:], src)
	return nil
}

// newTestImage builds a minimal but valid single-partition FAT32 image: an
// MBR at sector 0, a FAT32 partition starting at sector 1 with a tracked
// FS info block, two FAT copies, and an empty root directory.
func newTestImage() *memDevice {
	firstFAT := uint32(testPartitionStart + testReserved)
	firstData := firstFAT + testSectorsPerFAT*2
	total := testPartitionStart + testReserved + testSectorsPerFAT*2 + testDataClusters

	dev := &memDevice{sectors: make([][sectorSize]byte, total)}

	mbr := dev.sectors[0][:]
	pte := mbr[446:462]
	pte[0] = 0x00
	pte[4] = 0x0C // FAT32LBA
	binary.LittleEndian.PutUint32(pte[8:], testPartitionStart)
	binary.LittleEndian.PutUint32(pte[12:], total-testPartitionStart)
	binary.LittleEndian.PutUint16(mbr[510:], 0xAA55)

	vol := dev.sectors[testPartitionStart][:]
	binary.LittleEndian.PutUint16(vol[volBytesPerSector:], sectorSize)
	vol[volSectorsPerClus] = 1
	binary.LittleEndian.PutUint16(vol[volReservedSectors:], testReserved)
	vol[volNumberOfFATs] = 2
	binary.LittleEndian.PutUint32(vol[volHiddenSectors:], 0)
	binary.LittleEndian.PutUint32(vol[volFAT32Sectors:], total-testPartitionStart)
	binary.LittleEndian.PutUint32(vol[volFAT32SectorsPer:], testSectorsPerFAT)
	binary.LittleEndian.PutUint32(vol[volRootCluster:], 2)
	binary.LittleEndian.PutUint16(vol[volFSInfoSector:], 1)
	copy(vol[volSystemID:], "FAT32   ")
	binary.LittleEndian.PutUint16(vol[volEndSignatureOff:], 0xAA55)

	fsi := dev.sectors[testPartitionStart+1][:]
	binary.LittleEndian.PutUint32(fsi[fsiLeadSignature:], fsiLeadSignatureValue)
	binary.LittleEndian.PutUint32(fsi[fsiStructSignature:], fsiStructSignatureVal)
	binary.LittleEndian.PutUint32(fsi[fsiFreeCount:], testDataClusters-1)
	binary.LittleEndian.PutUint32(fsi[fsiNextFree:], 2)
	binary.LittleEndian.PutUint16(fsi[fsiTrailSignature:], 0xAA55)

	// Mark the root directory's own cluster (2) end-of-chain in both FATs.
	for i := 0; i < 2; i++ {
		fat := dev.sectors[firstFAT+uint32(i)*testSectorsPerFAT][:]
		binary.LittleEndian.PutUint32(fat[2*4:], endOfChainMarker)
	}
	_ = firstData
	return dev
}

func mountedFs(t *testing.T) *Fs {
	t.Helper()
	dev := newTestImage()
	fs := New(dev, Small, nil)
	if err := fs.Mount(); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return fs
}

func TestMountEmptyRootListsNothing(t *testing.T) {
	fs := mountedFs(t)
	entries, err := fs.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty root, got %v", entries)
	}
}

func TestWriteCloseReopenReadRoundTrip(t *testing.T) {
	fs := mountedFs(t)

	id, err := fs.Open("hello.txt", ReadWrite)
	if err != nil {
		t.Fatalf("Open for write: %v", err)
	}
	if _, err := fs.Write(id, []byte("hello")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := fs.Close(id); err != nil {
		t.Fatalf("Close: %v", err)
	}

	id, err = fs.Open("hello.txt", ReadOnly)
	if err != nil {
		t.Fatalf("Open for read: %v", err)
	}
	buf := make([]byte, 16)
	n, err := fs.Read(id, buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "hello" {
		t.Fatalf("got %q, want hello", buf[:n])
	}
	if err := fs.Close(id); err != nil {
		t.Fatal(err)
	}
}

func TestOpenInjective(t *testing.T) {
	fs := mountedFs(t)
	id, err := fs.Open("a.txt", ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close(id)
	if _, err := fs.Open("a.txt", ReadWrite); !errors.Is(err, errkind.AlreadyOpen) {
		t.Fatalf("expected ALREADY_OPEN, got %v", err)
	}
}

func TestSizeMonotonicAcrossWrites(t *testing.T) {
	fs := mountedFs(t)
	id, err := fs.Open("grow.bin", ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	var prev uint32
	chunk := make([]byte, 100)
	for i := 0; i < 5; i++ {
		if _, err := fs.Write(id, chunk); err != nil {
			t.Fatal(err)
		}
		sz, err := fs.Size(id)
		if err != nil {
			t.Fatal(err)
		}
		if sz < prev {
			t.Fatalf("size went backwards: %d -> %d", prev, sz)
		}
		prev = sz
	}
	if prev != 500 {
		t.Fatalf("final size = %d, want 500", prev)
	}
	fs.Close(id)
}

func TestCrossClusterBoundaryAppend(t *testing.T) {
	fs := mountedFs(t)
	id, err := fs.Open("big.bin", ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	payload := make([]byte, sectorSize*3+17)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := fs.Write(id, payload)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(payload) {
		t.Fatalf("wrote %d, want %d", n, len(payload))
	}
	if err := fs.Close(id); err != nil {
		t.Fatal(err)
	}

	id, err = fs.Open("big.bin", ReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]byte, len(payload))
	total := 0
	for total < len(got) {
		n, err := fs.Read(id, got[total:])
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			t.Fatal("short read")
		}
		total += n
	}
	for i := range payload {
		if got[i] != payload[i] {
			t.Fatalf("mismatch at byte %d: got %d want %d", i, got[i], payload[i])
		}
	}
	fs.Close(id)
}

func TestSeekTellRoundTrip(t *testing.T) {
	fs := mountedFs(t)
	id, err := fs.Open("seek.bin", ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	fs.Write(id, []byte("0123456789"))

	if _, err := fs.Seek(id, 3, SeekStart); err != nil {
		t.Fatal(err)
	}
	pos, err := fs.Tell(id)
	if err != nil {
		t.Fatal(err)
	}
	if pos != 3 {
		t.Fatalf("Tell = %d, want 3", pos)
	}
	buf := make([]byte, 2)
	if _, err := fs.Read(id, buf); err != nil {
		t.Fatal(err)
	}
	if string(buf) != "34" {
		t.Fatalf("got %q, want 34", buf)
	}

	end, err := fs.Seek(id, 0, SeekEnd)
	if err != nil {
		t.Fatal(err)
	}
	if end != 10 {
		t.Fatalf("Seek(END) = %d, want 10", end)
	}
	fs.Close(id)
}

func TestDeleteFreesChainAndBumpsFreeCount(t *testing.T) {
	fs := mountedFs(t)
	id, err := fs.Open("gone.bin", ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	payload := make([]byte, sectorSize*2)
	fs.Write(id, payload)
	fs.Close(id)

	before := fs.geo.FreeClusters
	if err := fs.Delete("gone.bin"); err != nil {
		t.Fatal(err)
	}
	if fs.geo.FreeClusters <= before {
		t.Fatalf("expected free count to rise from %d, got %d", before, fs.geo.FreeClusters)
	}
	if ok, _ := fs.Exists("gone.bin"); ok {
		t.Fatal("deleted file still exists")
	}
}

func TestMkdirYieldsDotAndDotDot(t *testing.T) {
	fs := mountedFs(t)
	if err := fs.Mkdir("sub"); err != nil {
		t.Fatal(err)
	}
	if err := fs.Pushd("sub"); err != nil {
		t.Fatal(err)
	}
	entries, err := fs.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Name != "." || entries[1].Name != ".." {
		t.Fatalf("got %v, want [. ..]", entries)
	}
}

func TestPushdPopdRoundTrip(t *testing.T) {
	fs := mountedFs(t)
	root := fs.currentDirFirstCluster
	if err := fs.Mkdir("sub"); err != nil {
		t.Fatal(err)
	}
	if err := fs.Pushd("sub"); err != nil {
		t.Fatal(err)
	}
	if fs.currentDirFirstCluster == root {
		t.Fatal("Pushd did not change directory")
	}
	if err := fs.Popd(); err != nil {
		t.Fatal(err)
	}
	if fs.currentDirFirstCluster != root {
		t.Fatal("Popd did not return to root")
	}
	if err := fs.Popd(); !errors.Is(err, errkind.AtRoot) {
		t.Fatalf("expected AT_ROOT at root, got %v", err)
	}
}

func TestRmdirRejectsNonEmpty(t *testing.T) {
	fs := mountedFs(t)
	if err := fs.Mkdir("sub"); err != nil {
		t.Fatal(err)
	}
	if err := fs.Pushd("sub"); err != nil {
		t.Fatal(err)
	}
	id, err := fs.Open("f.txt", ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	fs.Close(id)
	if err := fs.Popd(); err != nil {
		t.Fatal(err)
	}
	if err := fs.Rmdir("sub"); !errors.Is(err, errkind.NotEmpty) {
		t.Fatalf("expected NOT_EMPTY, got %v", err)
	}
}

func TestMountUnmountFlushesDirtyData(t *testing.T) {
	dev := newTestImage()
	fs := New(dev, Small, nil)
	if err := fs.Mount(); err != nil {
		t.Fatal(err)
	}
	id, err := fs.Open("x.bin", ReadWrite)
	if err != nil {
		t.Fatal(err)
	}
	fs.Write(id, []byte("persisted"))
	fs.Close(id)
	if err := fs.Unmount(); err != nil {
		t.Fatal(err)
	}

	fs2 := New(dev, Small, nil)
	if err := fs2.Mount(); err != nil {
		t.Fatal(err)
	}
	id, err = fs2.Open("x.bin", ReadOnly)
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 16)
	n, err := fs2.Read(id, buf)
	if err != nil {
		t.Fatal(err)
	}
	if string(buf[:n]) != "persisted" {
		t.Fatalf("got %q after remount, want persisted", buf[:n])
	}
}

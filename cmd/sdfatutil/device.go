package main

import "os"

const blockSize = 512

// fileDevice implements sdfat.Device over a plain os.File, standing in for
// the SPI-attached card when exercising the driver from the command line.
type fileDevice struct {
	f *os.File
}

func openFileDevice(path string) (*fileDevice, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}
	return &fileDevice{f: f}, nil
}

func (d *fileDevice) ReadBlock(index uint32, dst []byte) error {
	_, err := d.f.ReadAt(dst[:blockSize], int64(index)*blockSize)
	return err
}

func (d *fileDevice) WriteBlock(index uint32, src []byte) error {
	_, err := d.f.WriteAt(src[:blockSize], int64(index)*blockSize)
	return err
}

func (d *fileDevice) Close() error {
	return d.f.Close()
}

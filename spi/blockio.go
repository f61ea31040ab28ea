package spi

import (
	"log/slog"

	"github.com/nimblefs/sdfat/errkind"
	"github.com/nimblefs/sdfat/internal/crc"
)

// blockAddress translates a block index to the address a command expects:
// SDHC cards take the block number directly, legacy SD cards take the byte
// offset (index × 512).
func (d *Device) blockAddress(index uint32) uint32 {
	if d.sdhc {
		return index
	}
	return index * blockLen
}

// ReadBlock reads 512 bytes from block index into dst (which must be at
// least 512 bytes long), applying the retry ladder on failure.
func (d *Device) ReadBlock(index uint32, dst []byte) error {
	if len(dst) < blockLen {
		return errkind.NullBuffer.WithMessage("destination shorter than one block")
	}
	return d.withRetry(func() error { return d.readBlockOnce(index, dst) })
}

func (d *Device) readBlockOnce(index uint32, dst []byte) error {
	d.trace("spi:read_block", slog.Uint64("index", uint64(index)))
	if _, err := d.sendCommand(cmdReadBlock, d.blockAddress(index)); err != nil {
		return errkind.Unknown.Wrap(err)
	}

	token, err := d.pollStartToken()
	if err != nil {
		return err
	}
	if token != startDataToken {
		return errkind.Unknown.WithMessage("expected start-data token")
	}

	d.t.Select(true)
	defer d.t.Select(false)
	if err := d.readBytes(dst[:blockLen]); err != nil {
		return errkind.Unknown.Wrap(err)
	}

	crcHi, err1 := d.t.ReadByte()
	crcLo, err2 := d.t.ReadByte()
	if err1 != nil || err2 != nil {
		return errkind.Unknown.WithMessage("failed reading trailing CRC bytes")
	}
	sentCRC := uint16(crcHi)<<8 | uint16(crcLo)
	d.lastCRC = sentCRC

	if d.crcEnabled {
		if got := crc.CCITT16(dst[:blockLen]); got != sentCRC {
			d.debug("spi:crc_mismatch", slog.Uint64("want", uint64(got)), slog.Uint64("got", uint64(sentCRC)))
			return errkind.CRC
		}
	}
	return nil
}

// ReadBlockCRCOnly reads block index and returns its CRC without retaining
// the block data, streaming each byte through the incremental accumulator.
func (d *Device) ReadBlockCRCOnly(index uint32) (uint16, error) {
	var result uint16
	err := d.withRetry(func() error {
		v, err := d.readBlockCRCOnlyOnce(index)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

func (d *Device) readBlockCRCOnlyOnce(index uint32) (uint16, error) {
	if _, err := d.sendCommand(cmdReadBlock, d.blockAddress(index)); err != nil {
		return 0, errkind.Unknown.Wrap(err)
	}
	token, err := d.pollStartToken()
	if err != nil {
		return 0, err
	}
	if token != startDataToken {
		return 0, errkind.Unknown.WithMessage("expected start-data token")
	}

	d.t.Select(true)
	defer d.t.Select(false)
	var acc crc.Block16
	for i := 0; i < blockLen; i++ {
		b, err := d.t.ReadByte()
		if err != nil {
			return 0, errkind.Unknown.Wrap(err)
		}
		acc.Add(b)
	}
	crcHi, err1 := d.t.ReadByte()
	crcLo, err2 := d.t.ReadByte()
	if err1 != nil || err2 != nil {
		return 0, errkind.Unknown.WithMessage("failed reading trailing CRC bytes")
	}
	sentCRC := uint16(crcHi)<<8 | uint16(crcLo)
	d.lastCRC = sentCRC

	if d.crcEnabled && acc.Sum() != sentCRC {
		return 0, errkind.CRC
	}
	return sentCRC, nil
}

// pollStartToken polls for a non-idle response byte within the read-block
// timeout budget, treating exhaustion as a Timeout.
func (d *Device) pollStartToken() (byte, error) {
	d.t.Select(true)
	defer d.t.Select(false)
	for i := 0; i < readTokenTimeout; i++ {
		b, err := d.t.ReadByte()
		if err != nil {
			return 0, errkind.Unknown.Wrap(err)
		}
		if b != 0xFF && b != 0x00 {
			return b, nil
		}
	}
	return 0, errkind.Timeout
}

// WriteBlock writes 512 bytes from src to block index, applying the retry
// ladder on failure.
func (d *Device) WriteBlock(index uint32, src []byte) error {
	if len(src) < blockLen {
		return errkind.NullBuffer.WithMessage("source shorter than one block")
	}
	return d.withRetry(func() error { return d.writeBlockOnce(index, src) })
}

func (d *Device) writeBlockOnce(index uint32, src []byte) error {
	d.trace("spi:write_block", slog.Uint64("index", uint64(index)))
	var wireCRC uint16
	if d.crcEnabled {
		wireCRC = crc.CCITT16(src[:blockLen])
	} else {
		wireCRC = 0xFFFF
	}

	resp, err := d.sendCommand(cmdWriteBlock, d.blockAddress(index))
	if err != nil {
		return errkind.Unknown.Wrap(err)
	}
	if resp != 0x00 {
		return errkind.Unknown.WithMessage("card rejected CMD24")
	}

	d.t.Select(true)
	d.t.ReadByte()
	d.t.WriteByte(startDataToken)
	if err := d.writeBytes(src[:blockLen]); err != nil {
		d.t.Select(false)
		return errkind.Unknown.Wrap(err)
	}
	d.t.WriteByte(byte(wireCRC >> 8))
	d.t.WriteByte(byte(wireCRC))

	respByte, _ := d.t.ReadByte()
	dataResp := respByte & 0b00001111
	for {
		b, err := d.t.ReadByte()
		if err != nil {
			d.t.Select(false)
			return errkind.Unknown.Wrap(err)
		}
		if b == 0xFF {
			break
		}
	}
	d.t.Select(false)

	switch dataResp {
	case 0b0101:
		return nil
	case 0b1011:
		return errkind.CRC
	case 0b1101:
		return errkind.Unknown.WithMessage("card reported a write error")
	default:
		return errkind.Unknown.WithMessage("unexpected data-response token")
	}
}

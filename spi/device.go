package spi

import (
	"context"
	"log/slog"

	"github.com/nimblefs/sdfat/errkind"
	"github.com/nimblefs/sdfat/internal/crc"
)

// SD/SDHC command indices, as sent in the lower 6 bits of the command byte.
const (
	cmdGoIdle        = 0
	cmdInit          = 1  // legacy CMD1, used only when ACMD41 is unavailable
	cmdCheckVoltage  = 8
	cmdSetBlockLen   = 16
	cmdReadBlock     = 17
	cmdWriteBlock    = 24
	cmdSDInit        = 41 // sent as ACMD41, prefixed by cmdAppCmd
	cmdAppCmd        = 55
	cmdReadOCR       = 58
	cmdCRCOnOff      = 59
	blockLen         = 512
	readTokenTimeout = 65534 // dummy bytes to poll for the start-data token
	resetTries       = 10
	initTries        = 10000
	resyncBudget     = 65535
)

// startDataToken is sent ahead of a block on both read and write.
const startDataToken = 0xFE

// Device drives one SD/SDHC card over a Transport: the reset/init
// handshake, 512-byte block I/O, and the retry/speed-step-down recovery
// ladder described for this layer.
type Device struct {
	t   Transport
	log *slog.Logger

	sdhc       bool
	crcEnabled bool
	lastCRC    uint16
	speed      Speed
}

// New wraps t. log may be nil, in which case the device is silent.
func New(t Transport, log *slog.Logger) *Device {
	return &Device{t: t, log: log}
}

const slogLevelTrace = slog.LevelDebug - 2

func (d *Device) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if d.log != nil {
		d.log.LogAttrs(context.Background(), level, msg, attrs...)
	}
}
func (d *Device) trace(msg string, attrs ...slog.Attr) { d.logattrs(slogLevelTrace, msg, attrs...) }
func (d *Device) debug(msg string, attrs ...slog.Attr) { d.logattrs(slog.LevelDebug, msg, attrs...) }
func (d *Device) logerror(msg string, attrs ...slog.Attr) {
	d.logattrs(slog.LevelError, msg, attrs...)
}

// IsSDHC reports whether the card uses SDHC (block-number) addressing, as
// determined during Init.
func (d *Device) IsSDHC() bool { return d.sdhc }

// Speed returns the clock tier currently in effect.
func (d *Device) Speed() Speed { return d.speed }

// Init runs the reset/identification handshake: idle clocks, CMD0, optional
// CMD59 CRC enable, CMD8 voltage check (branching SD vs SDHC), CMD16 block
// length for legacy cards, and a post-init CRC sanity read of block 0.
func (d *Device) Init(useCRC bool) error {
	d.crcEnabled = false
	d.sdhc = false
	d.speed = SpeedInit
	if err := d.t.SetSpeed(SpeedInit); err != nil {
		return errkind.Init.Wrap(err)
	}

	if err := d.reset(); err != nil {
		return err
	}
	if useCRC {
		if err := d.enableCRC(); err != nil {
			return err
		}
	}
	if err := d.initializeCard(); err != nil {
		return err
	}
	if !d.sdhc {
		if err := d.setBlockLength(blockLen); err != nil {
			return err
		}
	}

	// Bump to minimum operating speed and sanity-check CRC behaviour.
	d.speed = SpeedMin
	if err := d.t.SetSpeed(SpeedMin); err != nil {
		return errkind.Init.Wrap(err)
	}
	if useCRC {
		if _, err := d.ReadBlockCRCOnly(0); err != nil {
			if d.lastCRC == 0xFFFF {
				return errkind.EnableCRC.WithMessage("card does not return real CRCs")
			}
			return err
		}
	}

	d.speed = SpeedHigh
	if err := d.t.SetSpeed(SpeedHigh); err != nil {
		return errkind.Init.Wrap(err)
	}
	return nil
}

// reset gives the card ≥74 idle clocks, then retries CMD0 until R1 == 0x01.
func (d *Device) reset() error {
	d.t.Select(false)
	for i := 0; i < 10; i++ {
		d.t.WriteByte(0xFF)
	}

	for i := 0; i < resetTries; i++ {
		resp, err := d.sendCommand(cmdGoIdle, 0)
		if err != nil {
			return errkind.Reset.Wrap(err)
		}
		if resp == 0x01 {
			return nil
		}
		for rest := 0; rest < 5; rest++ {
			d.t.WriteByte(0xFF)
		}
	}
	return errkind.Reset.WithMessage("no response to CMD0 after retries")
}

func (d *Device) enableCRC() error {
	resp, err := d.sendCommand(cmdCRCOnOff, 1)
	if err != nil {
		return errkind.EnableCRC.Wrap(err)
	}
	if resp != 0x00 && resp != 0x01 {
		return errkind.EnableCRC.WithMessage("card rejected CMD59")
	}
	d.crcEnabled = true
	return nil
}

// voltageCommand sends CMD8 and reports whether the card is an SDHC
// candidate (true), legacy SD (false), or the response was malformed (err).
func (d *Device) voltageCommand() (sdhcCandidate bool, err error) {
	resp, err := d.sendCommand(cmdCheckVoltage, 0x1AA)
	if err != nil {
		return false, err
	}
	if resp == 0x01 {
		d.t.Select(true)
		d.t.ReadByte()
		d.t.ReadByte()
		byte1, _ := d.t.ReadByte()
		byte2, _ := d.t.ReadByte()
		d.t.Select(false)
		if byte1 != 0x01 || byte2 != 0xAA {
			return false, errkind.Init.WithMessage("malformed CMD8 echo pattern")
		}
		return true, nil
	}
	if resp != 0x05 {
		return false, errkind.Init.WithMessage("unexpected CMD8 response")
	}
	// Illegal command: legacy card. Drain whatever nonsense follows.
	d.t.Select(true)
	for resp != 0xFF {
		resp, _ = d.t.ReadByte()
	}
	d.t.Select(false)
	return false, nil
}

// checkSDHCBlockSize issues CMD58 (read OCR) and inspects the addressing
// bit. Only meaningful after a successful ACMD41-with-HCS.
func (d *Device) checkSDHCBlockSize() {
	resp, err := d.sendCommand(cmdReadOCR, 0)
	if err != nil || resp != 0 {
		d.sdhc = false
		return
	}
	d.t.Select(true)
	b0, _ := d.t.ReadByte()
	if b0&0x40 == 0 {
		d.sdhc = false
	}
	d.t.ReadByte()
	d.t.ReadByte()
	d.t.ReadByte()
	d.t.Select(false)
}

func (d *Device) initializeCard() error {
	voltageResp, err := d.voltageCommand()
	if err != nil {
		return errkind.Init.Wrap(err)
	}

	if voltageResp {
		d.sdhc = true
		for tries := 0; tries < initTries; tries++ {
			d.sendCommand(cmdAppCmd, 0)
			resp, err := d.sendCommand(cmdSDInit, 0x40000000)
			if err != nil {
				return errkind.Init.Wrap(err)
			}
			if resp == 0x00 {
				d.checkSDHCBlockSize()
				return nil
			}
			if resp == 0x01 {
				continue // busy
			}
			break // any other response: fall through to legacy path
		}
	}

	d.sdhc = false
	tries := 0
	for {
		tries++
		if tries > initTries {
			return errkind.Init.WithMessage("ACMD41 timed out")
		}
		d.sendCommand(cmdAppCmd, 0)
		resp, err := d.sendCommand(cmdSDInit, 0)
		if err != nil {
			return errkind.Init.Wrap(err)
		}
		if resp == 0x00 {
			return nil
		}
		if resp == 0x01 {
			continue
		}
		tries /= 2
		break
	}

	for {
		tries++
		if tries > initTries {
			return errkind.Init.WithMessage("CMD1 timed out")
		}
		resp, err := d.sendCommand(cmdInit, 0)
		if err != nil {
			return errkind.Init.Wrap(err)
		}
		if resp == 0x00 {
			return nil
		}
		if resp != 0x01 {
			return errkind.Init.WithMessage("CMD1 returned an error response")
		}
	}
}

func (d *Device) setBlockLength(n uint32) error {
	resp, err := d.sendCommand(cmdSetBlockLen, n)
	if err != nil {
		return errkind.BlockLength.Wrap(err)
	}
	if resp != 0x00 {
		return errkind.BlockLength.WithMessage("card rejected CMD16")
	}
	return nil
}

// sendCommand frames and transmits a 6-byte SD command, then polls up to 10
// bytes for a non-0xFF response (R1).
func (d *Device) sendCommand(command uint8, arg uint32) (byte, error) {
	msg := [5]byte{
		0x40 | command,
		byte(arg >> 24),
		byte(arg >> 16),
		byte(arg >> 8),
		byte(arg),
	}
	var crcByte byte
	switch {
	case command == cmdGoIdle:
		crcByte = 0x95
	case command == cmdCheckVoltage:
		crcByte = 0x87
	case command == cmdCRCOnOff || d.crcEnabled:
		crcByte = crc.CommandByte(msg[:])
	default:
		crcByte = 0xFF
	}

	d.t.Select(false)
	d.t.WriteByte(0xFF) // breathing room between commands
	d.t.Select(true)
	if err := d.writeBytes(msg[:]); err != nil {
		return 0, err
	}
	if err := d.t.WriteByte(crcByte); err != nil {
		return 0, err
	}

	resp := byte(0xFF)
	var err error
	for i := 0; i < 10 && resp == 0xFF; i++ {
		resp, err = d.t.ReadByte()
		if err != nil {
			return 0, err
		}
	}
	d.t.Select(false)
	return resp, nil
}

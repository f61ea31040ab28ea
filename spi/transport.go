package spi

// Transport is the byte-level SPI peripheral this package drives. It is the
// out-of-scope physical layer: pin wiring, clock programming, and chip
// select are assumed to already work, and this package only ever needs to
// shift bytes, toggle chip select, and pick a clock tier.
type Transport interface {
	// SetSpeed reprograms the SPI clock to the given tier.
	SetSpeed(Speed) error
	// Select asserts (true) or deasserts (false) chip select.
	Select(asserted bool)
	// WriteByte shifts one byte out, discarding whatever comes back.
	WriteByte(b byte) error
	// ReadByte shifts a dummy 0xFF byte out and returns what comes back.
	ReadByte() (byte, error)
}

func (d *Device) writeBytes(buf []byte) error {
	for _, b := range buf {
		if err := d.t.WriteByte(b); err != nil {
			return err
		}
	}
	return nil
}

func (d *Device) readBytes(buf []byte) error {
	for i := range buf {
		b, err := d.t.ReadByte()
		if err != nil {
			return err
		}
		buf[i] = b
	}
	return nil
}

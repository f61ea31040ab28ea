package crc

import "testing"

func TestCCITT16KnownVectors(t *testing.T) {
	// CRC-16/XMODEM (zero init, no final XOR) of "123456789" is well known.
	got := CCITT16([]byte("123456789"))
	const want = 0x31C3
	if got != want {
		t.Fatalf("CCITT16(123456789) = %#04x, want %#04x", got, want)
	}
}

func TestBlock16MatchesCCITT16(t *testing.T) {
	buf := make([]byte, 512)
	for i := range buf {
		buf[i] = byte(i * 7)
	}
	want := CCITT16(buf)

	var acc Block16
	for _, b := range buf {
		acc.Add(b)
	}
	if got := acc.Sum(); got != want {
		t.Fatalf("Block16 incremental sum = %#04x, want %#04x", got, want)
	}
}

func TestCommand7GoIdle(t *testing.T) {
	// CMD0 with argument 0 has a well-known valid CRC of 0x4A (0x95 on the wire).
	msg := []byte{0x40, 0x00, 0x00, 0x00, 0x00}
	if got := CommandByte(msg); got != 0x95 {
		t.Fatalf("CommandByte(CMD0) = %#02x, want 0x95", got)
	}
}

func TestCommand7SendIfCond(t *testing.T) {
	// CMD8 with argument 0x1AA has a well-known valid wire CRC of 0x87.
	msg := []byte{0x48, 0x00, 0x00, 0x01, 0xAA}
	if got := CommandByte(msg); got != 0x87 {
		t.Fatalf("CommandByte(CMD8) = %#02x, want 0x87", got)
	}
}

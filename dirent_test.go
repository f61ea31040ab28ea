package sdfat

import "testing"

func TestEncodeDecodeName8_3RoundTrip(t *testing.T) {
	cases := []struct{ in, want string }{
		{"readme.txt", "README.TXT"},
		{"Makefile", "MAKEFILE"},
		{"a.b", "A.B"},
		{".", "."},
		{"..", ".."},
	}
	for _, c := range cases {
		enc, err := encodeName8_3(c.in, false)
		if err != nil {
			t.Fatalf("encode %q: %v", c.in, err)
		}
		got := decodeName8_3(enc)
		if got != c.want {
			t.Fatalf("round trip %q: got %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEncodeNameRejectsTooLong(t *testing.T) {
	if _, err := encodeName8_3("areallylongfilename.txt", false); err == nil {
		t.Fatal("expected a too-long base name to be rejected")
	}
}

func TestEncodeDirNameRejectsDot(t *testing.T) {
	if _, err := encodeName8_3("sub.dir", true); err == nil {
		t.Fatal("expected a directory name with a dot to be rejected")
	}
}

func TestEncodeNameFoldsCase(t *testing.T) {
	enc, err := encodeName8_3("lower.txt", false)
	if err != nil {
		t.Fatal(err)
	}
	if decodeName8_3(enc) != "LOWER.TXT" {
		t.Fatalf("got %q, want LOWER.TXT", decodeName8_3(enc))
	}
}

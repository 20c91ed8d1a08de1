package protocol

import "testing"

func TestHtonNtoh16RoundTrip(t *testing.T) {
	cases := []uint16{0, 1, 0xFF, 0x1234, 0xFFFF}
	for _, v := range cases {
		got := Ntoh16(Hton16(v))
		if got != v {
			t.Errorf("Ntoh16(Hton16(%#x)) = %#x, want %#x", v, got, v)
		}
	}
}

func TestHtonNtoh32RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 0xFF, 0x12345678, 0xFFFFFFFF}
	for _, v := range cases {
		got := Ntoh32(Hton32(v))
		if got != v {
			t.Errorf("Ntoh32(Hton32(%#x)) = %#x, want %#x", v, got, v)
		}
	}
}

func TestHton64AlwaysErrors(t *testing.T) {
	if _, err := Hton64(42); err != ErrWidthNotSupported {
		t.Fatalf("Hton64 err = %v, want ErrWidthNotSupported", err)
	}
	if _, err := Ntoh64([8]byte{}); err != ErrWidthNotSupported {
		t.Fatalf("Ntoh64 err = %v, want ErrWidthNotSupported", err)
	}
}

func TestByteOrderIsLittleEndian(t *testing.T) {
	enc := Hton16(0x1234)
	if enc[0] != 0x34 || enc[1] != 0x12 {
		t.Fatalf("Hton16(0x1234) = %v, want little-endian [0x34 0x12]", enc)
	}
}

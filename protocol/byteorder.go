package protocol

// EtherCAT puts every multi-byte wire field in little-endian order. Hton16/
// Hton32 exist (rather than calling binary.LittleEndian directly at every
// call site) so the one place the wire's byte order is a design decision —
// not an accident of the host's own endianness — is named and testable, the
// same way the teacher isolates RawTCPInfo's layout behind Unpack() instead
// of inlining it at every call site.

// Hton16 converts a 16-bit host value to its on-wire little-endian bytes.
func Hton16(v uint16) [2]byte {
	return [2]byte{byte(v), byte(v >> 8)}
}

// Ntoh16 converts on-wire little-endian bytes back to a 16-bit host value.
func Ntoh16(b [2]byte) uint16 {
	return uint16(b[0]) | uint16(b[1])<<8
}

// Hton32 converts a 32-bit host value to its on-wire little-endian bytes.
func Hton32(v uint32) [4]byte {
	return [4]byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// Ntoh32 converts on-wire little-endian bytes back to a 32-bit host value.
func Ntoh32(b [4]byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// Hton64 always fails: the EtherCAT wire format has no 64-bit field, and
// the spec requires that attempting one fails explicitly rather than
// silently truncating or guessing a byte order.
func Hton64(_ uint64) ([8]byte, error) {
	return [8]byte{}, ErrWidthNotSupported
}

// Ntoh64 always fails, for the same reason as Hton64.
func Ntoh64(_ [8]byte) (uint64, error) {
	return 0, ErrWidthNotSupported
}

// PutUint16 writes v little-endian into b[0:2]. b must have length >= 2.
func PutUint16(b []byte, v uint16) {
	enc := Hton16(v)
	b[0], b[1] = enc[0], enc[1]
}

// Uint16 reads a little-endian uint16 from b[0:2]. b must have length >= 2.
func Uint16(b []byte) uint16 {
	return Ntoh16([2]byte{b[0], b[1]})
}

// PutUint32 writes v little-endian into b[0:4]. b must have length >= 4.
func PutUint32(b []byte, v uint32) {
	enc := Hton32(v)
	copy(b[0:4], enc[:])
}

// Uint32 reads a little-endian uint32 from b[0:4]. b must have length >= 4.
func Uint32(b []byte) uint32 {
	return Ntoh32([4]byte{b[0], b[1], b[2], b[3]})
}

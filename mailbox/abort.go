package mailbox

import "fmt"

// abortCodeStrings covers the documented CoE SDO abort code space
// (spec.md section 4.D "CoE abort"): 0x05xxxxxx (access), 0x06xxxxxx
// (object/type), 0x08xxxxxx (application/device specific), cross-checked
// against original_source's CoE.cc/Error.cc abort table.
var abortCodeStrings = map[uint32]string{
	0x05030000: "toggle bit not changed",
	0x05040000: "SDO protocol timed out",
	0x05040001: "client/server command specifier not valid or unknown",
	0x05040005: "out of memory",
	0x06010000: "unsupported access to an object",
	0x06010001: "attempt to read a write only object",
	0x06010002: "attempt to write a read only object",
	0x06020000: "object does not exist in the object dictionary",
	0x06040041: "object cannot be mapped to the PDO",
	0x06040042: "the number and length of the objects to be mapped would exceed PDO length",
	0x06040043: "general parameter incompatibility reason",
	0x06040047: "general internal incompatibility in the device",
	0x06060000: "access failed due to a hardware error",
	0x06070010: "data type does not match, length of service parameter does not match",
	0x06070012: "data type does not match, length of service parameter too high",
	0x06070013: "data type does not match, length of service parameter too low",
	0x06090011: "subindex does not exist",
	0x06090030: "value range of parameter exceeded",
	0x06090031: "value of parameter written too high",
	0x06090032: "value of parameter written too low",
	0x06090036: "maximum value is less than minimum value",
	0x060A0023: "resource not available",
	0x08000000: "general error",
	0x08000020: "data cannot be transferred or stored to the application",
	0x08000021: "data cannot be transferred because of local control",
	0x08000022: "data cannot be transferred because of the present device state",
	0x08000023: "object dictionary dynamic generation fails or no object dictionary present",
	0x08000024: "no data available",
}

// AbortCodeString returns the human-readable description for a CoE SDO
// abort code, or a generic "unknown abort code" message for anything
// outside the documented table.
func AbortCodeString(code uint32) string {
	if s, ok := abortCodeStrings[code]; ok {
		return s
	}
	return fmt.Sprintf("unknown abort code 0x%08X", code)
}

package proto

// statusStr maps a GETSTATUS bStatus value to a human-readable
// description, per the DFU 1.1 spec table. Index 0 (OK) is never
// looked up by StatusString since it is not an error.
var statusStr = [...]string{
	1:  "file is not for this target",
	2:  "file fails a vendor-specific verification test",
	3:  "unable to write memory",
	4:  "memory erase function failed",
	5:  "memory erase check failed",
	6:  "program memory function failed",
	7:  "programmed memory failed verification",
	8:  "memory address is out of range",
	9:  "premature DFU_DNLOAD with wLength = 0",
	10: "firmware is corrupt",
	11: "vendor-specific error",
	12: "unexpected USB reset signaling",
	13: "unexpected power on reset",
	14: "unknown error",
	15: "stalled an unexpected request",
}

// StatusString returns a human-readable description of a nonzero
// bStatus value, for attaching to KindProtocol errors and log lines.
// An out-of-range status (including 0, which means OK and is not an
// error) returns "unknown error".
func StatusString(status uint8) string {
	if int(status) < len(statusStr) && statusStr[status] != "" {
		return statusStr[status]
	}
	return "unknown error"
}

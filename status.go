package bluecore

import "fmt"

// Status is the result code returned by public mutating adapter calls. A
// successful status only means the command was accepted; the authoritative
// state change arrives later through the event path.
type Status byte

const (
	StatusSuccess Status = iota
	StatusFailed
	StatusBusy
	StatusTimeout
	StatusRejected
	StatusNotPowered
	StatusNotConnected
	StatusInvalidParams
	StatusClosed
)

var statusNames = map[Status]string{
	StatusSuccess:       "success",
	StatusFailed:        "failed",
	StatusBusy:          "busy",
	StatusTimeout:       "timeout",
	StatusRejected:      "rejected",
	StatusNotPowered:    "not powered",
	StatusNotConnected:  "not connected",
	StatusInvalidParams: "invalid params",
	StatusClosed:        "closed",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status(%d)", byte(s))
}

// Ok reports whether the call was accepted.
func (s Status) Ok() bool {
	return s == StatusSuccess
}

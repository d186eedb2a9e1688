package device

import (
	"errors"
	"fmt"
)

const statusResponseLength = 4

var ErrInvalidStatus = errors.New("invalid status response")

var printerStateMap = map[byte]string{
	'@': "normal",
	'F': "feeding",
	'P': "paused",
	'E': "error",
	'H': "head_open",
	'S': "standby",
	'L': "label_waiting",
	'I': "idle",
}

var warningMap = map[byte]string{
	'@': "none",
	'A': "paper_low",
	'B': "ribbon_low",
	'C': "paper_and_ribbon_low",
}

var errorMap = map[byte]string{
	'@': "none",
	'A': "head_overheat",
	'B': "motor_overheat",
	'C': "head_and_motor_overheat",
	'D': "head_error",
	'E': "cutter_error",
	'F': "rtc_error",
}

var mediaErrorMap = map[byte]string{
	'@': "none",
	'A': "paper_empty",
	'B': "ribbon_empty",
	'C': "paper_and_ribbon_empty",
	'D': "takeup_reel_full",
	'`': "head_open",
}

// Vendor error codes reported for device faults.
const (
	codeCoverOpen       = 1
	codeOutOfPaper      = 2
	codeOverheat        = 7
	codeHeadNotDetected = 10
	codeRibbonOut       = 15
	codeCommunication   = 22
)

// Status is the decoded four-byte reply to ESC !?.
type Status struct {
	Raw          [4]byte `json:"-"`
	PrinterState string  `json:"printer_state"`
	Warning      string  `json:"warning"`
	Error        string  `json:"error"`
	MediaError   string  `json:"media_error"`
}

func lookup(m map[byte]string, b byte) string {
	if s, ok := m[b]; ok {
		return s
	}
	return "unknown"
}

func ParseStatus(reply []byte) (Status, error) {
	if len(reply) < statusResponseLength {
		return Status{}, fmt.Errorf("%w: got %d bytes", ErrInvalidStatus, len(reply))
	}
	return Status{
		Raw:          [4]byte{reply[0], reply[1], reply[2], reply[3]},
		PrinterState: lookup(printerStateMap, reply[0]),
		Warning:      lookup(warningMap, reply[1]),
		Error:        lookup(errorMap, reply[2]),
		MediaError:   lookup(mediaErrorMap, reply[3]),
	}, nil
}

// Fault maps the status to a vendor error code. ok is false when the
// printer can keep printing.
func (s Status) Fault() (code int, ok bool) {
	switch {
	case s.PrinterState == "head_open" || s.MediaError == "head_open":
		return codeCoverOpen, true
	case s.MediaError == "paper_empty" || s.MediaError == "paper_and_ribbon_empty":
		return codeOutOfPaper, true
	case s.MediaError == "ribbon_empty":
		return codeRibbonOut, true
	case s.Error == "head_overheat" || s.Error == "motor_overheat" || s.Error == "head_and_motor_overheat":
		return codeOverheat, true
	case s.Error == "head_error":
		return codeHeadNotDetected, true
	case s.PrinterState == "error" || (s.Error != "none" && s.Error != "unknown"):
		return codeCommunication, true
	}
	return 0, false
}

// Summary condenses the status into one word for health reporting.
func (s Status) Summary() string {
	switch {
	case s.PrinterState == "error" || s.Error != "none":
		return "error"
	case s.PrinterState == "paused":
		return "paused"
	case s.MediaError != "none":
		return "error"
	case s.PrinterState == "feeding":
		return "busy"
	}
	return "online"
}

package core

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected  = errors.New("printer not connected")
	ErrJobActive     = errors.New("a print job is already active")
	ErrPageMismatch  = errors.New("page buffer and metadata counts differ")
	ErrNoPages       = errors.New("print job has no pages")
	ErrInvalidCopies = errors.New("copies must be at least 1")
	ErrNoActiveJob   = errors.New("no active print job")
)

const (
	CodeNotConnected = -1
	// CodeCommitRejected is raised locally when the backend refuses a
	// page commit. It is outside the vendor range.
	CodeCommitRejected = -2
)

var deviceMessages = map[int]string{
	CodeNotConnected:   "Printer not connected",
	CodeCommitRejected: "Page data rejected by printer",
	1:                  "Cover open",
	2:                  "Out of paper",
	3:                  "Low battery",
	4:                  "Battery abnormal",
	5:                  "Manually stopped",
	6:                  "Data error",
	7:                  "Temperature too high",
	8:                  "Paper feeding abnormal",
	9:                  "Printing",
	10:                 "Print head not detected",
	11:                 "Ambient temperature too low",
	12:                 "Print head not locked",
	13:                 "Ribbon not detected",
	14:                 "Mismatched ribbon",
	15:                 "Ribbon used up",
	16:                 "Unsupported paper type",
	17:                 "Paper type setting failed",
	18:                 "Print mode setting failed",
	19:                 "Density setting failed",
	20:                 "Failed to write RFID",
	21:                 "Margin setting failed",
	22:                 "Communication abnormal",
	23:                 "Printer connection lost",
	24:                 "Drawing board parameter error",
	25:                 "Rotation angle error",
	26:                 "JSON parameter error",
	27:                 "Paper feeding abnormal (B3S)",
	28:                 "Check paper type",
	29:                 "RFID tag not written",
	30:                 "Density setting not supported",
	31:                 "Print mode not supported",
	34:                 "RFID writing not supported",
	50:                 "Invalid label",
	51:                 "Invalid ribbon and label",
	52:                 "Firmware data reception timeout",
	53:                 "Non-dedicated ribbon",
	58:                 "Non-genuine consumables",
	59:                 "Non-genuine ribbon",
	60:                 "Consumables over limit",
	61:                 "Ribbon over limit",
	62:                 "Non-genuine label",
	63:                 "Label over limit",
}

// DeviceMessage returns the human readable text for a device error code.
func DeviceMessage(code int) string {
	if msg, ok := deviceMessages[code]; ok {
		return msg
	}
	return "Unknown error"
}

// DeviceError is a runtime fault reported by the backend.
type DeviceError struct {
	Code  int
	State int
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error %d (state %d): %s", e.Code, e.State, DeviceMessage(e.Code))
}

type CancelledError struct {
	Success bool
}

func (e *CancelledError) Error() string {
	if e.Success {
		return "print job cancelled"
	}
	return "print job cancellation failed"
}

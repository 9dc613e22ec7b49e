package scanner

import (
	"errors"
	"fmt"

	"github.com/high-horse/fingerprint-server/internal/biometric"
)

// Sentinel errors the HTTP layer maps to distinct outward statuses. Callers
// classify with errors.Is / errors.As, never by message text.
var (
	// ErrAlreadyCapturing means another caller holds the capture lock.
	ErrAlreadyCapturing = errors.New("a fingerprint capture is already in progress")

	// ErrNoDeviceConnected means no scanner hardware is attached.
	ErrNoDeviceConnected = errors.New("no fingerprint scanner connected")

	// ErrTimeout means the capture did not finish within the caller's
	// deadline. Cancellation has already been signaled when it surfaces.
	ErrTimeout = errors.New("timed out waiting for fingerprint capture")
)

// CaptureError reports a non-success status from the capture device.
type CaptureError struct {
	Status biometric.Status
}

func (e *CaptureError) Error() string {
	return fmt.Sprintf("fingerprint capture failed: %s", e.Status)
}

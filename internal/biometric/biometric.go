// Package biometric defines the contracts the scan and identification flows
// require from the capture hardware and the fingerprint engine. Production
// implementations live in internal/device and internal/biometric/afis.
package biometric

import (
	"context"
	"image"
)

// Status is the outcome reported by a device or engine operation. The text is
// carried verbatim into errors shown to callers, so values stay short.
type Status string

const (
	StatusOK       Status = "OK"
	StatusCanceled Status = "CANCELED"
	StatusBadImage Status = "BAD_IMAGE"
	StatusNoDevice Status = "NO_DEVICE"
	StatusInternal Status = "INTERNAL_ERROR"
)

// OK reports whether the status is a success.
func (s Status) OK() bool { return s == StatusOK }

// Device identifies one attached fingerprint scanner.
type Device struct {
	ID   string
	Name string
}

// Capture is the outcome of a single capture attempt. Image is nil unless
// Status is OK.
type Capture struct {
	Status Status
	Image  *image.Gray
}

// Gateway abstracts the physical capture device.
type Gateway interface {
	// Devices enumerates attached scanners. An empty slice with a nil error
	// means no hardware is present.
	Devices() ([]Device, error)

	// CaptureFinger acquires one fingerprint image from the given device.
	// It blocks until a usable frame is captured, the context is canceled,
	// or Cancel is called.
	CaptureFinger(ctx context.Context, dev Device) (*Capture, error)

	// Cancel aborts any in-flight capture. Safe to call at any time.
	Cancel()
}

// GalleryEntry pairs an enrolled record id with its stored template.
type GalleryEntry struct {
	ID       int64
	Template []byte
}

// Candidate is one ranked identification result.
type Candidate struct {
	ID    int64
	Score float64
}

// Processor abstracts the fingerprint engine: template extraction, quality
// assessment, compression and 1:N matching.
type Processor interface {
	// ExtractTemplate derives a matchable template from a captured image.
	// A non-OK status means the image yielded no usable features; the
	// returned template is empty in that case.
	ExtractTemplate(img *image.Gray) (Status, []byte, error)

	// AssessQuality scores the usability of a captured image for matching.
	AssessQuality(img *image.Gray) (Status, int, error)

	// Compress produces the wavelet-compressed interchange encoding.
	Compress(img *image.Gray) ([]byte, error)

	// Match ranks gallery entries against the probe template, best first,
	// filtered by the engine's matching threshold.
	Match(ctx context.Context, probe []byte, gallery []GalleryEntry) (Status, []Candidate, error)

	// Clear drops any transient state accumulated while matching so
	// repeated identifications start fresh.
	Clear()
}

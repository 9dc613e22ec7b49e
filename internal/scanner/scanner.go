// Package scanner drives the capture pipeline: single-flight lock, device
// selection, capture, encoding, template extraction and quality scoring.
package scanner

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/high-horse/fingerprint-server/internal/biometric"
	"github.com/high-horse/fingerprint-server/internal/store"
)

// IdentifyOnly is the sentinel finger label meaning "scan but do not enroll".
// Comparison is case-insensitive at the HTTP boundary.
const IdentifyOnly = "unknown"

// Result is the product of one successful capture cycle. It is handed to the
// caller or the save path immediately and never stored as-is.
type Result struct {
	FingerType   string
	WSQImage     []byte
	PreviewImage []byte
	Template     []byte
	Quality      int
}

// RecordSaver is the slice of the record store the save path needs.
type RecordSaver interface {
	Save(ctx context.Context, rec store.Record) (*store.Record, error)
}

// Service owns the capture lock and the physical device. At most one capture
// runs at a time system-wide; concurrent callers fail fast.
type Service struct {
	gateway biometric.Gateway
	proc    biometric.Processor
	records RecordSaver
	logger  *slog.Logger

	capturing atomic.Bool
}

// New constructs the scan orchestrator.
func New(gateway biometric.Gateway, proc biometric.Processor, records RecordSaver, logger *slog.Logger) *Service {
	return &Service{
		gateway: gateway,
		proc:    proc,
		records: records,
		logger:  logger,
	}
}

type captureOutcome struct {
	result *Result
	err    error
}

// Scan runs one capture cycle, racing the device against the caller's
// timeout. The lock is acquired before any device access and is free again by
// the time Scan returns, whatever the outcome.
func (s *Service) Scan(ctx context.Context, fingerType string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("scan timeout must be positive, got %s", timeout)
	}
	if !s.capturing.CompareAndSwap(false, true) {
		return nil, ErrAlreadyCapturing
	}

	attempt := uuid.NewString()
	log := s.logger.With("attempt", attempt)
	log.Info("capture started", "finger_type", fingerType, "timeout", timeout)

	// The capture goroutine gets its own cancellable context, detached from
	// the request context so a client disconnect follows the same discard
	// path as a timeout. The channel is buffered: a late completion parks
	// there and is garbage collected, it never touches shared state.
	captureCtx, cancelCapture := context.WithCancel(context.Background())
	done := make(chan captureOutcome, 1)
	go func() {
		result, err := s.capture(captureCtx, log)
		done <- captureOutcome{result: result, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case out := <-done:
		cancelCapture()
		s.capturing.Store(false)
		if out.err != nil {
			log.Warn("capture failed", "error", out.err)
			return nil, out.err
		}
		out.result.FingerType = fingerType
		log.Info("capture complete", "quality", out.result.Quality,
			"template_bytes", len(out.result.Template))
		return out.result, nil

	case <-timer.C:
		log.Warn("capture timed out", "timeout", timeout)
		s.gateway.Cancel()
		cancelCapture()
		s.capturing.Store(false)
		return nil, ErrTimeout

	case <-ctx.Done():
		log.Warn("caller went away during capture")
		s.gateway.Cancel()
		cancelCapture()
		s.capturing.Store(false)
		return nil, ctx.Err()
	}
}

// capture runs on its own goroutine. It communicates only through its return
// values; the orchestrator decides whether anyone is still listening.
func (s *Service) capture(ctx context.Context, log *slog.Logger) (*Result, error) {
	devices, err := s.gateway.Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerate devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, ErrNoDeviceConnected
	}
	dev := devices[0]
	log.Info("capturing", "device", dev.ID)

	capt, err := s.gateway.CaptureFinger(ctx, dev)
	if err != nil {
		return nil, fmt.Errorf("capture on %s: %w", dev.ID, err)
	}
	if !capt.Status.OK() {
		return nil, &CaptureError{Status: capt.Status}
	}

	preview, err := biometric.EncodePNG(capt.Image)
	if err != nil {
		return nil, err
	}
	compressed, err := s.proc.Compress(capt.Image)
	if err != nil {
		return nil, err
	}

	// Extraction failure degrades the result to an empty template; the
	// capture and encodings still return.
	var template []byte
	tplStatus, tpl, err := s.proc.ExtractTemplate(capt.Image)
	if err != nil {
		return nil, err
	}
	if tplStatus.OK() {
		template = tpl
	} else {
		log.Warn("feature extraction failed", "status", string(tplStatus))
	}

	quality := 0
	qStatus, q, err := s.proc.AssessQuality(capt.Image)
	if err != nil {
		return nil, err
	}
	if qStatus.OK() {
		quality = q
	}

	return &Result{
		WSQImage:     compressed,
		PreviewImage: preview,
		Template:     template,
		Quality:      quality,
	}, nil
}

// Cancel aborts any in-progress capture and force-clears the lock.
// Idempotent: calling it with nothing in flight is a no-op.
func (s *Service) Cancel() {
	s.gateway.Cancel()
	s.capturing.Store(false)
}

// IsScanning reports whether a capture is in progress.
func (s *Service) IsScanning() bool {
	return s.capturing.Load()
}

// ExtractTemplate derives a template from raw image bytes without a live
// capture. Returns the base64 template, or "" when the image is undecodable
// or yields no features.
func (s *Service) ExtractTemplate(raw []byte) string {
	if len(raw) == 0 {
		return ""
	}
	img, err := biometric.DecodeImage(raw)
	if err != nil {
		s.logger.Warn("extract: image rejected", "error", err)
		return ""
	}
	status, tpl, err := s.proc.ExtractTemplate(img)
	if err != nil || !status.OK() {
		return ""
	}
	return base64.StdEncoding.EncodeToString(tpl)
}

// CompressToWSQ converts raw image bytes to the WSQ interchange encoding.
func (s *Service) CompressToWSQ(raw []byte) ([]byte, error) {
	img, err := biometric.DecodeImage(raw)
	if err != nil {
		return nil, err
	}
	return s.proc.Compress(img)
}

// SaveScan persists an enroll-type scan. Every field is normalized so the
// stored record satisfies the not-null template invariant even when
// extraction degraded to empty. Runs after the capture lock is released.
func (s *Service) SaveScan(ctx context.Context, res *Result) (*store.Record, error) {
	rec := store.Record{
		FingerType:     res.FingerType,
		BMPBase64:      base64.StdEncoding.EncodeToString(res.PreviewImage),
		WSQData:        base64.StdEncoding.EncodeToString(res.WSQImage),
		NativeTemplate: base64.StdEncoding.EncodeToString(res.Template),
		Quality:        res.Quality,
	}
	saved, err := s.records.Save(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("save fingerprint: %w", err)
	}
	s.logger.Info("fingerprint enrolled", "id", saved.ID, "finger_type", saved.FingerType)
	return saved, nil
}

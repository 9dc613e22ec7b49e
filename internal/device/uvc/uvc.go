// Package uvc implements the capture gateway over a UVC-attached optical
// fingerprint sensor exposed as a camera device.
package uvc

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/high-horse/fingerprint-server/internal/biometric"
	"github.com/high-horse/fingerprint-server/internal/device"
)

const framePollInterval = 50 * time.Millisecond

// Gateway is a biometric.Gateway reading frames from a camera index. A frame
// counts as a capture once it passes a minimal contrast gate, so an idle
// sensor (uniform background) keeps the capture blocked until a finger is
// placed.
type Gateway struct {
	logger      *slog.Logger
	cameraIndex int
	monitor     *device.Monitor
	minContrast float64

	aborted atomic.Bool
}

// New constructs a Gateway for the given camera index. monitor may be nil.
func New(logger *slog.Logger, cameraIndex int, monitor *device.Monitor) *Gateway {
	return &Gateway{
		logger:      logger,
		cameraIndex: cameraIndex,
		monitor:     monitor,
		minContrast: 12,
	}
}

// Devices enumerates attached sensors. Hotplug-tracked nodes are preferred;
// without a monitor view the configured index is probed directly.
func (g *Gateway) Devices() ([]biometric.Device, error) {
	if g.monitor != nil {
		if nodes := g.monitor.Present(); len(nodes) > 0 {
			devices := make([]biometric.Device, 0, len(nodes))
			for _, node := range nodes {
				devices = append(devices, biometric.Device{ID: node, Name: "uvc sensor " + node})
			}
			return devices, nil
		}
	}

	probe, err := gocv.OpenVideoCapture(g.cameraIndex)
	if err != nil {
		return nil, nil
	}
	defer probe.Close()
	if !probe.IsOpened() {
		return nil, nil
	}
	return []biometric.Device{{
		ID:   fmt.Sprintf("camera:%d", g.cameraIndex),
		Name: fmt.Sprintf("uvc sensor (index %d)", g.cameraIndex),
	}}, nil
}

// CaptureFinger blocks until a frame with enough ridge contrast arrives, the
// context is canceled, or Cancel is called.
func (g *Gateway) CaptureFinger(ctx context.Context, dev biometric.Device) (*biometric.Capture, error) {
	g.aborted.Store(false)

	vc, err := gocv.OpenVideoCapture(g.cameraIndex)
	if err != nil {
		return &biometric.Capture{Status: biometric.StatusNoDevice}, nil
	}
	defer vc.Close()

	frame := gocv.NewMat()
	defer frame.Close()
	gray := gocv.NewMat()
	defer gray.Close()

	for {
		if err := ctx.Err(); err != nil {
			return &biometric.Capture{Status: biometric.StatusCanceled}, nil
		}
		if g.aborted.Load() {
			return &biometric.Capture{Status: biometric.StatusCanceled}, nil
		}

		if !vc.Read(&frame) || frame.Empty() {
			time.Sleep(framePollInterval)
			continue
		}

		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
		img, err := gray.ToImage()
		if err != nil {
			g.logger.Warn("frame conversion failed", "device", dev.ID, "error", err)
			continue
		}
		grayImg := biometric.ToGray(img)
		if contrastOf(grayImg) < g.minContrast {
			time.Sleep(framePollInterval)
			continue
		}

		return &biometric.Capture{Status: biometric.StatusOK, Image: grayImg}, nil
	}
}

// Cancel aborts any in-flight capture loop.
func (g *Gateway) Cancel() {
	g.aborted.Store(true)
}

// contrastOf returns the standard deviation of pixel intensity, a cheap gate
// for "is anything on the platen".
func contrastOf(img *image.Gray) float64 {
	b := img.Bounds()
	n := float64(b.Dx() * b.Dy())
	if n == 0 {
		return 0
	}
	var sum, sumSq float64
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			v := float64(img.GrayAt(x, y).Y)
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		return 0
	}
	return math.Sqrt(variance)
}

// Package capture reads frames from a camera or video stream.
package capture

import (
	"context"
	"image"
	"strconv"
	"time"

	perr "ocr-labeler/internal/errors"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// DefaultInterval is the pause between frame reads.
const DefaultInterval = 10 * time.Millisecond

// Camera wraps an opened capture device.
type Camera struct {
	source string
	vc     *gocv.VideoCapture
	log    zerolog.Logger
}

// Open opens source, which is either a device index ("0") or a file or
// stream URL. Width and height are requested from the device when positive.
func Open(source string, width, height int, log zerolog.Logger) (*Camera, error) {
	var dev interface{} = source
	if id, err := strconv.Atoi(source); err == nil {
		dev = id
	}
	vc, err := gocv.OpenVideoCapture(dev)
	if err != nil {
		return nil, perr.IOFailuref(err, "open capture %q", source)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, perr.IOFailuref(nil, "capture %q did not open", source)
	}
	if width > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	}
	if height > 0 {
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	log.Info().Str("source", source).
		Float64("width", vc.Get(gocv.VideoCaptureFrameWidth)).
		Float64("height", vc.Get(gocv.VideoCaptureFrameHeight)).
		Msg("capture opened")
	return &Camera{source: source, vc: vc, log: log}, nil
}

// Close releases the device.
func (c *Camera) Close() error {
	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	c.vc = nil
	return err
}

// Run reads a frame every interval and hands it to fn until ctx is done.
// Read failures are logged and retried on the next tick. fn is called on the
// Run goroutine and must not block for long.
func (c *Camera) Run(ctx context.Context, interval time.Duration, fn func(image.Image)) error {
	if interval <= 0 {
		interval = DefaultInterval
	}
	mat := gocv.NewMat()
	defer mat.Close()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if ok := c.vc.Read(&mat); !ok || mat.Empty() {
			failures++
			// log the first failure and then every 100th so a dead device is visible
			if failures == 1 || failures%100 == 0 {
				c.log.Warn().Str("source", c.source).Int("failures", failures).Msg("frame read failed")
			}
			continue
		}
		if failures > 0 {
			c.log.Info().Int("failures", failures).Msg("frame reads recovered")
			failures = 0
		}

		img, err := mat.ToImage()
		if err != nil {
			c.log.Warn().Err(err).Msg("frame conversion failed")
			continue
		}
		fn(img)
	}
}

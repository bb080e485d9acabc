// Package ocr recognizes words in camera frames using Tesseract.
package ocr

import (
	"context"
	"fmt"
	"image"
	"strings"
	"sync"

	"ocr-labeler/internal/buffer"
	perr "ocr-labeler/internal/errors"

	"github.com/otiai10/gosseract/v2"
	"github.com/rs/zerolog"
	"gocv.io/x/gocv"
)

// Engine provides word-level recognition over a single Tesseract client.
// The client is not safe for concurrent use, so calls are serialised.
type Engine struct {
	mu     sync.Mutex
	client *gosseract.Client
	params Params
	log    zerolog.Logger
}

// NewEngine creates an engine configured by p.
func NewEngine(p Params, log zerolog.Logger) (*Engine, error) {
	if p.Language == "" {
		p.Language = "eng"
	}
	client := gosseract.NewClient()
	if err := client.SetLanguage(strings.Split(p.Language, "+")...); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set OCR language: %w", err)
	}

	// Label text is brand names and codes, not dictionary words.
	_ = client.SetVariable("load_system_dawg", "false")
	_ = client.SetVariable("load_freq_dawg", "false")
	_ = client.SetVariable("language_model_penalty_non_dict_word", "0")
	_ = client.SetVariable("language_model_penalty_non_freq_dict_word", "0")

	psm := gosseract.PSM_SPARSE_TEXT
	if p.PSM > 0 {
		psm = gosseract.PageSegMode(p.PSM)
	}
	if err := client.SetPageSegMode(psm); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to set PSM: %w", err)
	}
	if p.Whitelist != "" {
		if err := client.SetWhitelist(p.Whitelist); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to set whitelist: %w", err)
		}
	}

	log.Info().Str("language", p.Language).Int("psm", int(psm)).Bool("preprocess", p.Preprocess).Msg("tesseract ready")
	return &Engine{client: client, params: p, log: log}, nil
}

// Close releases the Tesseract client.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil
	}
	err := e.client.Close()
	e.client = nil
	return err
}

// Recognize returns the words found in img with their confidence in [0,1]
// and bounds in frame pixels.
func (e *Engine) Recognize(ctx context.Context, img image.Image) ([]buffer.Detection, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, perr.Recognitionf(nil, "empty image")
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, perr.Recognitionf(err, "convert frame")
	}
	defer mat.Close()

	return e.RecognizeMat(ctx, mat)
}

// RecognizeMat is Recognize over a BGR Mat.
func (e *Engine) RecognizeMat(ctx context.Context, mat gocv.Mat) ([]buffer.Detection, error) {
	if mat.Empty() {
		return nil, perr.Recognitionf(nil, "empty image")
	}

	processed, scale := preprocess(mat, e.params)
	defer processed.Close()

	buf, err := gocv.IMEncode(gocv.PNGFileExt, processed)
	if err != nil {
		return nil, perr.Recognitionf(err, "encode frame")
	}
	defer buf.Close()

	// Tesseract itself cannot be interrupted; honour cancellation up to here.
	if err := ctx.Err(); err != nil {
		return nil, perr.Recognitionf(err, "recognition cancelled")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.client == nil {
		return nil, perr.Recognitionf(nil, "engine closed")
	}
	if err := e.client.SetImageFromBytes(buf.GetBytes()); err != nil {
		return nil, perr.Recognitionf(err, "set image")
	}
	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return nil, perr.Recognitionf(err, "word boxes")
	}

	dets := toDetections(boxes, scale, e.params.MinConfidence)
	e.log.Debug().Int("boxes", len(boxes)).Int("words", len(dets)).Msg("frame recognized")
	return dets, nil
}

// toDetections converts Tesseract word boxes, mapping bounds back through the
// preprocessing scale and scaling confidence from 0-100.
func toDetections(boxes []gosseract.BoundingBox, scale, minConf float64) []buffer.Detection {
	dets := make([]buffer.Detection, 0, len(boxes))
	for _, box := range boxes {
		text := strings.TrimSpace(box.Word)
		if text == "" {
			continue
		}
		conf := box.Confidence / 100
		conf = max(0, min(conf, 1))
		if conf < minConf {
			continue
		}
		r := box.Box
		if scale > 0 && scale != 1 {
			r = image.Rect(
				int(float64(r.Min.X)/scale), int(float64(r.Min.Y)/scale),
				int(float64(r.Max.X)/scale), int(float64(r.Max.Y)/scale),
			)
		}
		dets = append(dets, buffer.Detection{
			Text:       text,
			Confidence: conf,
			Bounds:     r,
		})
	}
	return dets
}

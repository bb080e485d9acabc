package ocr

import (
	"image"

	"gocv.io/x/gocv"
)

// Params holds the tunable preprocessing and recognition parameters.
type Params struct {
	Language  string `yaml:"language"`
	Whitelist string `yaml:"whitelist"`
	// PSM is the Tesseract page segmentation mode; 0 means sparse text.
	PSM int `yaml:"psm"`

	Preprocess bool `yaml:"preprocess"`
	// MinScaleDim is the smallest side a frame is upscaled to before recognition.
	MinScaleDim    int     `yaml:"min_scale_dim"`
	CLAHEClipLimit float64 `yaml:"clahe_clip"`
	CLAHETileSize  int     `yaml:"clahe_tile"`
	UseAdaptive    bool    `yaml:"adaptive"`
	AdaptiveBlock  int     `yaml:"adaptive_block"`
	AdaptiveC      int     `yaml:"adaptive_c"`
	// InvertPolarity flips mostly-dark binarised frames so text is dark on light.
	InvertPolarity bool `yaml:"invert"`

	// MinConfidence drops words below this score, in [0,1].
	MinConfidence float64 `yaml:"min_confidence"`
}

// DefaultParams returns parameters tuned for printed product labels.
func DefaultParams() Params {
	return Params{
		Language:       "eng",
		Preprocess:     true,
		MinScaleDim:    150,
		CLAHEClipLimit: 2.0,
		CLAHETileSize:  8,
		InvertPolarity: true,
	}
}

// preprocess returns a binarised BGR copy of src ready for Tesseract and the
// factor it was scaled by. The caller owns the returned Mat.
func preprocess(src gocv.Mat, p Params) (gocv.Mat, float64) {
	scale := 1.0
	var scaled gocv.Mat
	if minDim := min(src.Rows(), src.Cols()); p.MinScaleDim > 0 && minDim < p.MinScaleDim {
		scale = float64(p.MinScaleDim) / float64(minDim)
		scaled = gocv.NewMat()
		gocv.Resize(src, &scaled, image.Point{}, scale, scale, gocv.InterpolationCubic)
	} else {
		scaled = src.Clone()
	}

	if !p.Preprocess {
		return scaled, scale
	}

	gray := gocv.NewMat()
	gocv.CvtColor(scaled, &gray, gocv.ColorBGRToGray)
	scaled.Close()

	enhanced := gray
	if p.CLAHEClipLimit > 0 {
		tile := p.CLAHETileSize
		if tile <= 0 {
			tile = 8
		}
		clahe := gocv.NewCLAHEWithParams(p.CLAHEClipLimit, image.Point{X: tile, Y: tile})
		enhanced = gocv.NewMat()
		clahe.Apply(gray, &enhanced)
		clahe.Close()
		gray.Close()
	}

	binary := gocv.NewMat()
	if p.UseAdaptive {
		block := p.AdaptiveBlock
		if block < 3 {
			block = 11
		}
		if block%2 == 0 {
			block++
		}
		c := p.AdaptiveC
		if c == 0 {
			c = 5
		}
		gocv.AdaptiveThreshold(enhanced, &binary, 255,
			gocv.AdaptiveThresholdMean, gocv.ThresholdBinary, block, float32(c))
	} else {
		gocv.Threshold(enhanced, &binary, 0, 255, gocv.ThresholdBinary|gocv.ThresholdOtsu)
	}
	enhanced.Close()

	if p.InvertPolarity {
		white := gocv.CountNonZero(binary)
		if total := binary.Rows() * binary.Cols(); total > 0 && float64(white)/float64(total) < 0.5 {
			gocv.BitwiseNot(binary, &binary)
		}
	}

	out := gocv.NewMat()
	gocv.CvtColor(binary, &out, gocv.ColorGrayToBGR)
	binary.Close()
	return out, scale
}

// Command ocrprobe runs the recognition engine over still frames of one item
// and prints what the live buffer would settle on. Use it to tune the OCR
// parameters against sample photos before pointing the daemon at a camera.
//
// Usage: ocrprobe [options] <frame> [frame...]
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"time"

	"ocr-labeler/internal/buffer"
	"ocr-labeler/internal/classify"
	"ocr-labeler/internal/logger"
	"ocr-labeler/internal/ocr"

	_ "golang.org/x/image/tiff"
	"gonum.org/v1/gonum/stat"
)

var (
	flagPasses     = flag.Int("n", 1, "Number of passes over the frame list")
	flagLang       = flag.String("lang", "eng", "Tesseract language(s), e.g. eng+deu")
	flagWhitelist  = flag.String("whitelist", "", "Restrict recognized characters")
	flagPSM        = flag.Int("psm", 0, "Page segmentation mode, 0 = sparse text")
	flagRaw        = flag.Bool("raw", false, "Skip preprocessing")
	flagAdaptive   = flag.Bool("adaptive", false, "Use adaptive instead of Otsu threshold")
	flagMinConf    = flag.Float64("min-conf", 0, "Drop words below this confidence (0-1)")
	flagTruth      = flag.String("truth", "", "Expected text; prints a similarity score")
	flagCatalog    = flag.String("catalog", "", "Catalog YAML for the advisory label")
	flagVerbose    = flag.Bool("v", false, "Print every detection")
	flagLogJSON    = flag.Bool("log-json", false, "Log as JSON")
	flagLogVerbose = flag.Bool("debug", false, "Debug logging")
)

func main() {
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <frame> [frame...]\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(1)
	}

	opts := logger.Options{Level: "warn"}
	if *flagLogVerbose {
		opts.Level = "debug"
	}
	if *flagLogJSON {
		opts.Format = "json"
	}
	logger.Init(opts)

	frames := make([]image.Image, 0, flag.NArg())
	for _, path := range flag.Args() {
		img, err := loadImage(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("Loaded %s: %dx%d\n", path, img.Bounds().Dx(), img.Bounds().Dy())
		frames = append(frames, img)
	}

	params := ocr.DefaultParams()
	params.Language = *flagLang
	params.Whitelist = *flagWhitelist
	params.PSM = *flagPSM
	params.Preprocess = !*flagRaw
	params.UseAdaptive = *flagAdaptive
	params.MinConfidence = *flagMinConf

	engine, err := ocr.NewEngine(params, logger.Named("ocr"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error creating OCR engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	agg := buffer.New()
	var latencies []float64
	failures := 0
	ctx := context.Background()

	for pass := 0; pass < *flagPasses; pass++ {
		for i, img := range frames {
			start := time.Now()
			dets, err := engine.Recognize(ctx, img)
			latencies = append(latencies, float64(time.Since(start))/float64(time.Millisecond))
			if err != nil {
				failures++
				fmt.Fprintf(os.Stderr, "  pass %d frame %d: %v\n", pass+1, i+1, err)
				continue
			}
			agg.Ingest(dets)
			if *flagVerbose {
				for _, d := range dets {
					fmt.Printf("  pass %d frame %d: %-20q conf=%.2f at %v\n", pass+1, i+1, d.Text, d.Confidence, d.Bounds)
				}
			}
		}
	}

	printSummary(agg, latencies, failures)
}

func loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	return img, err
}

func printSummary(agg *buffer.Aggregator, latencies []float64, failures int) {
	fmt.Println("\nBuffer entries (ranked):")
	for _, e := range agg.Entries() {
		fmt.Printf("  %-24q freq=%-3d best=%.2f\n", e.Text, e.Frequency, e.BestConfidence)
	}

	consensus := agg.Consensus()
	fmt.Printf("\nConsensus: %q\n", consensus)

	catalog := classify.DefaultCatalog()
	if *flagCatalog != "" {
		c, err := classify.LoadCatalog(*flagCatalog)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not load catalog: %v\n", err)
		} else {
			catalog = c
		}
	}
	label, _ := classify.NewKeyword(catalog).Classify(context.Background(), consensus)
	fmt.Printf("Label:     %s\n", label)

	if *flagTruth != "" {
		fmt.Printf("Similarity to %q: %.3f\n", *flagTruth, classify.Similarity(consensus, *flagTruth))
	}

	if len(latencies) > 0 {
		mean, std := stat.MeanStdDev(latencies, nil)
		if len(latencies) == 1 {
			std = 0
		}
		fmt.Printf("\n%d calls, %d failed, latency %.1fms ± %.1fms\n", len(latencies), failures, mean, std)
	}
}

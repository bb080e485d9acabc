// Package main runs the OCR labeling daemon: camera frames in, item records out.
package main

import (
	"context"
	"image"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"ocr-labeler/internal/api"
	"ocr-labeler/internal/app"
	"ocr-labeler/internal/capture"
	"ocr-labeler/internal/classify"
	"ocr-labeler/internal/config"
	"ocr-labeler/internal/dataset"
	"ocr-labeler/internal/logger"
	"ocr-labeler/internal/ocr"
	"ocr-labeler/internal/version"

	"github.com/robfig/cron/v3"
)

func main() {
	logger.Init(logger.FromEnv())
	log := logger.Named("main")
	log.Info().Str("build", version.String()).Msg("starting ocr-labeler")

	if err := run(); err != nil {
		log.Error().Err(err).Msg("exiting")
		os.Exit(1)
	}
}

func run() error {
	log := logger.Named("main")

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log.Debug().Msg("config:\n" + cfg.String())

	store, err := dataset.Open(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("driver", cfg.Store.Driver).Str("path", cfg.Store.Path).Msg("dataset store open")

	classifier, watcher, err := buildClassifier(cfg)
	if err != nil {
		return err
	}
	if watcher != nil {
		if err := watcher.Start(); err != nil {
			log.Warn().Err(err).Msg("catalog watcher not started")
		} else {
			defer watcher.Stop()
		}
	}

	engine, err := ocr.NewEngine(ocrParams(cfg.OCR), logger.Named("ocr"))
	if err != nil {
		return err
	}
	defer engine.Close()

	state, err := app.NewState(app.Deps{
		Recognizer:       engine,
		Store:            store,
		Classifier:       classifier,
		Log:              logger.Named("engine"),
		RecognizeTimeout: cfg.RecognizeTimeout(),
		BufferTextPath:   cfg.BufferTextPath,
	})
	if err != nil {
		return err
	}
	state.On(app.EventItemFinalized, func(data interface{}) {
		rec := data.(dataset.ItemRecord)
		log.Info().Str("id", rec.ID).Str("item", rec.ItemName).Msg("item saved")
	})

	camera, err := capture.Open(cfg.Camera.Source, cfg.Camera.Width, cfg.Camera.Height, logger.Named("capture"))
	if err != nil {
		return err
	}
	defer camera.Close()

	exportJob, err := startExport(cfg, store)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var producers sync.WaitGroup
	producers.Add(2)
	go func() {
		defer producers.Done()
		if err := camera.Run(ctx, cfg.CameraInterval(), func(img image.Image) { state.OnFrame(img) }); err != nil {
			log.Error().Err(err).Msg("capture stopped")
		}
	}()
	go func() {
		defer producers.Done()
		state.RunRefresh(ctx, cfg.RefreshInterval())
	}()

	srv := api.NewServer(state, api.Options{
		Addr:        cfg.HTTP.Addr,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Log:         logger.Named("http"),
	})
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.Run() }()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown requested")
	case err = <-srvErr:
		log.Error().Err(err).Msg("http server failed")
		stop()
	}

	// frames must stop before the engine is closed
	producers.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
	defer cancel()
	if e := srv.Shutdown(shutdownCtx); e != nil {
		log.Warn().Err(e).Msg("http shutdown")
	}
	if exportJob != nil {
		<-exportJob.Stop().Done()
	}
	if e := state.Close(shutdownCtx, cfg.FlushOnShutdown); e != nil {
		log.Warn().Err(e).Msg("engine close")
	}
	log.Info().Msg("stopped")
	return err
}

func buildClassifier(cfg config.Config) (classify.Classifier, *classify.Watcher, error) {
	catalog := classify.DefaultCatalog()
	if cfg.Classifier.CatalogPath != "" {
		c, err := classify.LoadCatalog(cfg.Classifier.CatalogPath)
		if err != nil {
			return nil, nil, err
		}
		catalog = c
	}

	if cfg.Classifier.Provider == "anthropic" {
		return classify.NewLLM(cfg.Classifier.AnthropicAPIKey, cfg.Classifier.Model, catalog), nil, nil
	}

	keyword := classify.NewKeyword(catalog)
	var watcher *classify.Watcher
	if cfg.Classifier.WatchCatalog && cfg.Classifier.CatalogPath != "" {
		watcher = classify.NewWatcher(cfg.Classifier.CatalogPath, keyword, logger.Named("catalog"))
	}
	return keyword, watcher, nil
}

func ocrParams(c config.OCR) ocr.Params {
	p := ocr.DefaultParams()
	p.Language = c.Language
	p.Whitelist = c.Whitelist
	p.PSM = c.PSM
	p.MinScaleDim = c.MinScaleDim
	p.CLAHEClipLimit = c.CLAHEClipLimit
	p.CLAHETileSize = c.CLAHETileSize
	p.UseAdaptive = c.Adaptive
	p.AdaptiveBlock = c.AdaptiveBlock
	p.AdaptiveC = c.AdaptiveC
	p.MinConfidence = c.MinConfidence
	if c.Preprocess != nil {
		p.Preprocess = *c.Preprocess
	}
	if c.Invert != nil {
		p.InvertPolarity = *c.Invert
	}
	return p
}

// startExport schedules the chat-dataset export when export.schedule is set.
func startExport(cfg config.Config, store dataset.Store) (*cron.Cron, error) {
	if cfg.Export.Schedule == "" {
		return nil, nil
	}
	sched, err := config.ParseSchedule(cfg.Export.Schedule)
	if err != nil {
		return nil, err
	}
	log := logger.Named("export")
	c := cron.New()
	c.Schedule(sched, cron.FuncJob(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := dataset.ExportChat(ctx, store, cfg.Export.Path)
		if err != nil {
			log.Error().Err(err).Msg("chat export failed")
			return
		}
		log.Info().Int("conversations", n).Str("path", cfg.Export.Path).Msg("chat export written")
	}))
	c.Start()
	log.Info().Str("schedule", cfg.Export.Schedule).Time("next", sched.Next(time.Now())).Msg("chat export scheduled")
	return c, nil
}

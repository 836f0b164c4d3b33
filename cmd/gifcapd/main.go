package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/bnema/gifcap/config"
	"github.com/bnema/gifcap/internal/adapter/export"
	"github.com/bnema/gifcap/internal/adapter/messaging"
	"github.com/bnema/gifcap/internal/adapter/preview/webp"
	"github.com/bnema/gifcap/internal/adapter/source/ffmpeg"
	"github.com/bnema/gifcap/internal/adapter/storage/jsonfile"
	sqlitestore "github.com/bnema/gifcap/internal/adapter/storage/sqlite"
	"github.com/bnema/gifcap/internal/infrastructure/logger"
	"github.com/bnema/gifcap/internal/port"
	"github.com/bnema/gifcap/internal/service"
)

const posterQuality = 75

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error.Printf("failed to load config: %v", err)
		os.Exit(1)
	}

	// stdout belongs to the extension.
	logger.Configure(cfg.LogLevel, os.Stderr)
	logger.Info.Printf("starting gifcap host, data=%s", cfg.DataDir)

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		logger.Error.Printf("failed to create data directory: %v", err)
		os.Exit(1)
	}

	dbPath := cfg.DatabasePath()
	opener := sqlitestore.NewOpener(dbPath, sqlitestore.Options{QuotaBytes: cfg.QuotaBytes()})

	// Open once up front so a schema from a newer build fails fast.
	store, err := opener.Open(context.Background())
	if err != nil {
		logger.Error.Printf("failed to open library: %v", err)
		os.Exit(1)
	}
	_ = store.Close()

	bridge := service.NewBridge(opener, dbPath)
	cacheDir := filepath.Join(cfg.DataDir, "cache")
	worker := bridge.Context(service.ContextWorker, projection(cacheDir, service.ContextWorker))
	popup := bridge.Context(service.ContextPopup, projection(cacheDir, service.ContextPopup))

	source := ffmpeg.NewSource(cfg.FFmpegPath, cfg.FFprobePath)
	sampler := service.NewSampler(source, service.SamplerOptions{
		SeekTimeout: cfg.SeekTimeout,
		MaxFrames:   cfg.MaxFrames,
	})

	var poster port.PosterEncoder
	if cfg.Posters {
		poster = webp.NewPosterEncoder(posterQuality)
	}

	capture := service.NewCaptureService(sampler, worker, export.NewExporter(cfg.ExportDir), poster,
		service.NewEventBus(), service.CaptureOptions{
			PaletteSampleFrames: cfg.PaletteSampleFrames,
			MaxFrames:           cfg.MaxFrames,
		})

	host := messaging.NewHost(messaging.NewCodec(os.Stdin, os.Stdout), capture, popup, worker)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if changes, err := bridge.Watch(ctx); err != nil {
		logger.Warn.Printf("library change feed unavailable: %v", err)
	} else {
		go host.Notify(ctx, changes)
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info.Printf("received %s, shutting down", sig)
		cancel()
		// Serve is blocked reading stdin; closing it unblocks the read.
		_ = os.Stdin.Close()
	}()

	serveErr := host.Serve(ctx)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := capture.Shutdown(shutdownCtx); err != nil {
		logger.Error.Printf("capture shutdown: %v", err)
	}

	if serveErr != nil && !errors.Is(serveErr, os.ErrClosed) {
		logger.Error.Printf("message stream failed: %v", serveErr)
		os.Exit(1)
	}
	logger.Info.Printf("shutdown complete")
}

// projection returns the on-disk listing cache for a context, or nil when it
// cannot be created. Listings still work without one.
func projection(dir, name string) port.ProjectionCache {
	cache, err := jsonfile.NewStore(dir, name)
	if err != nil {
		logger.Warn.Printf("projection cache for %s disabled: %v", name, err)
		return nil
	}
	return cache
}

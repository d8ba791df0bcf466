// main package for the music-service
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/nats-io/nats.go"

	"github.com/book-expert/music-service/internal/app"
	"github.com/book-expert/music-service/internal/config"
	"github.com/book-expert/music-service/internal/httpapi"
	"github.com/book-expert/music-service/internal/worker"
)

func setupLogger(logPath string) (*logger.Logger, error) {
	log, err := logger.New(logPath, "music-service.log")
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := logger.New(os.TempDir(), "music-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() { _ = bootstrapLog.Close() }()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	err = cfg.EnsureDirectories()
	if err != nil {
		bootstrapLog.Error("Failed to create directories: %v", err)

		return err
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir)
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return err
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	// 4. Connect to NATS when configured
	var natsConnection *nats.Conn

	if cfg.NATS.URL != "" {
		natsConnection, err = nats.Connect(cfg.NATS.URL, nats.Name("music-service"))
		if err != nil {
			log.Error("Failed to connect to NATS at %s: %v", cfg.NATS.URL, err)

			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer natsConnection.Close()
	}

	// 5. Wire model gateway, asset store and pipeline
	wired, err := app.New(ctx, cfg, natsConnection, log)
	if err != nil {
		log.Error("Failed to initialize service: %v", err)

		return err
	}

	if wired.Client != nil {
		healthErr := wired.Client.HealthCheck(ctx)
		if healthErr != nil {
			log.Warn("Model server is not reachable yet: %v", healthErr)
		}
	}

	log.System("Music-Service initialized (model %s, backend %s, storage %s)",
		cfg.Music.ModelName, cfg.Music.Backend, cfg.Storage.Backend)

	errChan := make(chan error, 2)
	running := 1

	go func() {
		errChan <- httpapi.NewServer(wired.Pipeline, wired.Store, log).ListenAndServe(ctx, cfg.HTTP.ListenAddr)
	}()

	if natsConnection != nil {
		running++

		musicWorker := worker.NewNatsWorker(natsConnection, wired.Pipeline, worker.Options{
			Subject:         cfg.NATS.MusicRequestedSubject,
			ProgressSubject: cfg.NATS.MusicProgressSubject,
			HandleTimeout:   cfg.Timeout(),
		}, log)

		go func() {
			errChan <- musicWorker.Run(ctx)
		}()
	}

	var runErr error

	for range running {
		err := <-errChan
		if err != nil && runErr == nil {
			runErr = err

			log.Error("Component stopped: %v", err)
			stop()
		}
	}

	log.System("Music-Service stopped.")

	return runErr
}

func main() {
	err := run()
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"

	"github.com/high-horse/fingerprint-server/internal/biometric/afis"
	"github.com/high-horse/fingerprint-server/internal/config"
	"github.com/high-horse/fingerprint-server/internal/device"
	"github.com/high-horse/fingerprint-server/internal/device/uvc"
	"github.com/high-horse/fingerprint-server/internal/identify"
	"github.com/high-horse/fingerprint-server/internal/logging"
	"github.com/high-horse/fingerprint-server/internal/scanner"
	"github.com/high-horse/fingerprint-server/internal/server"
	"github.com/high-horse/fingerprint-server/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "fingerd:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "fingerd.toml", "path to config file")
	lockPath := flag.String("lock", "fingerd.lock", "path to instance lock file")
	flag.Parse()

	// .env is optional; real env always wins.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return err
	}

	// One process per physical scanner. A second instance would race the
	// device behind the capture lock's back.
	instanceLock := flock.New(*lockPath)
	locked, err := instanceLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("another fingerd instance holds %s", *lockPath)
	}
	defer instanceLock.Unlock()

	records, err := store.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer records.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	monitor := device.NewMonitor(logging.WithComponent(logger, "device-monitor"), cfg.Scanner.UdevSubsystem)
	if err := monitor.Start(ctx); err != nil {
		return err
	}
	defer monitor.Stop()

	gateway := uvc.New(logging.WithComponent(logger, "uvc"), cfg.Scanner.CameraIndex, monitor)
	processor := afis.New(logging.WithComponent(logger, "afis"), cfg.Matcher.Threshold)

	scans := scanner.New(gateway, processor, records, logging.WithComponent(logger, "scanner"))
	engine := identify.New(records, processor, logging.WithComponent(logger, "identify"))

	srv := server.New(cfg, scans, engine, logging.WithComponent(logger, "http"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Listen()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		scans.Cancel()
		return srv.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Command fprintd is the daemon entrypoint: it wires the Template
// Store, driver registry, Authorization Gate, Manager, and Bus Surface
// together and runs until idle-exit or signal, in the shape of the
// teacher's cmd/flyio-image-manager daemon loop (flag parsing, a root
// context cancelled on SIGINT/SIGTERM, structured startup logging).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/deepin-community/fprintd-go/internal/authz"
	"github.com/deepin-community/fprintd-go/internal/bussurface"
	"github.com/deepin-community/fprintd-go/internal/config"
	"github.com/deepin-community/fprintd-go/internal/driver"
	"github.com/deepin-community/fprintd-go/internal/driver/fake"
	"github.com/deepin-community/fprintd-go/internal/login1"
	"github.com/deepin-community/fprintd-go/internal/manager"
	"github.com/deepin-community/fprintd-go/internal/metrics"
	"github.com/deepin-community/fprintd-go/internal/store"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	var cfg config.Config
	fs := flag.NewFlagSet("fprintd", flag.ExitOnError)
	config.RegisterFlags(fs, &cfg)
	gFatalWarnings := fs.Bool("g-fatal-warnings", false, "accepted for compatibility; unused")
	if err := fs.Parse(os.Args[1:]); err != nil {
		logger.WithError(err).Fatal("failed to parse flags")
	}
	_ = gFatalWarnings

	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	} else {
		logger.WithField("level", cfg.LogLevel).Warn("unrecognized log level, defaulting to info")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("fprintd exited with error")
	}
}

func run(ctx context.Context, cfg config.Config, logger *logrus.Logger) error {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.WithError(err).Warn("metrics server stopped")
			}
		}()
		go func() {
			<-ctx.Done()
			_ = srv.Close()
		}()
	}

	st, err := store.Open(ctx, store.Config{
		Type:       cfg.StorageType,
		FileRoot:   cfg.StorageFileRoot,
		SQLitePath: cfg.StorageSQLitePath,
		BoltPath:   cfg.StorageBoltPath,
		S3Bucket:   cfg.StorageS3Bucket,
		S3Prefix:   cfg.StorageS3Prefix,
		S3Region:   cfg.StorageS3Region,
	}, logger)
	if err != nil {
		return fmt.Errorf("open template store: %w", err)
	}
	defer st.Close()

	reg2 := driverRegistry(cfg, logger)

	policy := authz.NewLocalPolicy(nil, logger)
	gate := authz.New(policy, logger)

	conn, err := bussurface.Connect()
	if err != nil {
		return fmt.Errorf("connect to bus: %w", err)
	}
	defer conn.Close()

	signals := bussurface.NewSignalSink(conn, logger)

	idleTimeout := cfg.IdleTimeout
	if cfg.NoTimeout {
		idleTimeout = 0
	}

	mgr := manager.New(reg2, st, gate, signals, sleepInhibitor(logger), manager.Config{
		IdleTimeout: idleTimeout,
		OnIdle: func() {
			logger.Info("idle timeout reached, requesting shutdown")
			syscall.Kill(syscall.Getpid(), syscall.SIGTERM)
		},
		Metrics: m,
	}, logger)

	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("start manager: %w", err)
	}

	surface, err := bussurface.New(conn, mgr, logger)
	if err != nil {
		return fmt.Errorf("export bus surface: %w", err)
	}
	surface.RefreshDevices()
	mgr.SetDeviceListener(
		func(id int) { surface.RefreshDevices() },
		func(id int) { surface.RemoveDevice(id) },
	)
	if err := surface.WatchVanished(ctx); err != nil {
		return fmt.Errorf("watch vanished senders: %w", err)
	}

	logger.Info("fprintd ready")
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

// driverRegistry constructs the Registry for cfg.Driver. Only the fake
// driver ships in this tree; a real udev-backed registry is an
// out-of-scope external collaborator (spec.md §1).
func driverRegistry(cfg config.Config, logger *logrus.Logger) driver.Registry {
	if cfg.Driver != "fake" {
		logger.WithField("driver", cfg.Driver).Warn("unrecognized driver, falling back to fake")
	}
	dev := fake.New(fake.Config{
		Name:     "Fake Fingerprint Reader",
		DeviceID: "fake0",
		Logger:   logger,
		Capabilities: driver.Capabilities{
			SupportsStorage:    true,
			SupportsIdentify:   true,
			SupportsListPrints: true,
			ScanType:           driver.ScanPress,
			NumEnrollStages:    5,
		},
		Capacity: 10,
	})
	return driver.NewStaticRegistry(dev)
}

func sleepInhibitor(logger *logrus.Logger) manager.SleepInhibitor {
	inh, err := login1.New("fprintd", "fingerprint reader access")
	if err != nil {
		logger.WithError(err).Warn("sleep inhibitor unavailable; suspend handshake disabled")
		return nil
	}
	return inh
}

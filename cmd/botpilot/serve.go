package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"botpilot/internal/kernel"
	"botpilot/pkg/config"
	"botpilot/pkg/logx"
	"botpilot/pkg/version"
	"botpilot/pkg/workspace"
)

const conditionsRefreshInterval = 5 * time.Minute

// serve runs the kernel and web UI until SIGINT or SIGTERM and returns an exit code.
func serve(cfg *config.Config, tee bool) int {
	// Before any logging so config and startup messages reach the file.
	if err := logx.InitializeLogFile(cfg.Logs.Dir, cfg.Logs.Keep, tee); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize log file: %v\n", err)
		return 1
	}
	defer func() {
		if err := logx.CloseLogFile(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
		}
	}()
	if cfg.Logs.Debug {
		logx.SetDebug(true)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runServer(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "botpilot failed: %v\n", err)
		return 1
	}
	return 0
}

func runServer(ctx context.Context, cfg *config.Config, opts ...kernel.Option) error {
	logger := logx.NewLogger("main")
	logger.Info("Starting %s", version.String())

	report, err := workspace.Verify(ctx, cfg, workspace.VerifyOptions{Fast: true, Logger: logger})
	if err != nil {
		return fmt.Errorf("verification failed: %w", err)
	}
	if !report.OK {
		return fmt.Errorf("verification failed: %s", strings.Join(report.Failures, "; "))
	}

	k, err := kernel.NewKernel(ctx, cfg, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := k.Stop(); err != nil {
			logger.Error("Kernel shutdown failed: %v", err)
		}
	}()
	if err := k.Start(); err != nil {
		return fmt.Errorf("failed to start kernel: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return k.WebServer.Serve(gctx, cfg.WebUI.Addr)
	})
	g.Go(func() error {
		ticker := time.NewTicker(conditionsRefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if err := k.RefreshConditions(gctx); err != nil {
					logger.Warn("Periodic condition refresh failed: %v", err)
				}
			}
		}
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("web UI: %w", err)
	}
	logger.Info("Shutdown signal received")
	return nil
}

// verify prints a full verification report and returns an exit code.
func verify(cfg *config.Config) int {
	report, err := workspace.Verify(context.Background(), cfg, workspace.VerifyOptions{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Verification error: %v\n", err)
		return 1
	}
	for _, w := range report.Warnings {
		fmt.Printf("⚠️  %s\n", w)
	}
	for _, f := range report.Failures {
		fmt.Printf("❌ %s\n", f)
	}
	if !report.OK {
		return 1
	}
	fmt.Println("✅ botpilot is ready")
	return 0
}

// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/gogpu/bufmgr"
)

var (
	runFrames  int
	runBackend string
	runListen  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the synthetic workload and print statistics",
	Long: `Run issues the configured number of frames. Each frame acquires vertex
buffers, uploads constants, emits draws against a scanout render target and
finishes with a copy of the target on the blitter ring.

With --listen the simulator serves /stats and /requests/{ring} while it runs.`,
	RunE: runWorkload,
}

func init() {
	runCmd.Flags().IntVar(&runFrames, "frames", 0, "frames to run (overrides workload.frames)")
	runCmd.Flags().StringVar(&runBackend, "backend", "", "device backend: fake or hal (overrides device.backend)")
	runCmd.Flags().StringVar(&runListen, "listen", "", "serve debug endpoints on this address (overrides debug.listen)")
	rootCmd.AddCommand(runCmd)
}

func runWorkload(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("frames") {
		cfg.Workload.Frames = runFrames
	}
	if runBackend != "" {
		cfg.Device.Backend = runBackend
	}
	if runListen != "" {
		cfg.Debug.Listen = runListen
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg.Logging.Level)
	bufmgr.SetLogger(logger)

	dev, err := openDevice(cfg)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	m, err := bufmgr.New(dev, cfg.ManagerConfig())
	if err != nil {
		dev.close()
		return err
	}
	atexit.Register(func() {
		if err := m.Close(); err != nil {
			logger.Error("bufmgrsim: close manager", "err", err)
		}
		dev.close()
	})

	sim, err := newSimulator(m, dev.fake, cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	if cfg.Debug.Listen != "" {
		srv, err := serveDebug(cfg.Debug.Listen, sim, logger)
		if err != nil {
			return err
		}
		defer srv.Shutdown(context.Background())
	}

	runErr := sim.Run(ctx)
	p, st := sim.snapshot()
	report(cmd.OutOrStdout(), p, st)
	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func serveDebug(addr string, sim *simulator, logger *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("debug listener: %w", err)
	}
	srv := &http.Server{Handler: newRouter(sim)}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("bufmgrsim: debug server", "err", err)
		}
	}()
	logger.Info("bufmgrsim: serving debug endpoints", "addr", ln.Addr().String())
	return srv, nil
}

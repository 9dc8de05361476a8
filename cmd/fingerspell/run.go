package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/spf13/cobra"

	"github.com/ayusman/fingerspell/internal/aggregator"
	"github.com/ayusman/fingerspell/internal/app"
	"github.com/ayusman/fingerspell/internal/capture"
	"github.com/ayusman/fingerspell/internal/config"
	"github.com/ayusman/fingerspell/internal/server"
	"github.com/ayusman/fingerspell/internal/store"
	"github.com/ayusman/fingerspell/internal/tray"
)

type runOptions struct {
	tray        bool
	noAutostart bool
	addr        string
	inference   string
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the web UI and begin listening to the camera",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.logger(cmd)
			if err != nil {
				return err
			}
			if opts.addr != "" {
				cfg.Server.Addr = opts.addr
			}
			if opts.inference != "" {
				cfg.Inference.URL = opts.inference
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return run(cmd.Context(), cfg, opts, logger)
		},
	}

	cmd.Flags().BoolVar(&opts.tray, "tray", false, "Show a system tray menu")
	cmd.Flags().BoolVar(&opts.noAutostart, "no-autostart", false, "Wait for a start request instead of opening the camera immediately")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Override server.addr")
	cmd.Flags().StringVar(&opts.inference, "inference-url", "", "Override inference.url")
	return cmd
}

func run(parent context.Context, cfg *config.Config, opts runOptions, logger *slog.Logger) error {
	lock := flock.New(cfg.LockPath())
	ok, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another fingerspell instance is already running")
	}
	defer lock.Unlock()

	st, err := store.New(cfg.DatabasePath())
	if err != nil {
		return fmt.Errorf("open session store: %w", err)
	}
	defer st.Close()

	camera := capture.NewCamera(capture.CameraConfig{
		DeviceID: cfg.Capture.CameraID,
		Width:    cfg.Capture.Width,
		Height:   cfg.Capture.Height,
		FPS:      1000 / cfg.Capture.FrameIntervalMs,
	})

	application := app.New(app.Config{
		Store:            st,
		Source:           capture.NewJPEGSource(camera, cfg.Capture.JPEGQuality),
		InferenceURL:     cfg.Inference.URL,
		HandshakeTimeout: cfg.HandshakeTimeout(),
		FrameInterval:    cfg.FrameInterval(),
		Policy: aggregator.Policy{
			DisplayRefresh: cfg.DisplayRefresh(),
			CommitCooldown: cfg.CommitCooldown(),
		},
		Logger: logger,
	})
	defer func() {
		if err := application.Stop(); err != nil {
			logger.Error("stop session", "error", err)
		}
	}()

	events := server.NewEventsHandler(application.Snapshot, logger)
	application.OnChange(events.Broadcast)

	staticDir := cfg.Server.StaticDir
	if staticDir == "" {
		staticDir = findWebDir(cfg.Storage.DataDir)
	}
	if staticDir != "" {
		logger.Info("serving static files", "dir", staticDir)
	}

	srv := server.New(server.Config{
		StaticDir:  staticDir,
		Store:      st,
		Controller: application,
		Events:     events,
		Logger:     logger,
	})

	runCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !opts.noAutostart {
		if err := application.Start(runCtx); err != nil {
			// the page shows the transport banner and can retry
			logger.Warn("initial session did not start", "error", err)
		}
	}

	if !opts.tray {
		return srv.Run(runCtx, cfg.Server.Addr)
	}
	return runWithTray(runCtx, stop, srv, application, cfg.Server.Addr, logger)
}

// runWithTray blocks in the tray loop, which must own the main thread on
// some platforms, and serves HTTP in the background.
func runWithTray(ctx context.Context, stop context.CancelFunc, srv *server.Server, application *app.App, addr string, logger *slog.Logger) error {
	t := tray.New()
	wireTray(ctx, stop, t, application, addr, logger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx, addr)
		t.Quit()
	}()

	t.Run()
	stop()
	return <-errCh
}

// wireTray connects the menu to application in both directions. Sessions
// started or stopped over HTTP update the menu too.
func wireTray(ctx context.Context, stop context.CancelFunc, t *tray.Tray, application *app.App, addr string, logger *slog.Logger) {
	t.Update(application.Snapshot())
	t.SetListening(application.Running())
	application.OnChange(t.Update)
	application.OnRunningChange(t.SetListening)

	t.OnListen(func(listen bool) {
		if listen {
			if err := application.Start(ctx); err != nil {
				logger.Warn("start session from tray", "error", err)
			}
		} else if err := application.Stop(); err != nil {
			logger.Error("stop session from tray", "error", err)
		}
	})
	t.OnSpace(func() {
		if err := application.AppendSpace(); err != nil {
			logger.Debug("add space from tray", "error", err)
		}
	})
	t.OnReset(func() {
		if err := application.Reset(); err != nil {
			logger.Debug("clear text from tray", "error", err)
		}
	})
	t.OnOpen(func() {
		if err := openBrowser(browserURL(addr)); err != nil {
			logger.Warn("open browser", "error", err)
		}
	})
	t.OnQuit(stop)
}

// Command agentdeck runs the session daemon: per-session PTY terminals over
// WebSocket, file tails over SSE, and the session REST API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/agentdeck/agentdeck/internal/bus"
	"github.com/agentdeck/agentdeck/internal/config"
	"github.com/agentdeck/agentdeck/internal/files"
	otelPkg "github.com/agentdeck/agentdeck/internal/otel"
	"github.com/agentdeck/agentdeck/internal/pty"
	"github.com/agentdeck/agentdeck/internal/server"
	"github.com/agentdeck/agentdeck/internal/store"
	"github.com/agentdeck/agentdeck/internal/telemetry"
)

// Version is set at build time via -ldflags "-X main.Version=...".
var Version = "dev"

func printUsage(w *os.File) {
	fmt.Fprintf(w, `agentdeck %s

Usage:
  agentdeck [flags]

Flags:
  -addr string    override bind_addr from config.yaml
  -version        print version and exit
  -h, -help       show this help

Configuration lives in $AGENTDECK_HOME/config.yaml (default ~/.agentdeck).
`, Version)
}

func main() {
	flag.Usage = func() { printUsage(os.Stderr) }
	addrFlag := flag.String("addr", "", "override bind address")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("agentdeck %s\n", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Interactive runs keep stdout clean; logs still land in the log file.
	interactive := isatty.IsTerminal(os.Stdout.Fd())

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}
	if *addrFlag != "" {
		cfg.BindAddr = *addrFlag
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, interactive)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "home", cfg.HomeDir)

	// Create the event bus early so it can be passed to the store.
	eventBus := bus.New()

	// Initialize OpenTelemetry (no-op when disabled, zero overhead).
	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:     cfg.Telemetry.Enabled,
		Exporter:    cfg.Telemetry.Exporter,
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRate:  cfg.Telemetry.SampleRate,
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	dbPath := filepath.Join(cfg.HomeDir, "agentdeck.db")
	sessions, err := store.Open(dbPath, eventBus)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer sessions.Close()
	logger.Info("startup phase", "phase", "schema_migrated", "db", dbPath)

	ptys := pty.NewManager(cfg.Terminal.Shell, cfg.Terminal.ScrollbackBytes, logger)
	defer ptys.Shutdown()

	srv := server.New(server.Config{
		Store:             sessions,
		PTYs:              ptys,
		Files:             files.NewService(cfg.Files.MaxFileBytes),
		Bus:               eventBus,
		Metrics:           metrics,
		Tail:              cfg.Tail,
		ConfigFingerprint: cfg.Fingerprint(),
	})

	// Stale-session sweeper: idle sessions whose process has exited (or
	// never started) are removed on a cron schedule.
	if cfg.Sessions.IdleTTLMinutes > 0 {
		sweeper, err := store.NewSweeper(store.SweeperConfig{
			Store:    sessions,
			Logger:   logger,
			Schedule: cfg.Sessions.SweepSchedule,
			IdleTTL:  time.Duration(cfg.Sessions.IdleTTLMinutes) * time.Minute,
			Removable: func(sessionID string) bool {
				proc, ok := ptys.Get(sessionID)
				return !ok || proc.Exited()
			},
			OnRemove: ptys.Destroy,
		})
		if err != nil {
			fatalStartup(logger, "E_SWEEPER_INIT", err)
		}
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: srv.Handler(),
	}
	serverErr := make(chan error, 1)
	lc := &net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			err = fmt.Errorf("%w\n\n  Port is already in use. Stop the existing process or change bind_addr in config.yaml.", err)
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	logger.Info("startup phase", "phase", "listener_bound", "addr", cfg.BindAddr)
	go func() {
		logger.Info("daemon listening", "addr", cfg.BindAddr, "ws", "/ws/terminal", "sse", "/events/tail")
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	if interactive {
		fmt.Printf("agentdeck %s listening on %s\n", Version, cfg.BindAddr)
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("daemon server error", "error", err)
	}

	// Graceful shutdown: stop intake first, then the deferred cleanups tear
	// down the sweeper, PTYs, and the store.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(os.Stderr, "agentdeck: startup failure (%s): %s\n", reasonCode, message)
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	if opErr, ok := err.(*net.OpError); ok {
		if sysErr, ok := opErr.Err.(*os.SyscallError); ok {
			return sysErr.Err == syscall.EADDRINUSE
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}

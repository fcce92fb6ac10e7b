// Command agent is the hollows-hunter agent binary. It loads HHParams
// configuration (CLI flags over an optional YAML base, plus an INI
// ETWProfile that is loaded and checked for at least one enabled provider;
// the event source is always started with every kernel provider enabled,
// whatever the profile's settings), wires the
// scan pipeline (EventSource+Dispatcher in ETW mode, or a Poller),
// optionally the post-scan actuator, a tamper-evident audit log, a durable
// scan-history store, and a local control-plane HTTP API, and shuts down
// gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hollows-hunter/agent/internal/actuator"
	"github.com/hollows-hunter/agent/internal/agent"
	"github.com/hollows-hunter/agent/internal/audit"
	"github.com/hollows-hunter/agent/internal/config"
	"github.com/hollows-hunter/agent/internal/controlapi"
	"github.com/hollows-hunter/agent/internal/eventsource"
	"github.com/hollows-hunter/agent/internal/history"
	"github.com/hollows-hunter/agent/internal/inspector"
	"github.com/hollows-hunter/agent/internal/poller"
	"github.com/hollows-hunter/agent/internal/procinfo"
	"github.com/hollows-hunter/agent/internal/report"
	"github.com/hollows-hunter/agent/internal/winproc"
)

func main() {
	var (
		configPath     string
		etwProfilePath string
		auditLogPath   string
		historyPath    string
		postgresDSN    string
		hostID         string
		controlAddr    string
		jwtPubKeyPath  string
	)

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	// Registered on the same FlagSet as the HHParams CLI flags (added by
	// config.ParseFlags below), so binary-level flags and "/hooks"-style
	// scanner flags are parsed together in one pass. -config and -profile
	// are registered by config.ParseFlags itself.
	fs.StringVar(&auditLogPath, "audit-log", "", "path to the tamper-evident suspend/kill audit log (disabled if empty)")
	fs.StringVar(&historyPath, "history-db", "", "path to the SQLite scan-history database (disabled if empty)")
	fs.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string for a centralized scan-history store (overrides -history-db)")
	fs.StringVar(&hostID, "host-id", "", "identifier this host reports scan history under when using -postgres-dsn")
	fs.StringVar(&controlAddr, "control-addr", "", "listen address for the local control-plane HTTP API (disabled if empty)")
	fs.StringVar(&jwtPubKeyPath, "jwt-pubkey", "", "PEM-encoded RSA public key to require for control-plane API routes")

	args := config.NormalizeArgs(os.Args[1:])
	cliFlags, err := config.ParseFlags(fs, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hollows-hunter: %v\n", err)
		os.Exit(1)
	}
	configPath = cliFlags.ConfigPath
	etwProfilePath = cliFlags.ETWProfilePath

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.LoadYAML(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "hollows-hunter: %v\n", err)
			os.Exit(1)
		}
		cfg = *loaded
	}
	if err := cliFlags.Merge(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "hollows-hunter: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("configuration loaded",
		slog.Bool("etw_scan", cfg.ETWScan),
		slog.String("out_dir", cfg.OutDir),
		slog.String("log_level", cfg.LogLevel),
	)

	if cfg.ETWScan && etwProfilePath != "" {
		profile, err := config.InitProfile(etwProfilePath)
		if err != nil {
			logger.Error("failed to load ETW profile", slog.String("path", etwProfilePath), slog.Any("error", err))
			os.Exit(1)
		}
		if !profile.IsEnabled() {
			logger.Warn("ETW profile has every provider disabled", slog.String("path", etwProfilePath))
		}
	}

	// The Inspector (PE-integrity scanner) is an external collaborator
	// per spec.md; this build wires inspector.NewFake as a stand-in so the
	// orchestrator runs end-to-end without the real pesieve engine.
	insp := inspector.NewFake()
	namer := procinfo.New()

	var auditLog *audit.Logger
	if auditLogPath != "" {
		auditLog, err = audit.Open(auditLogPath)
		if err != nil {
			logger.Error("failed to open audit log", slog.String("path", auditLogPath), slog.Any("error", err))
			os.Exit(1)
		}
		defer auditLog.Close()
	}

	var act *actuator.Actuator
	if cfg.SuspendSuspicious || cfg.KillSuspicious {
		act = actuator.New(winproc.Controller{}, logger, auditLog)
	}

	var agentOpts []agent.Option
	if act != nil {
		agentOpts = append(agentOpts, agent.WithActuator(act))
	}
	if cfg.ETWScan {
		agentOpts = append(agentOpts, agent.WithEventSource(eventsource.New()))
	}

	var broadcaster *controlapi.Broadcaster
	if controlAddr != "" {
		broadcaster = controlapi.NewBroadcaster(logger, 32)
		defer broadcaster.Close()
		agentOpts = append(agentOpts, agent.WithPublisher(broadcaster))
	}

	var historyStore controlapi.HistoryStore
	if postgresDSN != "" {
		pg, err := history.NewPostgresStore(context.Background(), postgresDSN, 50, 5*time.Second)
		if err != nil {
			logger.Error("failed to open Postgres history store", slog.Any("error", err))
			os.Exit(1)
		}
		defer pg.Close(context.Background())
		agentOpts = append(agentOpts, agent.WithHistory(pgHistorySink{store: pg, hostID: hostID}))
		historyStore = pg.ForHost(hostID)
	} else if historyPath != "" {
		sqlite, err := history.NewSQLiteStore(historyPath)
		if err != nil {
			logger.Error("failed to open SQLite history store", slog.String("path", historyPath), slog.Any("error", err))
			os.Exit(1)
		}
		defer sqlite.Close()
		agentOpts = append(agentOpts, agent.WithHistory(sqlite))
		historyStore = sqlite
	}

	var regions = winproc.RegionChecker{}
	ag := agent.New(&cfg, logger, insp, namer, namer, regions, pollerEnumerator, agentOpts...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ag.Start(ctx); err != nil {
		logger.Error("failed to start agent", slog.Any("error", err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", ag.HealthzHandler)

	healthServer := &http.Server{
		Addr:         ":8080",
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("healthz server listening", slog.String("addr", healthServer.Addr))
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("healthz server error", slog.Any("error", err))
		}
	}()

	var controlServer *http.Server
	if controlAddr != "" {
		pubKey, err := loadRSAPublicKey(jwtPubKeyPath)
		if err != nil {
			logger.Error("failed to load JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		srv := controlapi.NewServer(historyStore, ag.TriggerScan, &cfg)
		controlServer = &http.Server{
			Addr:         controlAddr,
			Handler:      controlapi.NewRouter(srv, pubKey),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("control API listening", slog.String("addr", controlAddr), slog.Bool("jwt_required", pubKey != nil))
			if err := controlServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("control API server error", slog.Any("error", err))
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	ag.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("healthz server shutdown error", slog.Any("error", err))
	}
	if controlServer != nil {
		if err := controlServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("control API server shutdown error", slog.Any("error", err))
		}
	}

	logger.Info("hollows-hunter agent exited cleanly")
}

// pollerEnumerator lists every OS PID currently running, used in polling
// mode.
func pollerEnumerator(ctx context.Context) ([]poller.Pid, error) {
	pids, err := procinfo.EnumeratePIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]poller.Pid, len(pids))
	for i, p := range pids {
		out[i] = poller.Pid(p)
	}
	return out, nil
}

// pgHistorySink adapts PostgresStore's multi-host Append to agent.HistorySink's
// single-host signature.
type pgHistorySink struct {
	store  *history.PostgresStore
	hostID string
}

func (p pgHistorySink) Append(ctx context.Context, rep *report.Report, opts report.RenderOptions) error {
	return p.store.Append(ctx, p.hostID, rep, opts)
}

// loadRSAPublicKey reads and parses a PEM-encoded RSA public key from path.
// An empty path disables JWT validation entirely.
func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %q: %w", path, err)
	}
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%q does not contain PEM data", path)
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parsing %q: %w", path, err)
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%q is not an RSA public key", path)
	}
	return rsaKey, nil
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

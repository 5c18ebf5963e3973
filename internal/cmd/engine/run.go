package engine

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	cfgpkg "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/config"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/runtime"
	logpkg "github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

// RunOptions configure a long-running node.
type RunOptions struct {
	Config cfgpkg.Config
	Logger logpkg.Logger
	// JanitorInterval is how often expired messages are trimmed. Zero disables it.
	JanitorInterval time.Duration
	// Ready, when set, receives the runtime once it is open.
	Ready func(*runtime.Runtime)
}

// Run opens the runtime, serves metrics when an address is configured and
// blocks until ctx is cancelled.
func Run(ctx context.Context, opts RunOptions) error {
	sctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.Logger == nil {
		opts.Logger = logpkg.NewNopLogger()
	}
	cfg := opts.Config
	if cfg.Store.DataDir != "" {
		cfg.Store.DataDir = filepath.Join(cfg.Store.DataDir, "store")
	}
	rt, err := runtime.Open(sctx, runtime.Options{Config: cfg, Logger: opts.Logger})
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			opts.Logger.Error("runtime close failed", logpkg.Err(err))
		}
	}()

	opts.Logger.Info("starting maps node",
		logpkg.Str("data_dir", cfg.Store.DataDir),
		logpkg.Str("fsync", cfg.Store.Fsync),
		logpkg.Str("metrics", cfg.Metrics.ListenAddr),
		logpkg.Duration("janitor", opts.JanitorInterval),
	)

	var wg sync.WaitGroup
	if opts.JanitorInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.RunJanitor(sctx, opts.JanitorInterval)
		}()
	}
	var srv *http.Server
	if cfg.Metrics.ListenAddr != "" {
		srv = serveMetrics(rt, cfg.Metrics.ListenAddr, opts.Logger, &wg)
	}
	if opts.Ready != nil {
		opts.Ready(rt)
	}

	<-sctx.Done()
	// stop serving before the runtime closes the store
	if srv != nil {
		_ = srv.Close()
	}
	wg.Wait()
	return nil
}

func serveMetrics(rt *runtime.Runtime, addr string, logger logpkg.Logger, wg *sync.WaitGroup) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", rt.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rt.CheckHealth(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", logpkg.Err(err), logpkg.Str("addr", addr))
		}
	}()
	return srv
}

// NewRunCommand constructs the `run` command.
func NewRunCommand() *cobra.Command {
	runCmd := &cobra.Command{
		Use:     "run",
		Short:   "Run a delivery node until interrupted",
		Aliases: []string{"start"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			dataDir, _ := cmd.Flags().GetString("data-dir")
			metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
			janitor, _ := cmd.Flags().GetDuration("janitor-interval")
			if dataDir != "" {
				cfg.Store.DataDir = dataDir
			}
			if cfg.Store.DataDir == "" {
				cfg.Store.DataDir = cfgpkg.DefaultDataDir()
			}
			if metricsAddr != "" {
				cfg.Metrics.ListenAddr = metricsAddr
			}
			logger := newLogger(cfg)
			logpkg.RedirectStdLog(logger)
			return Run(cmd.Context(), RunOptions{Config: cfg, Logger: logger, JanitorInterval: janitor})
		},
	}
	runCmd.Flags().String("config", "", "Config file (.json, .yaml or .yml)")
	runCmd.Flags().String("data-dir", "", "Data directory (if not specified, uses MAPS_DATA_DIR or the OS application data directory)")
	runCmd.Flags().String("metrics-addr", "", "Prometheus listen address, e.g. :9090")
	runCmd.Flags().String("log-level", "", "Log level: debug|info|warn|error")
	runCmd.Flags().Duration("janitor-interval", 30*time.Second, "How often expired messages are trimmed (0 disables)")
	return runCmd
}

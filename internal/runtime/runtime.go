package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/bitset"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/catalog"
	cfgpkg "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/config"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/destination"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/delivery/subscription"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/metrics"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/schema"
	pebblestore "github.com/Maps-Messaging/mapsmessaging-server-sub009/internal/storage/pebble"
	"github.com/Maps-Messaging/mapsmessaging-server-sub009/pkg/log"
)

// Options for building the Runtime.
type Options struct {
	Config cfgpkg.Config
	Logger log.Logger
	// Registry receives the collectors. Nil creates a private registry.
	Registry *prometheus.Registry
	Now      func() time.Time
}

// Runtime owns the process services of one node.
type Runtime struct {
	config cfgpkg.Config
	logger log.Logger

	db       *pebblestore.DB
	catalog  *catalog.Catalog
	segments *bitset.PebbleFactory

	registry     *prometheus.Registry
	metrics      *metrics.PrometheusCollector
	schemas      *schema.Registry
	destinations *destination.Registry
}

// Open initializes storage, starts the schema registry and reopens every
// destination recorded in the catalog.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	rt := &Runtime{
		config:   cfg,
		logger:   opts.Logger.With(log.Component("runtime")),
		registry: opts.Registry,
		metrics:  metrics.NewPrometheus(opts.Registry, cfg.Metrics.Namespace),
	}

	if cfg.Store.DataDir != "" {
		mode, err := pebblestore.ParseFsyncMode(cfg.Store.Fsync)
		if err != nil {
			return nil, err
		}
		rt.db, err = pebblestore.Open(pebblestore.Options{
			DataDir:       cfg.Store.DataDir,
			Fsync:         mode,
			FsyncInterval: cfg.Store.FsyncInterval(),
			Metrics:       rt.metrics,
		})
		if err != nil {
			return nil, err
		}
		rt.catalog = catalog.New(rt.db)
		rt.segments = bitset.NewPebbleFactory(rt.db, uint64(cfg.Delivery.SegmentSize))
	}

	rt.schemas = schema.NewRegistry(rt.db, opts.Logger)
	if err := rt.schemas.Start(ctx); err != nil {
		return nil, errors.Join(err, rt.closeStore())
	}

	bopts := subscription.Options{
		Config:  cfg.Delivery,
		Memory:  bitset.NewMemoryFactory(uint64(cfg.Delivery.SegmentSize)),
		Schemas: rt.schemas,
		Metrics: rt.metrics,
		Logger:  opts.Logger,
		Now:     opts.Now,
	}
	if rt.db != nil {
		bopts.Durable = rt.segments
		bopts.Store = rt.catalog
	}
	rt.destinations = destination.NewRegistry(destination.RegistryOptions{
		DB:      rt.db,
		Catalog: rt.catalog,
		Builder: subscription.NewBuilder(bopts),
		Logger:  opts.Logger,
		Now:     opts.Now,
	})
	if err := rt.destinations.OpenAll(ctx); err != nil {
		rt.logger.Warn("some destinations failed to reopen", log.Err(err))
	}
	rt.logger.Info("runtime open",
		log.Str("data_dir", cfg.Store.DataDir),
		log.Int("destinations", rt.destinations.Len()),
		log.Int("segment_size", cfg.Delivery.SegmentSize),
	)
	return rt, nil
}

// Close stops every destination, then the schema registry and storage.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if r.destinations != nil {
		errs = append(errs, r.destinations.Close(ctx))
	}
	if r.schemas != nil {
		errs = append(errs, r.schemas.Close())
	}
	errs = append(errs, r.closeStore())
	return errors.Join(errs...)
}

func (r *Runtime) closeStore() error {
	if r.db == nil {
		return nil
	}
	db := r.db
	r.db = nil
	return db.Close()
}

// CheckHealth performs a simple health check.
func (r *Runtime) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.config.Store.DataDir == "" {
		return nil
	}
	if r.db == nil {
		return errors.New("db not open")
	}
	it, err := r.db.NewIter(nil)
	if err != nil {
		return err
	}
	return it.Close()
}

// TrimExpired drops expired messages from every open destination.
func (r *Runtime) TrimExpired(ctx context.Context) (int, error) {
	var total int
	var errs []error
	for _, info := range r.destinations.List("") {
		d, ok := r.destinations.Resolve(info.Handle)
		if !ok {
			continue
		}
		n, err := d.TrimExpired(ctx)
		total += n
		if err != nil && !errors.Is(err, destination.ErrClosed) {
			errs = append(errs, fmt.Errorf("trim %s: %w", info.Name, err))
		}
	}
	return total, errors.Join(errs...)
}

// RunJanitor trims expired messages every interval until ctx ends.
func (r *Runtime) RunJanitor(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if n, err := r.TrimExpired(ctx); err != nil {
				r.logger.Warn("expiry sweep failed", log.Err(err))
			} else if n > 0 {
				r.logger.Debug("expiry sweep", log.Int("trimmed", n))
			}
		}
	}
}

// MetricsHandler serves the runtime's collectors.
func (r *Runtime) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *Runtime) Destinations() *destination.Registry { return r.destinations }
func (r *Runtime) Schemas() *schema.Registry           { return r.schemas }
func (r *Runtime) Metrics() metrics.Recorder           { return r.metrics }
func (r *Runtime) Config() cfgpkg.Config               { return r.config }

// DB exposes the underlying DB for advanced operations (internal use only).
// It is nil for an in-memory runtime.
func (r *Runtime) DB() *pebblestore.DB { return r.db }

// Segments returns the persistent segment factory, nil in memory.
func (r *Runtime) Segments() *bitset.PebbleFactory { return r.segments }

// catalogjobsd is the job-execution daemon: it wires a backing store, the
// six registered job definitions, pkg/controller's bounded executor pool,
// and a Prometheus metrics listener, then blocks until SIGTERM/SIGINT.
//
// Grounded in master/cmd/master/main.go's start-up sequence (store
// selection by flag, metrics server on its own listener, signal-driven
// graceful shutdown) with the HTTP job-submission surface removed — this
// daemon has no API transport (spec.md §1 Non-goals); job submission
// happens through catalogjobsctl writing a pending job row directly to
// the same store, which this process's pending-job poller picks up.
package main

import (
	"context"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/lumina-project/catalogjobs/internal/config"
	"github.com/lumina-project/catalogjobs/internal/logging"
	"github.com/lumina-project/catalogjobs/internal/metrics"
	"github.com/lumina-project/catalogjobs/internal/shutdown"
	"github.com/lumina-project/catalogjobs/internal/tracing"
	"github.com/lumina-project/catalogjobs/pkg/batch"
	"github.com/lumina-project/catalogjobs/pkg/controller"
	"github.com/lumina-project/catalogjobs/pkg/jobs"
	"github.com/lumina-project/catalogjobs/pkg/jobs/definitions"
	"github.com/lumina-project/catalogjobs/pkg/store"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	log := logging.New(cfg.LogLevel, cfg.LogJSON)
	log.Info("starting catalogjobsd", map[string]interface{}{
		"db_dsn_set":          cfg.DBDSN != "",
		"max_concurrent_jobs": cfg.MaxConcurrentJobs,
	})

	tp, err := tracing.Init(tracing.Config{
		ServiceName:  "catalogjobsd",
		Enabled:      cfg.TracingEnabled,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		log.Fatal("tracing init failed", map[string]interface{}{"error": err.Error()})
	}

	gw, batchStore, err := openStores(cfg.DBDSN)
	if err != nil {
		log.Fatal("failed to open backing store", map[string]interface{}{"error": err.Error()})
	}

	registry := jobs.NewRegistry()
	definitions.RegisterAll(registry, definitions.Deps{Gateway: gw})
	registry.Lock()
	log.Info("registered job definitions", map[string]interface{}{"jobs": registry.List()})

	batchMgr := batch.New(batchStore)
	ctrl := controller.New(batchMgr, gw, registry, tp, log, cfg.MaxConcurrentJobs)

	if n, err := ctrl.Recover(context.Background()); err != nil {
		log.Error("startup orphan recovery failed", map[string]interface{}{"error": err.Error()})
	} else if n > 0 {
		log.Info("recovered orphaned batches from a prior run", map[string]interface{}{"count": n})
	}

	pollCtx, stopPolling := context.WithCancel(context.Background())
	go ctrl.RunPendingPoller(pollCtx, controller.DefaultPendingPollInterval)

	met := metrics.New()
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		router := mux.NewRouter()
		router.Handle("/metrics", met.Handler()).Methods(http.MethodGet)
		router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"healthy"}`))
		}).Methods(http.MethodGet)
		metricsSrv = &http.Server{
			Addr:         cfg.MetricsAddr,
			Handler:      router,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("metrics server listening", map[string]interface{}{"addr": cfg.MetricsAddr})
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("metrics server error", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	sd := shutdown.New(30*time.Second, log)
	if metricsSrv != nil {
		sd.Register(shutdown.StopHTTPServer(metricsSrv, "metrics"))
	}
	sd.Register(shutdown.CloseResource(batchMgr, "batch store"))
	sd.Register(func(ctx context.Context) error {
		stopPolling()
		ctrl.Wait()
		return nil
	})
	sd.Register(func(ctx context.Context) error {
		return tp.Shutdown(ctx)
	})

	sd.Wait()
}

// openStores builds the job/batch store pair from dsn: empty means
// in-memory, a postgres:// DSN selects pkg/store's and pkg/batch's
// respective Postgres backends. pkg/batch has no SQLite backend, so a
// sqlite DSN here would only serve reads through pkg/store — unsupported
// for this daemon, which needs both.
func openStores(dsn string) (store.Gateway, batch.Store, error) {
	if dsn == "" {
		return store.NewMemoryGateway(), batch.NewMemoryStore(), nil
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		gw, err := store.NewPostgresGateway(store.Config{Driver: "postgres", DSN: dsn})
		if err != nil {
			return nil, nil, err
		}
		bs, err := batch.NewPostgresStore(dsn)
		if err != nil {
			return nil, nil, err
		}
		return gw, bs, nil
	}
	return nil, nil, errUnsupportedDSN(dsn)
}

type errUnsupportedDSN string

func (e errUnsupportedDSN) Error() string {
	return "config: unsupported DSN (expected empty or postgres://...): " + string(e)
}

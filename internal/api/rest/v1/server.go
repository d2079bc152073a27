// Package rest provides functionality for initializing a server.
package rest

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/danilovkiri/dk-go-nowserving/internal/api/rest/client"
	"github.com/danilovkiri/dk-go-nowserving/internal/api/rest/v1/handlers"
	"github.com/danilovkiri/dk-go-nowserving/internal/api/rest/v1/middleware"
	"github.com/danilovkiri/dk-go-nowserving/internal/config"
	"github.com/danilovkiri/dk-go-nowserving/internal/metrics"
	"github.com/danilovkiri/dk-go-nowserving/internal/service/dispatcher/v1/dispatcher"
	"github.com/danilovkiri/dk-go-nowserving/internal/service/monitor/v1/monitor"
	"github.com/danilovkiri/dk-go-nowserving/internal/service/policy/v1"
	"github.com/danilovkiri/dk-go-nowserving/internal/service/secretary/v1/secretary"
	"github.com/danilovkiri/dk-go-nowserving/internal/storage/v1"
	"github.com/danilovkiri/dk-go-nowserving/internal/storage/v1/inmemory"
	"github.com/danilovkiri/dk-go-nowserving/internal/storage/v1/inpsql"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// InitServer returns a http.Server object ready to be listening and serving.
func InitServer(ctx context.Context, cfg *config.Config, log *zerolog.Logger, wg *sync.WaitGroup) (server *http.Server, err error) {
	// initialize secretary
	secretaryService, err := secretary.NewSecretaryService(cfg.SecretConfig)
	if err != nil {
		return nil, err
	}

	// initialize token handler
	tokenHandler, err := middleware.NewTokenHandler(secretaryService)
	if err != nil {
		return nil, err
	}

	// initialize storage, in-memory when no DSN is configured
	var st storage.Storage
	if cfg.StorageConfig.DatabaseDSN != "" {
		st, err = inpsql.InitStorage(ctx, cfg.StorageConfig, log)
		if err != nil {
			return nil, err
		}
	} else {
		st = inmemory.InitStorage(log)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("closing storage failed")
		}
	}()

	// initialize metrics
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metricsService, err := metrics.InitMetrics(registry)
	if err != nil {
		return nil, err
	}

	// initialize main service
	opts := []dispatcher.Option{dispatcher.WithMetrics(metricsService)}
	if cfg.ServerConfig.BlockListAddress != "" {
		opts = append(opts, dispatcher.WithBlockList(client.InitClient(cfg.ServerConfig, log)))
	}
	mainService, err := dispatcher.InitService(st, secretaryService, policy.InitPolicy(cfg.PolicyConfig), cfg.SweepConfig, log, opts...)
	if err != nil {
		return nil, err
	}

	// initialize expiry monitor
	monitorService, err := monitor.InitMonitor(ctx, mainService, cfg.SweepConfig, log, wg)
	if err != nil {
		return nil, err
	}
	monitorService.ListenAndProcess()

	// initialize handlers
	urlHandler, err := handlers.InitHandlers(mainService, log)
	if err != nil {
		return nil, err
	}

	srv := &http.Server{
		Addr:         cfg.ServerConfig.ServerAddress,
		Handler:      NewRouter(urlHandler, tokenHandler, promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
		IdleTimeout:  60 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return srv, nil
}

// NewRouter sets routing. All /api routes require a bearer token.
func NewRouter(urlHandler *handlers.Handler, tokenHandler *middleware.TokenHandler, metricsHandler http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Compress(5))
	r.Handle("/metrics", metricsHandler)
	r.Group(func(r chi.Router) {
		r.Use(tokenHandler.TokenHandle)
		r.Get("/api/user/role", urlHandler.HandleGetRole())
		r.Post("/api/queues", urlHandler.HandleCreateQueue())
		r.Post("/api/queues/sweep", urlHandler.HandleSweepAll())
		r.Get("/api/queues/{queueID}", urlHandler.HandleQueueStatus())
		r.Post("/api/queues/{queueID}/tokens", urlHandler.HandleAdmit())
		r.Post("/api/queues/{queueID}/call-next", urlHandler.HandleCallNext())
		r.Post("/api/queues/{queueID}/clear-current", urlHandler.HandleClearCurrent())
		r.Post("/api/queues/{queueID}/no-show", urlHandler.HandleMarkNoShow())
		r.Post("/api/queues/{queueID}/process-no-shows", urlHandler.HandleProcessNoShows())
	})
	return r
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/danilovkiri/dk-go-nowserving/internal/logger"
	"github.com/danilovkiri/dk-go-nowserving/internal/models/modeldto"
	"github.com/danilovkiri/dk-go-nowserving/internal/storage/v1"
	"github.com/danilovkiri/dk-go-nowserving/internal/storage/v1/inmemory"
	"github.com/go-chi/chi"
	chiMiddleware "github.com/go-chi/chi/middleware"
	"github.com/rs/zerolog"
)

type ServerConfig struct {
	ServerAddress string   `env:"RUN_ADDRESS"`
	Seed          []string `env:"BLOCKED_EMAILS" envSeparator:","`
}

func NewServerConfig() (*ServerConfig, error) {
	cfg := ServerConfig{}
	err := env.Parse(&cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

func isFlagPassed(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func (c *ServerConfig) ParseFlags(args []string) error {
	fs := flag.NewFlagSet("blocklist", flag.ContinueOnError)
	a := fs.String("a", ":7070", "Server address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if isFlagPassed(fs, "a") || c.ServerAddress == "" {
		c.ServerAddress = *a
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func HandleIsBlocked(bl storage.BlockList, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		blocked, err := bl.IsBlocked(r.Context(), chi.URLParam(r, "email"))
		if err != nil {
			log.Error().Err(err).Msg("HandleIsBlocked failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, modeldto.Blocked{Blocked: blocked})
	}
}

func HandleBlock(bl storage.BlockList, log *zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req modeldto.BlockRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Email) == "" {
			http.Error(w, "email is required", http.StatusBadRequest)
			return
		}
		if err := bl.BlockEmail(r.Context(), strings.TrimSpace(req.Email), time.Now()); err != nil {
			log.Error().Err(err).Msg("HandleBlock failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		log.Info().Msg("email blocked")
		writeJSON(w, http.StatusOK, modeldto.Success{Success: true})
	}
}

func NewRouter(bl storage.BlockList, log *zerolog.Logger) chi.Router {
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Get("/api/blocked/{email}", HandleIsBlocked(bl, log))
	r.Post("/api/blocked", HandleBlock(bl, log))
	return r
}

func main() {
	log := logger.InitLog("blocklist")
	cfg, err := NewServerConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("")
	}
	if err := cfg.ParseFlags(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("")
	}
	st := inmemory.InitStorage(log)
	for _, email := range cfg.Seed {
		if email = strings.TrimSpace(email); email != "" {
			_ = st.BlockEmail(context.Background(), email, time.Now())
		}
	}
	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      NewRouter(st, log),
		IdleTimeout:  60 * time.Second,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	log.Info().Msg("block-list service start attempted")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("")
	}
}

// Package server exposes the option registry and ledger over a JSON HTTP
// API. Callers are identified by account header or request field; this is an
// operational surface, not an authentication layer.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/optionledger/optiond/internal/core/ledger"
	"github.com/optionledger/optiond/internal/core/registry"
	"github.com/optionledger/optiond/internal/core/token"
	"github.com/optionledger/optiond/internal/pool"
)

// Config carries the server's listen address.
type Config struct {
	Listen string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server is the HTTP front of the daemon.
type Server struct {
	log  *logrus.Entry
	reg  *registry.Registry
	led  *ledger.Ledger
	book *token.Book
	pool *pool.LiquidityPool
	http *http.Server
}

func New(cfg Config, reg *registry.Registry, led *ledger.Ledger, book *token.Book, p *pool.LiquidityPool, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 15 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 15 * time.Second
	}

	s := &Server{log: log, reg: reg, led: led, book: book, pool: p}
	s.http = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLogger)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/options", s.handleCreate).Methods(http.MethodPost)
	v1.HandleFunc("/options/{id:[0-9]+}", s.handleGetOption).Methods(http.MethodGet)
	v1.HandleFunc("/options/{id:[0-9]+}/split", s.handleSplit).Methods(http.MethodPost)
	v1.HandleFunc("/options/{id:[0-9]+}/merge", s.handleMerge).Methods(http.MethodPost)
	v1.HandleFunc("/options/{id:[0-9]+}/transfer", s.handleTransfer).Methods(http.MethodPost)
	v1.HandleFunc("/options/{id:[0-9]+}/exercise", s.handleExercise).Methods(http.MethodPost)
	v1.HandleFunc("/options/{id:[0-9]+}/unlock", s.handleUnlock).Methods(http.MethodPost)
	v1.HandleFunc("/pool", s.handlePool).Methods(http.MethodGet)
	v1.HandleFunc("/pool/provide", s.handleProvide).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{account}", s.handleBalance).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{account}/fund", s.handleFund).Methods(http.MethodPost)
	v1.HandleFunc("/accounts/{account}/approve", s.handleApprove).Methods(http.MethodPost)
	return r
}

// requestLogger assigns each request an id and logs it on completion.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		w.Header().Set("X-Request-Id", reqID)

		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithFields(logrus.Fields{
			"request_id": reqID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start),
		}).Debug("request handled")
	})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.WithField("listen", s.http.Addr).Info("http server listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"ongoal/internal/config"
	"ongoal/internal/logger"
	"ongoal/internal/supervisor"
)

const Version = "1.0.0"

// Server exposes the supervisor over REST and a websocket per conversation.
type Server struct {
	sup *supervisor.Supervisor
	cfg config.Server
}

func New(sup *supervisor.Supervisor, cfg config.Server) *Server {
	return &Server{sup: sup, cfg: cfg}
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(s.cors)

	r.Get("/", s.handleRoot)
	r.Get("/ws", s.handleWebSocket)
	r.Get("/ws/{conversationID}", s.handleWebSocket)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/conversations", s.handleListConversations)
		r.Post("/conversations", s.handleCreateConversation)

		r.Route("/conversations/{conversationID}", func(r chi.Router) {
			r.Get("/", s.handleGetConversation)
			r.Delete("/", s.handleDeleteConversation)
			r.Post("/reset", s.handleReset)
			r.Put("/pipeline/{stage}", s.handleToggleStage)

			r.Post("/messages", s.handleSubmitMessage)
			r.Post("/turns", s.handleTurn)
			r.Post("/responses", s.handleStartResponse)
			r.Post("/responses/{messageID}/chunks", s.handleAppendResponse)
			r.Post("/responses/{messageID}/complete", s.handleCompleteResponse)

			r.Get("/goals", s.handleListGoals)
			r.Post("/goals", s.handleCreateGoal)
			r.Get("/goals/{goalID}", s.handleGetGoal)
			r.Put("/goals/{goalID}", s.handleUpdateGoal)
			r.Delete("/goals/{goalID}", s.handleDeleteGoal)
			r.Post("/goals/{goalID}/lock", s.handleLock(true))
			r.Post("/goals/{goalID}/unlock", s.handleLock(false))
			r.Post("/goals/{goalID}/complete", s.handleComplete(true))
			r.Post("/goals/{goalID}/reopen", s.handleComplete(false))
		})
	})
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down the HTTP
// server and every conversation.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Log.Infow("server listening", "addr", s.cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if serr := s.sup.Shutdown(shutdownCtx); err == nil {
			err = serr
		}
		logger.Log.Infow("server stopped")
		return err
	})
	return g.Wait()
}

func (s *Server) allowedOrigin(origin string) bool {
	return origin == "" || slices.Contains(s.cfg.AllowedOrigins, "*") || slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.allowedOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logger.Log.Debugw("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	})
}

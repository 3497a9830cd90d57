package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/1905060202/image-ai-processor/internal/auth"
	"github.com/1905060202/image-ai-processor/internal/provider"
	"github.com/1905060202/image-ai-processor/internal/service"
)

type Server struct {
	addr       string
	log        *slog.Logger
	auth       *auth.Service
	users      *service.UserService
	credits    *service.CreditService
	generation *service.GenerationService
	images     *service.ImageService
	router     *chi.Mux
}

func NewServer(addr string, log *slog.Logger, authSvc *auth.Service, users *service.UserService, credits *service.CreditService, generation *service.GenerationService, images *service.ImageService) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:       addr,
		log:        log,
		auth:       authSvc,
		users:      users,
		credits:    credits,
		generation: generation,
		images:     images,
		router:     r,
	}

	r.Post("/api/auth/register", s.handleRegister)
	r.Post("/api/auth/login", s.handleLogin)

	r.Group(func(authed chi.Router) {
		authed.Use(s.auth.Middleware)

		authed.Post("/api/v1/generate-text", s.handleGenerateText)
		authed.Post("/api/v1/upload", s.handleGenerateFromImages)

		authed.Route("/api/v1/images", func(r chi.Router) {
			r.Get("/", s.handleListImages)
			r.Delete("/{filename}", s.handleDeleteImage)
			r.Patch("/{filename}", s.handleRenameImage)
		})

		authed.Get("/api/credits/info", s.handleCreditsInfo)
		authed.Get("/api/credits/usage", s.handleCreditsUsage)

		authed.Group(func(admin chi.Router) {
			admin.Use(auth.RequireAdmin)
			admin.Get("/api/admin/users", s.handleListUsers)
			admin.Post("/api/admin/recharge", s.handleRecharge)
		})
	})

	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("server shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the machine-readable failure shape. Credits and required
// are present only on permission rejections.
type errorResponse struct {
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	Credits  *int   `json:"credits,omitempty"`
	Required *int   `json:"required,omitempty"`
}

// writeError maps classified pipeline failures to their HTTP status and shape;
// anything unclassified is an internal error.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	if perr, ok := provider.AsError(err); ok {
		resp := errorResponse{Error: string(perr.Kind), Message: perr.Message}
		if perr.Kind == provider.KindInsufficientPermission {
			credits, required := perr.Credits, perr.Required
			resp.Credits = &credits
			resp.Required = &required
		}
		s.writeJSON(w, perr.HTTPStatus(), resp)
		return
	}
	if errors.Is(err, service.ErrPromptRequired) || errors.Is(err, service.ErrImagesRequired) {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad-request", Message: err.Error()})
		return
	}
	s.log.Error("handler error", "err", err)
	s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal-error"})
}

func (s *Server) badRequest(w http.ResponseWriter, message string) {
	s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "bad-request", Message: message})
}

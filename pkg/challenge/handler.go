package challenge

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ridgeline/proxyguard/internal/store"
)

// Handler serves the public ACME HTTP-01 validation endpoint. It carries no
// leadership or auth check: every node must answer this path for any
// domain the cluster manages, since the CA's validator can land on any one
// of them.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler wires a Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

// Routes returns the chi router fragment, meant to be mounted at
// "/.well-known/acme-challenge".
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/{token}", h.handleToken)
	return r
}

func (h *Handler) handleToken(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	keyAuth, err := h.svc.Lookup(r.Context(), token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrExpired) {
			http.NotFound(w, r)
			return
		}
		h.logger.Error("looking up acme challenge", "token", token, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(keyAuth))
}

// PublishRoutes returns the chi router fragment for the internal
// auth-hook/cleanup-hook callback the ACME client invokes on whichever
// node originated an issuance. Loopback-only: only the subprocess this
// same node spawned is meant to ever reach it.
func (h *Handler) PublishRoutes() chi.Router {
	r := chi.NewRouter()
	r.Use(requireLoopback)
	r.Post("/", h.handlePublish)
	r.Delete("/{token}", h.handleUnpublish)
	return r
}

type publishRequest struct {
	Token   string `json:"token"`
	KeyAuth string `json:"keyAuth"`
	Domain  string `json:"domain"`
}

func (h *Handler) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	if err := h.svc.Create(r.Context(), req.Token, req.KeyAuth, req.Domain); err != nil {
		h.logger.Error("publishing acme challenge", "token", req.Token, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUnpublish(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	if err := h.svc.Delete(r.Context(), token); err != nil {
		h.logger.Error("unpublishing acme challenge", "token", token, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func requireLoopback(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

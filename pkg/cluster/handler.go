package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/ridgeline/proxyguard/internal/store"
)

// Handler exposes the cluster membership and reload-fanout surface over
// HTTP. Routes are mounted under "/cluster" by the caller.
type Handler struct {
	svc         *Service
	broadcaster *Broadcaster
	tokens      *TokenIssuer
	reconcile   func(ctx context.Context) error
	logger      *slog.Logger
}

// NewHandler wires a Handler. reconcile runs the local reconciliation pass
// (component I) and reports whether it succeeded; callers typically pass
// an adapter over pkg/reloader's Reconciler.Reconcile.
func NewHandler(svc *Service, broadcaster *Broadcaster, tokens *TokenIssuer, reconcile func(ctx context.Context) error, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, broadcaster: broadcaster, tokens: tokens, reconcile: reconcile, logger: logger}
}

// Routes returns the chi router fragment for the cluster surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/nodes", h.handleListNodes)
	r.Get("/stats", h.handleStats)
	r.Get("/leader", h.handleLeader)
	r.Get("/leader/status", h.handleLeaderStatus)

	r.Post("/reload", h.handleReload)

	r.Route("/admin", func(r chi.Router) {
		r.Use(h.requireAdminToken)
		r.Post("/cleanup", h.handleCleanup)
		r.Post("/enforce-leader", h.handleEnforceLeader)
		r.Post("/ensure-leader", h.handleEnsureLeader)
		r.Post("/become-leader", h.handleBecomeLeader)
	})

	return r
}

// requireAdminToken gates the mutating admin endpoints behind the same
// short-lived bearer token the reload fan-out uses. A full auth story is
// out of scope; this is deliberately the minimal collaborator gating the
// mutating admin endpoints.
func (h *Handler) requireAdminToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" || !h.tokens.Validate(token) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleListNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.svc.GetActiveNodes(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, nodes)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.svc.GetStats(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) handleLeader(w http.ResponseWriter, r *http.Request) {
	node, err := h.svc.GetLeaderNode(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, node)
}

func (h *Handler) handleLeaderStatus(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"instanceId": h.svc.InstanceID(),
		"isLeader":   h.svc.locks.IsLeader(),
	})
}

// handleReload runs the local reconciliation pass and, unless
// broadcast=false, fans it out to the rest of the cluster. Peers receiving
// a fanned-out call always pass broadcast=false, so the chain stops after
// one hop.
func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.reconcile(r.Context()); err != nil {
		h.writeError(w, err)
		return
	}

	broadcast := r.URL.Query().Get("broadcast") != "false"
	var peers []PeerResult
	if broadcast {
		results, err := h.broadcaster.Broadcast(r.Context())
		if err != nil {
			h.logger.Error("reload broadcast failed", "error", err)
		}
		for _, res := range results {
			if res.Err != nil {
				h.logger.Warn("peer reload failed", "instance_id", res.InstanceID, "ip", res.IPAddress, "error", res.Err)
			}
		}
		peers = results
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"reloaded": true, "peers": peers})
}

func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.ManualCleanup(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleEnforceLeader(w http.ResponseWriter, r *http.Request) {
	demoted, err := h.svc.ManualEnforceLeader(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"demoted": demoted})
}

func (h *Handler) handleEnsureLeader(w http.ResponseWriter, r *http.Request) {
	acquired, err := h.svc.EnsureLeaderExists(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"acquired": acquired})
}

func (h *Handler) handleBecomeLeader(w http.ResponseWriter, r *http.Request) {
	acquired, err := h.svc.TryBecomeLeader(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"acquired": acquired})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encoding response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	h.logger.Error("cluster handler error", "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

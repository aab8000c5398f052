package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"payment_pipeline/internal/batch"
	"payment_pipeline/internal/domain"
	"payment_pipeline/internal/lifecycle"
	"payment_pipeline/internal/repository"
	"payment_pipeline/internal/rules"
	"payment_pipeline/internal/webhook"
)

// Handler is the thin HTTP boundary: it parses requests, delegates to the
// pipeline components and shapes responses. No business logic lives here.
type Handler struct {
	manager      *lifecycle.Manager
	orchestrator *batch.Orchestrator
	engine       *rules.Engine
	dispatcher   *webhook.Dispatcher
	logger       *slog.Logger
}

func NewHandler(
	manager *lifecycle.Manager,
	orchestrator *batch.Orchestrator,
	engine *rules.Engine,
	dispatcher *webhook.Dispatcher,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		manager:      manager,
		orchestrator: orchestrator,
		engine:       engine,
		dispatcher:   dispatcher,
		logger:       logger,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/transactions", func(r chi.Router) {
			r.Post("/", h.createTransaction)
			r.Get("/{id}", h.getTransaction)
			r.Get("/{id}/history", h.getHistory)
			r.Post("/{id}/process", h.processTransaction)
			r.Post("/{id}/cancel", h.cancelTransaction)
			r.Post("/{id}/refund", h.refundTransaction)
			r.Post("/{id}/retry", h.retryTransaction)
		})

		r.Route("/batch", func(r chi.Router) {
			r.Post("/transactions", h.batchCreate)
			r.Post("/process", h.batchProcess)
			r.Post("/cancel", h.batchCancel)
			r.Post("/retry", h.batchRetry)
			r.Post("/process-pending", h.processPending)
		})

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.listRules)
			r.Post("/", h.addRule)
			r.Get("/{id}", h.getRule)
			r.Put("/{id}", h.updateRule)
			r.Delete("/{id}", h.deleteRule)
			r.Post("/{id}/enable", h.enableRule)
			r.Post("/{id}/disable", h.disableRule)
			r.Post("/reset", h.resetRules)
		})

		r.Route("/webhooks", func(r chi.Router) {
			r.Get("/", h.listWebhooks)
			r.Post("/", h.registerWebhook)
			r.Get("/{id}", h.getWebhook)
			r.Delete("/{id}", h.deleteWebhook)
			r.Get("/{id}/logs", h.webhookLogs)
			r.Post("/{id}/test", h.testWebhook)
		})
	})

	r.Get("/api/health", h.health)

	return r
}

func (h *Handler) createTransaction(w http.ResponseWriter, r *http.Request) {
	var req lifecycle.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	tx, err := h.manager.Create(r.Context(), req)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendJSON(w, http.StatusCreated, tx)
}

func (h *Handler) getTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.manager.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, tx)
}

func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	history, err := h.manager.GetHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	if history == nil {
		history = []*domain.StatusTransition{}
	}
	h.sendJSON(w, http.StatusOK, history)
}

func (h *Handler) processTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.manager.Process(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if tx != nil {
			// Terminal failure still returns the transaction so the caller
			// sees the recorded error code.
			h.sendJSON(w, http.StatusUnprocessableEntity, tx)
			return
		}
		h.sendFailure(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, tx)
}

type reasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) cancelTransaction(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	tx, err := h.manager.Cancel(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, tx)
}

func (h *Handler) refundTransaction(w http.ResponseWriter, r *http.Request) {
	var req reasonRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	tx, err := h.manager.Refund(r.Context(), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, tx)
}

func (h *Handler) retryTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.manager.Retry(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if tx != nil {
			h.sendJSON(w, http.StatusUnprocessableEntity, tx)
			return
		}
		h.sendFailure(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, tx)
}

func (h *Handler) batchCreate(w http.ResponseWriter, r *http.Request) {
	var requests []lifecycle.CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&requests); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.orchestrator.BatchCreate(r.Context(), requests)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.sendJSON(w, http.StatusOK, result)
}

type idsRequest struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason,omitempty"`
}

func (h *Handler) batchProcess(w http.ResponseWriter, r *http.Request) {
	h.batchByIDs(w, r, func(req idsRequest) (*batch.Result, error) {
		return h.orchestrator.BatchProcess(r.Context(), req.IDs)
	})
}

func (h *Handler) batchCancel(w http.ResponseWriter, r *http.Request) {
	h.batchByIDs(w, r, func(req idsRequest) (*batch.Result, error) {
		return h.orchestrator.BatchCancel(r.Context(), req.IDs, req.Reason)
	})
}

func (h *Handler) batchRetry(w http.ResponseWriter, r *http.Request) {
	h.batchByIDs(w, r, func(req idsRequest) (*batch.Result, error) {
		return h.orchestrator.BatchRetry(r.Context(), req.IDs)
	})
}

func (h *Handler) batchByIDs(w http.ResponseWriter, r *http.Request, run func(idsRequest) (*batch.Result, error)) {
	var req idsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := run(req)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.sendJSON(w, http.StatusOK, result)
}

func (h *Handler) processPending(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	result, err := h.orchestrator.ProcessPending(r.Context(), limit)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.sendJSON(w, http.StatusOK, result)
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, h.engine.ListRules())
}

func (h *Handler) addRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	h.sendJSON(w, http.StatusCreated, h.engine.AddRule(&rule))
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request) {
	rule, err := h.engine.GetRule(chi.URLParam(r, "id"))
	if err != nil {
		h.sendError(w, http.StatusNotFound, err.Error())
		return
	}
	h.sendJSON(w, http.StatusOK, rule)
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request) {
	var rule domain.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	rule.ID = chi.URLParam(r, "id")

	if err := h.engine.UpdateRule(&rule); err != nil {
		h.sendError(w, http.StatusNotFound, err.Error())
		return
	}
	h.sendJSON(w, http.StatusOK, &rule)
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteRule(chi.URLParam(r, "id")); err != nil {
		h.sendError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enableRule(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.EnableRule(chi.URLParam(r, "id")); err != nil {
		h.sendError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) disableRule(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DisableRule(chi.URLParam(r, "id")); err != nil {
		h.sendError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resetRules(w http.ResponseWriter, r *http.Request) {
	h.engine.ResetToDefaults()
	h.sendJSON(w, http.StatusOK, h.engine.ListRules())
}

func (h *Handler) listWebhooks(w http.ResponseWriter, r *http.Request) {
	webhooks, err := h.dispatcher.List(r.Context())
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.sendJSON(w, http.StatusOK, webhooks)
}

func (h *Handler) registerWebhook(w http.ResponseWriter, r *http.Request) {
	var wh domain.Webhook
	if err := json.NewDecoder(r.Body).Decode(&wh); err != nil {
		h.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	wh.Active = true

	created, err := h.dispatcher.Register(r.Context(), &wh)
	if err != nil {
		h.sendError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.sendJSON(w, http.StatusCreated, created)
}

func (h *Handler) getWebhook(w http.ResponseWriter, r *http.Request) {
	wh, err := h.dispatcher.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, wh)
}

func (h *Handler) deleteWebhook(w http.ResponseWriter, r *http.Request) {
	if err := h.dispatcher.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.sendFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) webhookLogs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	logs, err := h.dispatcher.Logs(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		h.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if logs == nil {
		logs = []*domain.WebhookLog{}
	}
	h.sendJSON(w, http.StatusOK, logs)
}

func (h *Handler) testWebhook(w http.ResponseWriter, r *http.Request) {
	logEntry, err := h.dispatcher.TestWebhook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.sendFailure(w, err)
		return
	}
	h.sendJSON(w, http.StatusOK, logEntry)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func (h *Handler) sendFailure(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := ""

	var pe *domain.PipelineError
	switch {
	case errors.As(err, &pe):
		code = pe.Code
		switch pe.Code {
		case domain.CodeNotFound:
			status = http.StatusNotFound
		case domain.CodeInvalidTransition:
			status = http.StatusConflict
		case domain.CodeInvalidAmount, domain.CodeInvalidCurrency, domain.CodeInvalidAccount, domain.CodeInvalidType:
			status = http.StatusBadRequest
		case domain.CodeRuleViolation:
			status = http.StatusUnprocessableEntity
		}
	case errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, lifecycle.ErrRetriesExhausted):
		status = http.StatusConflict
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: err.Error(), Code: code})
}

func (h *Handler) sendError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message})
}

func (h *Handler) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/TheHabib2005/ph-health-care-backend/internal/domain"
	"github.com/TheHabib2005/ph-health-care-backend/internal/producer"
	"github.com/TheHabib2005/ph-health-care-backend/internal/webhook"
)

const maxWebhookBody = 1 << 20

// JobReader is the operator-inspection slice of storage.
type JobReader interface {
	GetJob(ctx context.Context, id string) (domain.Job, error)
	ListByState(ctx context.Context, state domain.State, limit int) ([]domain.Job, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Webhooks *webhook.Processor
	Jobs     JobReader
	Producer *producer.Producer
	Store    Pinger
	Queue    Pinger
	Log      *zap.Logger
}

func NewRouter(d Deps) chi.Router {
	log := d.Log.Named("api")
	rtr := chi.NewRouter()

	rtr.Post("/webhooks/stripe", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
			return
		}
		result, err := d.Webhooks.HandleEvent(r.Context(), body, r.Header.Get("Stripe-Signature"))
		if errors.Is(err, webhook.ErrSignature) {
			log.Warn("webhook signature verification failed", zap.Error(err))
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err != nil {
			// A processing error means nothing was recorded; answering
			// 5xx makes the gateway redeliver.
			log.Error("webhook processing failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "processing failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   result.Outcome.Status,
			"message":  result.Outcome.Message,
			"replayed": result.Replayed,
		})
	})

	rtr.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		hc := NewHealthCheck("notification-pipeline")
		hc.Add("postgres", func() error { return d.Store.Ping(r.Context()) })
		hc.Add("redis", func() error { return d.Queue.Ping(r.Context()) })
		hc.Add("enqueue", func() error {
			// Smoke-tests the full enqueue path. Failure marks the
			// component DOWN but never fails the probe.
			_, err := d.Producer.Enqueue(r.Context(), domain.KindHealthPing, map[string]string{"source": "healthz"})
			if err != nil {
				log.Warn("health enqueue failed", zap.Error(err))
			}
			return err
		})
		writeJSON(w, http.StatusOK, hc.Build())
	})

	rtr.Get("/internal/jobs/{id}", func(w http.ResponseWriter, r *http.Request) {
		job, err := d.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, domain.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
			return
		}
		writeJSON(w, http.StatusOK, job)
	})

	// Dead-letter inspection: failed jobs stay queryable until an
	// operator deals with them.
	rtr.Get("/internal/jobs", func(w http.ResponseWriter, r *http.Request) {
		state := domain.State(r.URL.Query().Get("state"))
		if state == "" {
			state = domain.StateFailed
		}
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				limit = n
			}
		}
		jobs, err := d.Jobs.ListByState(r.Context(), state, limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "list failed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs, "count": len(jobs)})
	})

	return rtr
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

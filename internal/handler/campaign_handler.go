// internal/handler/campaign_handler.go
package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/clinicreach-backend/internal/model"
	"github.com/unclebandit/clinicreach-backend/internal/queue"
	"github.com/unclebandit/clinicreach-backend/internal/repository"
	"github.com/unclebandit/clinicreach-backend/internal/service"
)

// CampaignHandler holds the dependencies for the stats, callback and
// event-ingestion HTTP handlers.
type CampaignHandler struct {
	Service      *service.CampaignService
	Executions   repository.ExecutionRepositoryInterface
	Suppressions repository.SuppressionRepositoryInterface
	Queue        queue.Queue
}

// GetCampaignHandlerWithStats returns a campaign with its enrollment
// counts grouped by status.
func (h *CampaignHandler) GetCampaignHandlerWithStats(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, _ := strconv.Atoi(idStr)

	details, err := h.Service.GetCampaignDetailsWithStats(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(details)
}

// ListEnrollmentHistory exposes the append-only step execution log for
// one enrollment, for operator review.
func (h *CampaignHandler) ListEnrollmentHistory(w http.ResponseWriter, r *http.Request) {
	idStr := chi.URLParam(r, "id")
	id, _ := strconv.Atoi(idStr)

	records, err := h.Executions.ListByEnrollment(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"enrollment_id": id,
		"records":       records,
	})
}

// DeliveryCallback receives the messaging hub's asynchronous delivery
// disposition and records it against the matching sent record. The
// engine never branches on it.
func (h *CampaignHandler) DeliveryCallback(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DispatchID string `json:"dispatch_id"`
		Status     string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DispatchID == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	if err := h.Executions.RecordDelivery(body.DispatchID, body.Status); err != nil {
		log.Println("⚠️ failed to record delivery status:", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// IngestEvent accepts a domain event over HTTP and hands it to the
// trigger listener via the in-process queue. The broker consumer in
// cmd/worker is the production path; this endpoint serves integrations
// that cannot publish to AMQP.
func (h *CampaignHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var ev model.DomainEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil || ev.Type == "" {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now()
	}

	if err := h.Queue.Publish(queue.TopicDomainEvents, ev); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// AddSuppression records a global opt-out for a recipient.
func (h *CampaignHandler) AddSuppression(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecipientID int    `json:"recipient_id"`
		Reason      string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RecipientID == 0 {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	entry := &model.SuppressionEntry{RecipientID: body.RecipientID, Reason: body.Reason}
	if err := h.Suppressions.Add(entry); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(entry)
}

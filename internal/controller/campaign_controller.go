// internal/controller/campaign_controller.go
package controller

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	appErrors "github.com/unclebandit/clinicreach-backend/internal/errors"
	"github.com/unclebandit/clinicreach-backend/internal/model"
	"github.com/unclebandit/clinicreach-backend/internal/service"
)

type CampaignController struct {
	CampaignService *service.CampaignService
}

func (c *CampaignController) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name          string                 `json:"name"`
		Type          model.CampaignType     `json:"type"`
		TriggerType   model.TriggerType      `json:"trigger_type"`
		TriggerEvent  string                 `json:"trigger_event"`
		TriggerAt     *time.Time             `json:"trigger_at"`
		Recurrence    string                 `json:"recurrence"`
		Criteria      model.Criteria         `json:"criteria"`
		Exclusion     model.Criteria         `json:"exclusion"`
		RecontactDays int                    `json:"recontact_days"`
		RateCapDays   int                    `json:"rate_cap_days"`
		Steps         []model.StepDefinition `json:"steps"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	campaign := &model.CampaignDefinition{
		Name:          body.Name,
		Type:          body.Type,
		TriggerType:   body.TriggerType,
		TriggerEvent:  body.TriggerEvent,
		TriggerAt:     body.TriggerAt,
		Recurrence:    body.Recurrence,
		Criteria:      body.Criteria,
		Exclusion:     body.Exclusion,
		RecontactDays: body.RecontactDays,
		RateCapDays:   body.RateCapDays,
		Steps:         body.Steps,
	}
	if err := c.CampaignService.CreateCampaign(campaign); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	id := urlID(r)
	var campaign model.CampaignDefinition
	if err := json.NewDecoder(r.Body).Decode(&campaign); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	campaign.ID = id

	if err := c.CampaignService.UpdateCampaign(&campaign); err != nil {
		writeServiceError(w, err)
		return
	}
	json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) DeleteCampaign(w http.ResponseWriter, r *http.Request) {
	if err := c.CampaignService.DeleteCampaign(urlID(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *CampaignController) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	ctype := r.URL.Query().Get("type")
	status := r.URL.Query().Get("status")

	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}

	campaigns, pagination, err := c.CampaignService.ListCampaigns(page, pageSize, ctype, status)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"data":       campaigns,
		"pagination": pagination,
	})
}

func (c *CampaignController) GetCampaignDetails(w http.ResponseWriter, r *http.Request) {
	campaign, err := c.CampaignService.GetCampaignDetails(urlID(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	json.NewEncoder(w).Encode(campaign)
}

func (c *CampaignController) Activate(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.CampaignService.Activate, "active")
}

func (c *CampaignController) Pause(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.CampaignService.Pause, "paused")
}

func (c *CampaignController) Resume(w http.ResponseWriter, r *http.Request) {
	c.lifecycle(w, r, c.CampaignService.Resume, "active")
}

func (c *CampaignController) Archive(w http.ResponseWriter, r *http.Request) {
	id := urlID(r)
	cancelled, err := c.CampaignService.Archive(id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"campaign_id":           id,
		"status":                "archived",
		"cancelled_enrollments": cancelled,
	})
}

// TestSend enrolls a single recipient bypassing the audience matcher,
// for authoring-time verification. Consent and rate rules still apply
// when the scheduler picks the enrollment up.
func (c *CampaignController) TestSend(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RecipientID int            `json:"recipient_id"`
		Context     map[string]any `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	enrollment, err := c.CampaignService.TriggerManual(urlID(r), body.RecipientID, body.Context)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(enrollment)
}

func (c *CampaignController) PersonalizedPreview(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StepID           string         `json:"step_id"`
		RecipientID      int            `json:"recipient_id"`
		OverrideTemplate *string        `json:"override_template"`
		Context          map[string]any `json:"context"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}

	rendered, err := c.CampaignService.RenderPreview(urlID(r), body.StepID, body.RecipientID, body.OverrideTemplate, body.Context)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"rendered_message": rendered,
		"step_id":          body.StepID,
		"recipient_id":     body.RecipientID,
	})
}

func (c *CampaignController) lifecycle(w http.ResponseWriter, r *http.Request, op func(int) error, resulting string) {
	id := urlID(r)
	if err := op(id); err != nil {
		writeServiceError(w, err)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"campaign_id": id,
		"status":      resulting,
	})
}

func urlID(r *http.Request) int {
	id, _ := strconv.Atoi(chi.URLParam(r, "id"))
	return id
}

func writeServiceError(w http.ResponseWriter, err error) {
	var nf *appErrors.ErrCampaignNotFound
	if errors.As(err, &nf) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if appErrors.IsValidation(err) {
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	if appErrors.IsEnrollmentConflict(err) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

// internal/controller/campaign_controller_test.go
package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/clinicreach-backend/internal/errors"
	"github.com/unclebandit/clinicreach-backend/internal/model"
	"github.com/unclebandit/clinicreach-backend/internal/service"
)

// Thin in-memory repos: just enough store behavior for the HTTP layer.

type stubCampaignRepo struct {
	campaigns map[int]*model.CampaignDefinition
	nextID    int
}

func (s *stubCampaignRepo) Create(c *model.CampaignDefinition) error {
	if s.campaigns == nil {
		s.campaigns = map[int]*model.CampaignDefinition{}
		s.nextID = 1
	}
	c.ID = s.nextID
	s.nextID++
	c.Version = 1
	s.campaigns[c.ID] = c
	return nil
}

func (s *stubCampaignRepo) Update(c *model.CampaignDefinition) error {
	if _, ok := s.campaigns[c.ID]; !ok {
		return appErrors.NewCampaignNotFound(c.ID)
	}
	s.campaigns[c.ID] = c
	return nil
}

func (s *stubCampaignRepo) UpdateStatus(id int, status model.CampaignStatus) error {
	c, ok := s.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = status
	return nil
}

func (s *stubCampaignRepo) GetByID(id int) (*model.CampaignDefinition, error) {
	c, ok := s.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (s *stubCampaignRepo) ListCampaigns(offset, limit int, ctype, status string) ([]*model.CampaignDefinition, int, error) {
	out := []*model.CampaignDefinition{}
	for _, c := range s.campaigns {
		out = append(out, c)
	}
	return out, len(out), nil
}

func (s *stubCampaignRepo) ListByStatus(status model.CampaignStatus) ([]*model.CampaignDefinition, error) {
	return nil, nil
}

func (s *stubCampaignRepo) MarkTriggered(id int, at time.Time) error { return nil }

func (s *stubCampaignRepo) Delete(id int) error {
	if _, ok := s.campaigns[id]; !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	delete(s.campaigns, id)
	return nil
}

type stubEnrollmentRepo struct {
	created []*model.Enrollment
}

func (s *stubEnrollmentRepo) Create(e *model.Enrollment) error {
	e.ID = len(s.created) + 1
	e.Status = model.EnrollmentPending
	s.created = append(s.created, e)
	return nil
}

func (s *stubEnrollmentRepo) GetByID(int) (*model.Enrollment, error) { return nil, nil }
func (s *stubEnrollmentRepo) LeaseDue(time.Time, string, time.Duration, int) ([]*model.Enrollment, error) {
	return nil, nil
}
func (s *stubEnrollmentRepo) Save(*model.Enrollment, int) error         { return nil }
func (s *stubEnrollmentRepo) ReleaseLease(int, string) error            { return nil }
func (s *stubEnrollmentRepo) HasOpen(int, int) (bool, error)            { return false, nil }
func (s *stubEnrollmentRepo) LastEnrolledAt(int, int) (*time.Time, error) {
	return nil, nil
}
func (s *stubEnrollmentRepo) ListOpenByRecipient(int) ([]*model.Enrollment, error) {
	return nil, nil
}
func (s *stubEnrollmentRepo) CancelOpenByCampaign(int) (int, error) { return 2, nil }
func (s *stubEnrollmentRepo) StatsByCampaign(int) (map[string]int, error) {
	return map[string]int{"total": 0}, nil
}

type stubRecipientRepo struct{}

func (stubRecipientRepo) GetByID(id int) (*model.Recipient, error) {
	if id == 1 {
		return &model.Recipient{ID: 1, Phone: "+254700000001", FirstName: "Wanjiku", Location: "nairobi"}, nil
	}
	return nil, nil
}

func (stubRecipientRepo) FindPage(int, int) ([]*model.Recipient, error) { return nil, nil }

func testController() (*CampaignController, *stubCampaignRepo) {
	repo := &stubCampaignRepo{}
	svc := &service.CampaignService{
		CampaignRepo:   repo,
		EnrollmentRepo: &stubEnrollmentRepo{},
		RecipientRepo:  stubRecipientRepo{},
	}
	return &CampaignController{CampaignService: svc}, repo
}

func doRequest(handler http.HandlerFunc, method, path, id string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if id != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
	}
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func TestCreateCampaign(t *testing.T) {
	ctrl, repo := testController()

	w := doRequest(ctrl.CreateCampaign, http.MethodPost, "/campaigns", "", map[string]any{
		"name":          "Win-Back",
		"type":          "marketing",
		"trigger_type":  "recurring",
		"recurrence":    "every 168h",
		"steps": []map[string]any{
			{"id": "offer", "type": "send", "send": map[string]any{"channel": "sms", "template": "come back"}},
		},
	})

	require.Equal(t, http.StatusCreated, w.Code)
	var created model.CampaignDefinition
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	assert.Equal(t, model.CampaignDraft, created.Status, "created campaigns start as drafts")
	assert.Equal(t, created.ID, repo.campaigns[created.ID].ID)
}

func TestCreateCampaignRejectsBadBody(t *testing.T) {
	ctrl, _ := testController()
	req := httptest.NewRequest(http.MethodPost, "/campaigns", bytes.NewBufferString("{nope"))
	w := httptest.NewRecorder()
	ctrl.CreateCampaign(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestActivateMapsErrors(t *testing.T) {
	ctrl, repo := testController()

	// Unknown campaign: 404.
	w := doRequest(ctrl.Activate, http.MethodPost, "/campaigns/99/activate", "99", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	// Invalid graph: 422 with the validation detail.
	repo.Create(&model.CampaignDefinition{
		Name: "Broken", Type: model.CampaignMarketing, Status: model.CampaignDraft,
		TriggerType: model.TriggerEvent, TriggerEvent: "x",
		Steps: []model.StepDefinition{
			{ID: "a", Type: model.StepSend, Next: "ghost", Send: &model.SendStep{Channel: "sms", Template: "y"}},
		},
	})
	w = doRequest(ctrl.Activate, http.MethodPost, "/campaigns/1/activate", "1", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "ghost")
}

func TestLifecycleEndpoints(t *testing.T) {
	ctrl, repo := testController()
	repo.Create(&model.CampaignDefinition{
		Name: "Flow", Type: model.CampaignReminder, Status: model.CampaignDraft,
		TriggerType: model.TriggerEvent, TriggerEvent: "appointment.booked",
		Steps: []model.StepDefinition{
			{ID: "confirm", Type: model.StepSend, Send: &model.SendStep{Channel: "sms", Template: "hi"}},
		},
	})

	w := doRequest(ctrl.Activate, http.MethodPost, "/campaigns/1/activate", "1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.CampaignActive, repo.campaigns[1].Status)

	w = doRequest(ctrl.Pause, http.MethodPost, "/campaigns/1/pause", "1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.CampaignPaused, repo.campaigns[1].Status)

	w = doRequest(ctrl.Resume, http.MethodPost, "/campaigns/1/resume", "1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.CampaignActive, repo.campaigns[1].Status)

	w = doRequest(ctrl.Archive, http.MethodPost, "/campaigns/1/archive", "1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.CampaignArchived, repo.campaigns[1].Status)
	assert.Contains(t, w.Body.String(), `"cancelled_enrollments":2`)
}

func TestTestSendCreatesEnrollment(t *testing.T) {
	ctrl, repo := testController()
	repo.Create(&model.CampaignDefinition{
		Name: "Flow", Type: model.CampaignReminder, Status: model.CampaignActive,
		TriggerType: model.TriggerEvent, TriggerEvent: "appointment.booked",
		Steps: []model.StepDefinition{
			{ID: "confirm", Type: model.StepSend, Send: &model.SendStep{Channel: "sms", Template: "hi"}},
		},
	})

	w := doRequest(ctrl.TestSend, http.MethodPost, "/campaigns/1/test-send", "1", map[string]any{
		"recipient_id": 1,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	var e model.Enrollment
	require.NoError(t, json.NewDecoder(w.Body).Decode(&e))
	assert.Equal(t, "confirm", e.CurrentStepID)
	assert.Equal(t, model.EnrollmentPending, e.Status)
}

func TestPersonalizedPreview(t *testing.T) {
	ctrl, repo := testController()
	repo.Create(&model.CampaignDefinition{
		Name: "Flow", Type: model.CampaignReminder, Status: model.CampaignActive,
		TriggerType: model.TriggerEvent, TriggerEvent: "appointment.booked",
		Steps: []model.StepDefinition{
			{ID: "confirm", Type: model.StepSend, Send: &model.SendStep{Channel: "sms", Template: "Hi {first_name} from {location}"}},
		},
	})

	w := doRequest(ctrl.PersonalizedPreview, http.MethodPost, "/campaigns/1/personalized-preview", "1", map[string]any{
		"step_id":      "confirm",
		"recipient_id": 1,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Hi Wanjiku from nairobi")
}

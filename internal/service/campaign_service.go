// internal/service/campaign_service.go
package service

import (
	"fmt"
	"strings"

	appErrors "github.com/unclebandit/clinicreach-backend/internal/errors"
	"github.com/unclebandit/clinicreach-backend/internal/model"
	"github.com/unclebandit/clinicreach-backend/internal/repository"
)

// CampaignService is the admin surface contract the engine honors:
// campaigns are editable while draft, validated at activation, and the
// step graph is immutable once active.
type CampaignService struct {
	CampaignRepo   repository.CampaignRepositoryInterface
	EnrollmentRepo repository.EnrollmentRepositoryInterface
	RecipientRepo  repository.RecipientRepositoryInterface
}

type CampaignDetails struct {
	*model.CampaignDefinition
	Stats map[string]int `json:"stats"`
}

func (s *CampaignService) CreateCampaign(c *model.CampaignDefinition) error {
	c.Status = model.CampaignDraft
	return s.CampaignRepo.Create(c)
}

func (s *CampaignService) UpdateCampaign(c *model.CampaignDefinition) error {
	existing, err := s.CampaignRepo.GetByID(c.ID)
	if err != nil {
		return err
	}
	if existing.Status != model.CampaignDraft {
		return appErrors.NewValidationError(
			fmt.Sprintf("campaign in status %q cannot be edited; archive it and create a new version", existing.Status))
	}
	return s.CampaignRepo.Update(c)
}

func (s *CampaignService) DeleteCampaign(id int) error {
	return s.CampaignRepo.Delete(id)
}

// Activate validates the whole definition and flips it to active. All
// graph problems surface here synchronously; the runtime path assumes a
// validated graph.
func (s *CampaignService) Activate(id int) error {
	c, err := s.CampaignRepo.GetByID(id)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignDraft && c.Status != model.CampaignPaused {
		return appErrors.NewValidationError(
			fmt.Sprintf("campaign in status %q cannot be activated", c.Status))
	}
	if err := ValidateCampaign(c); err != nil {
		return err
	}
	return s.CampaignRepo.UpdateStatus(id, model.CampaignActive)
}

// Pause stops new leases for the campaign's enrollments; in-flight
// executions finish and waiting enrollments simply stay un-leased.
func (s *CampaignService) Pause(id int) error {
	c, err := s.CampaignRepo.GetByID(id)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignActive {
		return appErrors.NewValidationError(
			fmt.Sprintf("campaign in status %q cannot be paused", c.Status))
	}
	return s.CampaignRepo.UpdateStatus(id, model.CampaignPaused)
}

func (s *CampaignService) Resume(id int) error {
	c, err := s.CampaignRepo.GetByID(id)
	if err != nil {
		return err
	}
	if c.Status != model.CampaignPaused {
		return appErrors.NewValidationError(
			fmt.Sprintf("campaign in status %q cannot be resumed", c.Status))
	}
	return s.CampaignRepo.UpdateStatus(id, model.CampaignActive)
}

// Archive retires the campaign and force-cancels its open enrollments.
// Terminal enrollments and execution records stay for audit.
func (s *CampaignService) Archive(id int) (int, error) {
	if _, err := s.CampaignRepo.GetByID(id); err != nil {
		return 0, err
	}
	if err := s.CampaignRepo.UpdateStatus(id, model.CampaignArchived); err != nil {
		return 0, err
	}
	return s.EnrollmentRepo.CancelOpenByCampaign(id)
}

// TriggerManual creates a test enrollment bypassing the audience
// matcher. The consent and rate guard still applies at send time.
func (s *CampaignService) TriggerManual(campaignID, recipientID int, context map[string]any) (*model.Enrollment, error) {
	c, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return nil, err
	}
	if c.Status != model.CampaignActive {
		return nil, appErrors.NewValidationError(
			fmt.Sprintf("campaign in status %q cannot be triggered", c.Status))
	}
	rec, err := s.RecipientRepo.GetByID(recipientID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("recipient %d not found", recipientID)
	}

	e := &model.Enrollment{
		CampaignID:      c.ID,
		CampaignVersion: c.Version,
		RecipientID:     recipientID,
		CurrentStepID:   c.FirstStepID(),
		Status:          model.EnrollmentPending,
		Context:         context,
	}
	if err := s.EnrollmentRepo.Create(e); err != nil {
		return nil, err
	}
	return e, nil
}

// ListCampaigns fetches campaigns with pagination
func (s *CampaignService) ListCampaigns(page, pageSize int, ctype, status string) ([]model.CampaignDefinition, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	ptrs, total, err := s.CampaignRepo.ListCampaigns(offset, pageSize, ctype, status)
	if err != nil {
		return nil, nil, err
	}

	campaigns := make([]model.CampaignDefinition, len(ptrs))
	for i, c := range ptrs {
		campaigns[i] = *c
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}

	return campaigns, pagination, nil
}

func (s *CampaignService) GetCampaignDetails(id int) (*model.CampaignDefinition, error) {
	return s.CampaignRepo.GetByID(id)
}

func (s *CampaignService) GetCampaignDetailsWithStats(id int) (*CampaignDetails, error) {
	c, err := s.CampaignRepo.GetByID(id)
	if err != nil {
		return nil, err
	}
	stats, err := s.EnrollmentRepo.StatsByCampaign(id)
	if err != nil {
		return nil, err
	}
	return &CampaignDetails{CampaignDefinition: c, Stats: stats}, nil
}

// RenderPreview renders one step's template for a recipient, optionally
// with an override template and sample context.
func (s *CampaignService) RenderPreview(campaignID int, stepID string, recipientID int, overrideTemplate *string, context map[string]any) (string, error) {
	c, err := s.CampaignRepo.GetByID(campaignID)
	if err != nil {
		return "", err
	}
	rec, err := s.RecipientRepo.GetByID(recipientID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("recipient not found")
	}

	template := ""
	if step := c.Step(stepID); step != nil && step.Send != nil {
		template = step.Send.Template
	}
	if overrideTemplate != nil && strings.TrimSpace(*overrideTemplate) != "" {
		template = *overrideTemplate
	}
	if strings.TrimSpace(template) == "" {
		return "", fmt.Errorf("template cannot be empty")
	}

	return RenderTemplate(template, TemplateData(rec, context)), nil
}

// ValidateCampaign checks everything the runtime path relies on: a
// non-empty acyclic step graph with resolvable references, well-formed
// per-type payloads, branch defaults, and a parseable trigger spec.
func ValidateCampaign(c *model.CampaignDefinition) error {
	issues := []string{}

	switch c.TriggerType {
	case model.TriggerEvent:
		if c.TriggerEvent == "" {
			issues = append(issues, "event campaign needs a trigger_event")
		}
	case model.TriggerScheduled:
		if c.TriggerAt == nil {
			issues = append(issues, "scheduled campaign needs a trigger_at")
		}
	case model.TriggerRecurring:
		if _, err := model.ParseRecurrence(c.Recurrence); err != nil {
			issues = append(issues, err.Error())
		}
	default:
		issues = append(issues, fmt.Sprintf("unknown trigger type %q", c.TriggerType))
	}

	if len(c.Steps) == 0 {
		issues = append(issues, "campaign needs at least one step")
	}

	ids := map[string]bool{}
	for i := range c.Steps {
		step := &c.Steps[i]
		if step.ID == "" {
			issues = append(issues, fmt.Sprintf("step %d has no id", i))
			continue
		}
		if ids[step.ID] {
			issues = append(issues, fmt.Sprintf("duplicate step id %q", step.ID))
		}
		ids[step.ID] = true
	}

	for i := range c.Steps {
		step := &c.Steps[i]
		issues = append(issues, validateStep(c, step, ids)...)
	}

	if len(issues) == 0 {
		if cycle := findCycle(c); cycle != "" {
			issues = append(issues, "step graph has a cycle through "+cycle)
		}
	}

	if len(issues) > 0 {
		return &appErrors.ValidationError{Issues: issues}
	}
	return nil
}

func validateStep(c *model.CampaignDefinition, step *model.StepDefinition, ids map[string]bool) []string {
	issues := []string{}
	ref := func(target, what string) {
		if target != "" && !ids[target] {
			issues = append(issues, fmt.Sprintf("step %q: %s references unknown step %q", step.ID, what, target))
		}
	}

	ref(step.Next, "next")
	switch step.Type {
	case model.StepSend:
		if step.Send == nil {
			issues = append(issues, fmt.Sprintf("step %q: send payload missing", step.ID))
			break
		}
		if step.Send.Channel == "" {
			issues = append(issues, fmt.Sprintf("step %q: send needs a channel", step.ID))
		}
		if step.Send.Template == "" {
			issues = append(issues, fmt.Sprintf("step %q: send needs a template", step.ID))
		}
	case model.StepWait:
		if step.Wait == nil {
			issues = append(issues, fmt.Sprintf("step %q: wait payload missing", step.ID))
			break
		}
		if err := step.Wait.Validate(); err != nil {
			issues = append(issues, fmt.Sprintf("step %q: %v", step.ID, err))
		}
	case model.StepCondition:
		if step.Condition == nil {
			issues = append(issues, fmt.Sprintf("step %q: condition payload missing", step.ID))
			break
		}
		if err := step.Condition.If.Validate(); err != nil {
			issues = append(issues, fmt.Sprintf("step %q: %v", step.ID, err))
		}
		if step.Condition.OnTrue == "" || step.Condition.OnFalse == "" {
			issues = append(issues, fmt.Sprintf("step %q: condition needs on_true and on_false targets", step.ID))
		}
		ref(step.Condition.OnTrue, "on_true")
		ref(step.Condition.OnFalse, "on_false")
	case model.StepBranch:
		if step.Branch == nil {
			issues = append(issues, fmt.Sprintf("step %q: branch payload missing", step.ID))
			break
		}
		// A branch with no default and no matching case would be a
		// runtime dead end, so the default is mandatory here.
		if step.Branch.Default == "" {
			issues = append(issues, fmt.Sprintf("step %q: branch needs a default target", step.ID))
		}
		ref(step.Branch.Default, "default")
		for j, bc := range step.Branch.Cases {
			if err := bc.When.Validate(); err != nil {
				issues = append(issues, fmt.Sprintf("step %q case %d: %v", step.ID, j, err))
			}
			if bc.Then == "" {
				issues = append(issues, fmt.Sprintf("step %q case %d: missing target", step.ID, j))
			}
			ref(bc.Then, fmt.Sprintf("case %d", j))
		}
	default:
		issues = append(issues, fmt.Sprintf("step %q: unknown type %q", step.ID, step.Type))
	}
	return issues
}

func successors(c *model.CampaignDefinition, step *model.StepDefinition) []string {
	switch step.Type {
	case model.StepCondition:
		if step.Condition == nil {
			return nil
		}
		return []string{step.Condition.OnTrue, step.Condition.OnFalse}
	case model.StepBranch:
		if step.Branch == nil {
			return nil
		}
		targets := []string{step.Branch.Default}
		for _, bc := range step.Branch.Cases {
			targets = append(targets, bc.Then)
		}
		return targets
	default:
		return []string{c.NextStepID(step)}
	}
}

// findCycle runs a colored DFS over every step; a back edge returns the
// offending step id.
func findCycle(c *model.CampaignDefinition) string {
	const (
		white = 0
		grey  = 1
		black = 2
	)
	color := map[string]int{}

	var visit func(id string) string
	visit = func(id string) string {
		if id == "" {
			return ""
		}
		switch color[id] {
		case grey:
			return id
		case black:
			return ""
		}
		color[id] = grey
		step := c.Step(id)
		if step != nil {
			for _, next := range successors(c, step) {
				if bad := visit(next); bad != "" {
					return bad
				}
			}
		}
		color[id] = black
		return ""
	}

	for i := range c.Steps {
		if bad := visit(c.Steps[i].ID); bad != "" {
			return bad
		}
	}
	return ""
}

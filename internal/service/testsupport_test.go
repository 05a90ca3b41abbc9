// internal/service/testsupport_test.go
package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	appErrors "github.com/unclebandit/clinicreach-backend/internal/errors"
	"github.com/unclebandit/clinicreach-backend/internal/gateway"
	"github.com/unclebandit/clinicreach-backend/internal/model"
	"github.com/unclebandit/clinicreach-backend/internal/repository"
)

// fakeCampaignRepo keeps campaigns in a map. It mirrors the repository
// contract closely enough for service tests, including not-found errors.
type fakeCampaignRepo struct {
	campaigns map[int]*model.CampaignDefinition
	nextID    int
}

func newFakeCampaignRepo() *fakeCampaignRepo {
	return &fakeCampaignRepo{campaigns: map[int]*model.CampaignDefinition{}, nextID: 1}
}

func (f *fakeCampaignRepo) put(c *model.CampaignDefinition) *model.CampaignDefinition {
	if c.ID == 0 {
		c.ID = f.nextID
		f.nextID++
	}
	if c.Version == 0 {
		c.Version = 1
	}
	f.campaigns[c.ID] = c
	return c
}

func (f *fakeCampaignRepo) Create(c *model.CampaignDefinition) error {
	if c.Status == "" {
		c.Status = model.CampaignDraft
	}
	f.put(c)
	return nil
}

func (f *fakeCampaignRepo) Update(c *model.CampaignDefinition) error {
	existing, ok := f.campaigns[c.ID]
	if !ok {
		return appErrors.NewCampaignNotFound(c.ID)
	}
	c.Status = existing.Status
	c.Version = existing.Version + 1
	f.campaigns[c.ID] = c
	return nil
}

func (f *fakeCampaignRepo) UpdateStatus(id int, status model.CampaignStatus) error {
	c, ok := f.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	c.Status = status
	return nil
}

func (f *fakeCampaignRepo) GetByID(id int) (*model.CampaignDefinition, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return nil, appErrors.NewCampaignNotFound(id)
	}
	return c, nil
}

func (f *fakeCampaignRepo) ListCampaigns(offset, limit int, ctype, status string) ([]*model.CampaignDefinition, int, error) {
	all := []*model.CampaignDefinition{}
	for _, c := range f.campaigns {
		if ctype != "" && string(c.Type) != ctype {
			continue
		}
		if status != "" && string(c.Status) != status {
			continue
		}
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (f *fakeCampaignRepo) ListByStatus(status model.CampaignStatus) ([]*model.CampaignDefinition, error) {
	out := []*model.CampaignDefinition{}
	for _, c := range f.campaigns {
		if c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeCampaignRepo) MarkTriggered(id int, at time.Time) error {
	c, ok := f.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	t := at
	c.LastRunAt = &t
	return nil
}

func (f *fakeCampaignRepo) Delete(id int) error {
	c, ok := f.campaigns[id]
	if !ok {
		return appErrors.NewCampaignNotFound(id)
	}
	if c.Status != model.CampaignDraft {
		return appErrors.NewValidationError("only draft campaigns can be deleted")
	}
	delete(f.campaigns, id)
	return nil
}

var _ repository.CampaignRepositoryInterface = (*fakeCampaignRepo)(nil)

// fakeEnrollmentStore reproduces the store's two concurrency mechanisms:
// the version check on save and the one-open-enrollment unique index.
// Rows are stored as copies so stale pointers really are stale.
type fakeEnrollmentStore struct {
	rows      map[int]model.Enrollment
	nextID    int
	campaigns *fakeCampaignRepo
}

func newFakeEnrollmentStore(campaigns *fakeCampaignRepo) *fakeEnrollmentStore {
	return &fakeEnrollmentStore{rows: map[int]model.Enrollment{}, nextID: 1, campaigns: campaigns}
}

// seed stores a row as-is, for tests that need historical enrollments.
func (f *fakeEnrollmentStore) seed(e model.Enrollment) model.Enrollment {
	if e.ID == 0 {
		e.ID = f.nextID
		f.nextID++
	}
	if e.Version == 0 {
		e.Version = 1
	}
	f.rows[e.ID] = e
	return e
}

func (f *fakeEnrollmentStore) get(id int) model.Enrollment {
	return f.rows[id]
}

func (f *fakeEnrollmentStore) Create(e *model.Enrollment) error {
	for _, row := range f.rows {
		if row.CampaignID == e.CampaignID && row.RecipientID == e.RecipientID && !row.Status.Terminal() {
			return &appErrors.EnrollmentConflict{CampaignID: e.CampaignID, RecipientID: e.RecipientID}
		}
	}
	e.ID = f.nextID
	f.nextID++
	if e.Status == "" {
		e.Status = model.EnrollmentPending
	}
	if e.Version == 0 {
		e.Version = 1
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	f.rows[e.ID] = *e
	return nil
}

func (f *fakeEnrollmentStore) GetByID(id int) (*model.Enrollment, error) {
	row, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := row
	return &cp, nil
}

func (f *fakeEnrollmentStore) campaignActive(campaignID int) bool {
	if f.campaigns == nil {
		return true
	}
	c, ok := f.campaigns.campaigns[campaignID]
	return ok && c.Status == model.CampaignActive
}

func (f *fakeEnrollmentStore) LeaseDue(now time.Time, owner string, leaseFor time.Duration, limit int) ([]*model.Enrollment, error) {
	ids := []int{}
	for id := range f.rows {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	leased := []*model.Enrollment{}
	for _, id := range ids {
		if len(leased) >= limit {
			break
		}
		row := f.rows[id]
		if !f.campaignActive(row.CampaignID) {
			continue
		}
		due := row.Status == model.EnrollmentPending || row.Status == model.EnrollmentActive ||
			(row.Status == model.EnrollmentWaiting && row.NextWakeAt != nil && !row.NextWakeAt.After(now))
		if !due {
			continue
		}
		if row.LeaseOwner != "" && row.LeaseExpiresAt != nil && row.LeaseExpiresAt.After(now) {
			continue
		}
		expires := now.Add(leaseFor)
		row.LeaseOwner = owner
		row.LeaseExpiresAt = &expires
		f.rows[id] = row
		cp := row
		leased = append(leased, &cp)
	}
	return leased, nil
}

func (f *fakeEnrollmentStore) Save(e *model.Enrollment, expectedVersion int) error {
	row, ok := f.rows[e.ID]
	if !ok || row.Version != expectedVersion {
		return &appErrors.SchedulerLeaseConflict{EnrollmentID: e.ID}
	}
	e.Version = expectedVersion + 1
	e.UpdatedAt = time.Now()
	f.rows[e.ID] = *e
	return nil
}

func (f *fakeEnrollmentStore) ReleaseLease(id int, owner string) error {
	row, ok := f.rows[id]
	if !ok || row.LeaseOwner != owner {
		return nil
	}
	row.LeaseOwner = ""
	row.LeaseExpiresAt = nil
	f.rows[id] = row
	return nil
}

func (f *fakeEnrollmentStore) HasOpen(campaignID, recipientID int) (bool, error) {
	for _, row := range f.rows {
		if row.CampaignID == campaignID && row.RecipientID == recipientID && !row.Status.Terminal() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEnrollmentStore) LastEnrolledAt(campaignID, recipientID int) (*time.Time, error) {
	var last *time.Time
	for _, row := range f.rows {
		if row.CampaignID != campaignID || row.RecipientID != recipientID {
			continue
		}
		t := row.CreatedAt
		if last == nil || t.After(*last) {
			last = &t
		}
	}
	return last, nil
}

func (f *fakeEnrollmentStore) ListOpenByRecipient(recipientID int) ([]*model.Enrollment, error) {
	ids := []int{}
	for id := range f.rows {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	open := []*model.Enrollment{}
	for _, id := range ids {
		row := f.rows[id]
		if row.RecipientID == recipientID && !row.Status.Terminal() {
			cp := row
			open = append(open, &cp)
		}
	}
	return open, nil
}

func (f *fakeEnrollmentStore) CancelOpenByCampaign(campaignID int) (int, error) {
	n := 0
	for id, row := range f.rows {
		if row.CampaignID == campaignID && !row.Status.Terminal() {
			row.Status = model.EnrollmentCancelled
			row.NextWakeAt = nil
			row.Version++
			f.rows[id] = row
			n++
		}
	}
	return n, nil
}

func (f *fakeEnrollmentStore) StatsByCampaign(campaignID int) (map[string]int, error) {
	stats := map[string]int{}
	total := 0
	for _, row := range f.rows {
		if row.CampaignID == campaignID {
			stats[string(row.Status)]++
			total++
		}
	}
	stats["total"] = total
	return stats, nil
}

var _ repository.EnrollmentRepositoryInterface = (*fakeEnrollmentStore)(nil)

// fakeExecutionLog is the append-only record list.
type fakeExecutionLog struct {
	records []*model.StepExecutionRecord
}

func (f *fakeExecutionLog) Append(rec *model.StepExecutionRecord) error {
	cp := *rec
	cp.ID = len(f.records) + 1
	if cp.StartedAt.IsZero() {
		cp.StartedAt = time.Now()
	}
	f.records = append(f.records, &cp)
	rec.ID = cp.ID
	return nil
}

func (f *fakeExecutionLog) HasResult(enrollmentID int, stepID string, result model.StepResult) (bool, error) {
	for _, r := range f.records {
		if r.EnrollmentID == enrollmentID && r.StepID == stepID && r.Result == result {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeExecutionLog) CountMarketingSends(recipientID int, since time.Time) (int, error) {
	count := 0
	for _, r := range f.records {
		if r.RecipientID == recipientID && r.CampaignType == model.CampaignMarketing &&
			r.Result == model.ResultSent && r.StartedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (f *fakeExecutionLog) OldestMarketingSendSince(recipientID int, since time.Time) (*time.Time, error) {
	var oldest *time.Time
	for _, r := range f.records {
		if r.RecipientID == recipientID && r.CampaignType == model.CampaignMarketing &&
			r.Result == model.ResultSent && r.StartedAt.After(since) {
			t := r.StartedAt
			if oldest == nil || t.Before(*oldest) {
				oldest = &t
			}
		}
	}
	return oldest, nil
}

func (f *fakeExecutionLog) RecordDelivery(dispatchID, status string) error {
	for _, r := range f.records {
		if r.DispatchID == dispatchID && r.Result == model.ResultSent {
			r.DeliveryStatus = status
		}
	}
	return nil
}

func (f *fakeExecutionLog) ListByEnrollment(enrollmentID int) ([]*model.StepExecutionRecord, error) {
	out := []*model.StepExecutionRecord{}
	for _, r := range f.records {
		if r.EnrollmentID == enrollmentID {
			out = append(out, r)
		}
	}
	return out, nil
}

// resultsFor flattens the result sequence for one enrollment, oldest first.
func (f *fakeExecutionLog) resultsFor(enrollmentID int) []model.StepResult {
	out := []model.StepResult{}
	for _, r := range f.records {
		if r.EnrollmentID == enrollmentID {
			out = append(out, r.Result)
		}
	}
	return out
}

var _ repository.ExecutionRepositoryInterface = (*fakeExecutionLog)(nil)

// fakeDirectory is the recipient directory. failures makes the next N
// calls error, for the retry paths.
type fakeDirectory struct {
	recipients map[int]*model.Recipient
	failures   int
	calls      int
}

func newFakeDirectory(recs ...*model.Recipient) *fakeDirectory {
	d := &fakeDirectory{recipients: map[int]*model.Recipient{}}
	for _, r := range recs {
		d.recipients[r.ID] = r
	}
	return d
}

func (d *fakeDirectory) failNext() error {
	d.calls++
	if d.failures > 0 {
		d.failures--
		return fmt.Errorf("directory unavailable")
	}
	return nil
}

func (d *fakeDirectory) GetByID(id int) (*model.Recipient, error) {
	if err := d.failNext(); err != nil {
		return nil, err
	}
	return d.recipients[id], nil
}

func (d *fakeDirectory) FindPage(afterID, limit int) ([]*model.Recipient, error) {
	if err := d.failNext(); err != nil {
		return nil, err
	}
	ids := []int{}
	for id := range d.recipients {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	if limit < len(ids) {
		ids = ids[:limit]
	}
	page := []*model.Recipient{}
	for _, id := range ids {
		page = append(page, d.recipients[id])
	}
	return page, nil
}

var _ repository.RecipientRepositoryInterface = (*fakeDirectory)(nil)

type fakeSuppressions struct {
	suppressed map[int]bool
}

func (f *fakeSuppressions) IsSuppressed(recipientID int) (bool, error) {
	return f.suppressed[recipientID], nil
}

func (f *fakeSuppressions) Add(entry *model.SuppressionEntry) error {
	if f.suppressed == nil {
		f.suppressed = map[int]bool{}
	}
	f.suppressed[entry.RecipientID] = true
	return nil
}

var _ repository.SuppressionRepositoryInterface = (*fakeSuppressions)(nil)

// fakeDispatcher records requests and plays back scripted errors, one
// per call; past the script everything succeeds.
type fakeDispatcher struct {
	requests []gateway.DispatchRequest
	errs     []error
}

func (f *fakeDispatcher) Send(ctx context.Context, req gateway.DispatchRequest) (gateway.DispatchResult, error) {
	f.requests = append(f.requests, req)
	call := len(f.requests) - 1
	if call < len(f.errs) && f.errs[call] != nil {
		return gateway.DispatchResult{}, f.errs[call]
	}
	return gateway.DispatchResult{DispatchID: fmt.Sprintf("d-%d", call+1), Accepted: true}, nil
}

var _ Dispatcher = (*fakeDispatcher)(nil)

// allowGuard approves everything; tests about guard behavior use
// scriptedGuard instead.
type allowGuard struct{}

func (allowGuard) CheckSend(*model.Recipient, model.CampaignType, string, time.Time, int) (Verdict, error) {
	return Allow(), nil
}

type scriptedGuard struct {
	verdict Verdict
}

func (g *scriptedGuard) CheckSend(*model.Recipient, model.CampaignType, string, time.Time, int) (Verdict, error) {
	return g.verdict, nil
}

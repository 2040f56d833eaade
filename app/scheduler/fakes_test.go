package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadpulse/sequence-engine/app/services"
	"github.com/leadpulse/sequence-engine/channel"
	"github.com/leadpulse/sequence-engine/models"
)

// In-memory repository fakes. They implement just enough of the repository
// contracts for the engine's logic to run without a database.

type fakeTxManager struct{}

func (fakeTxManager) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type fakeEnrollmentRepo struct {
	mu     sync.Mutex
	rows   map[uint]*models.Enrollment
	nextID uint
}

func newFakeEnrollmentRepo() *fakeEnrollmentRepo {
	return &fakeEnrollmentRepo{rows: map[uint]*models.Enrollment{}, nextID: 1}
}

func (r *fakeEnrollmentRepo) add(e *models.Enrollment) *models.Enrollment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.ID == 0 {
		e.ID = r.nextID
		r.nextID++
	}
	if e.UUID == uuid.Nil {
		e.UUID = uuid.New()
	}
	cp := *e
	r.rows[e.ID] = &cp
	return e
}

func (r *fakeEnrollmentRepo) get(id uint) *models.Enrollment {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[id]; ok {
		cp := *row
		return &cp
	}
	return nil
}

func (r *fakeEnrollmentRepo) ByID(ctx context.Context, id uint) (*models.Enrollment, error) {
	return r.get(id), nil
}

func (r *fakeEnrollmentRepo) ByFilter(ctx context.Context, filter models.EnrollmentFilter, orderBy string, limit, offset int) ([]*models.Enrollment, error) {
	return nil, nil
}

func (r *fakeEnrollmentRepo) Save(ctx context.Context, e *models.Enrollment) error {
	r.add(e)
	return nil
}

func (r *fakeEnrollmentRepo) SaveBatch(ctx context.Context, es []*models.Enrollment) error {
	for _, e := range es {
		r.add(e)
	}
	return nil
}

func (r *fakeEnrollmentRepo) Count(ctx context.Context, filter models.EnrollmentFilter) (int64, error) {
	return 0, nil
}

func (r *fakeEnrollmentRepo) Exists(ctx context.Context, filter models.EnrollmentFilter) (bool, error) {
	return false, nil
}

func (r *fakeEnrollmentRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UUID == id {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeEnrollmentRepo) BySequenceAndLead(ctx context.Context, sequenceID uint, leadID string) (*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.SequenceID == sequenceID && row.LeadID == leadID {
			cp := *row
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *fakeEnrollmentRepo) ListBySequence(ctx context.Context, sequenceID uint, limit, offset int) ([]*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Enrollment
	for _, row := range r.rows {
		if row.SequenceID == sequenceID {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeEnrollmentRepo) ListDue(ctx context.Context, organizationID *uint, now time.Time, limit int) ([]*models.Enrollment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Enrollment
	for _, row := range r.rows {
		if organizationID != nil && row.OrganizationID != *organizationID {
			continue
		}
		if row.IsDue(now) && !row.IsClaimed(now) {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeEnrollmentRepo) Claim(ctx context.Context, id uint, workerID string, now time.Time, lease time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return false, nil
	}
	if !row.IsDue(now) || row.IsClaimed(now) {
		return false, nil
	}
	expiry := now.Add(lease)
	row.ClaimedBy = &workerID
	row.ClaimExpiresAt = &expiry
	return true, nil
}

func (r *fakeEnrollmentRepo) UpdateAndRelease(ctx context.Context, e *models.Enrollment, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[e.ID]
	if !ok || row.ClaimedBy == nil || *row.ClaimedBy != workerID {
		return fmt.Errorf("claim on enrollment %d no longer held by %s", e.ID, workerID)
	}
	row.CurrentStepIndex = e.CurrentStepIndex
	row.Status = e.Status
	row.NextRunAt = e.NextRunAt
	row.NextRunKind = e.NextRunKind
	row.PendingFallbackStepID = e.PendingFallbackStepID
	row.StoppedAt = e.StoppedAt
	row.LastError = e.LastError
	row.ClaimedBy = nil
	row.ClaimExpiresAt = nil
	return nil
}

func (r *fakeEnrollmentRepo) Release(ctx context.Context, id uint, workerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.ClaimedBy == nil || *row.ClaimedBy != workerID {
		return nil
	}
	row.ClaimedBy = nil
	row.ClaimExpiresAt = nil
	return nil
}

func (r *fakeEnrollmentRepo) Update(ctx context.Context, e *models.Enrollment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *e
	r.rows[e.ID] = &cp
	return nil
}

type fakeSequenceRepo struct {
	mu   sync.Mutex
	rows map[uint]*models.Sequence
}

func newFakeSequenceRepo(seqs ...*models.Sequence) *fakeSequenceRepo {
	r := &fakeSequenceRepo{rows: map[uint]*models.Sequence{}}
	for _, s := range seqs {
		r.rows[s.ID] = s
	}
	return r
}

func (r *fakeSequenceRepo) ByID(ctx context.Context, id uint) (*models.Sequence, error) {
	return r.ByIDWithSteps(ctx, id)
}

func (r *fakeSequenceRepo) ByIDWithSteps(ctx context.Context, id uint) (*models.Sequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[id], nil
}

func (r *fakeSequenceRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.Sequence, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.UUID == id {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeSequenceRepo) ByFilter(ctx context.Context, filter models.SequenceFilter, orderBy string, limit, offset int) ([]*models.Sequence, error) {
	return nil, nil
}

func (r *fakeSequenceRepo) Save(ctx context.Context, s *models.Sequence) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[s.ID] = s
	return nil
}

func (r *fakeSequenceRepo) SaveBatch(ctx context.Context, ss []*models.Sequence) error {
	for _, s := range ss {
		_ = r.Save(ctx, s)
	}
	return nil
}

func (r *fakeSequenceRepo) Count(ctx context.Context, filter models.SequenceFilter) (int64, error) {
	return 0, nil
}

func (r *fakeSequenceRepo) Exists(ctx context.Context, filter models.SequenceFilter) (bool, error) {
	return false, nil
}

func (r *fakeSequenceRepo) Update(ctx context.Context, s *models.Sequence) error {
	return r.Save(ctx, s)
}

func (r *fakeSequenceRepo) UpdateStatus(ctx context.Context, id uint, from, to models.SequenceStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok || row.Status != from {
		return false, nil
	}
	row.Status = to
	return true, nil
}

func (r *fakeSequenceRepo) ReplaceSteps(ctx context.Context, sequenceID uint, steps []*models.SequenceStep) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[sequenceID]
	if !ok {
		return fmt.Errorf("sequence %d not found", sequenceID)
	}
	row.Steps = nil
	for _, s := range steps {
		row.Steps = append(row.Steps, *s)
	}
	return nil
}

func (r *fakeSequenceRepo) AddStepConditions(ctx context.Context, conditions []*models.StepCondition) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range conditions {
		for _, row := range r.rows {
			for i := range row.Steps {
				if row.Steps[i].ID == c.StepID {
					row.Steps[i].Conditions = append(row.Steps[i].Conditions, *c)
				}
			}
		}
	}
	return nil
}

type fakeExecutionRepo struct {
	mu     sync.Mutex
	rows   []*models.StepExecution
	nextID uint
}

func newFakeExecutionRepo() *fakeExecutionRepo {
	return &fakeExecutionRepo{nextID: 1}
}

func (r *fakeExecutionRepo) ByID(ctx context.Context, id uint) (*models.StepExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeExecutionRepo) ByFilter(ctx context.Context, filter models.StepExecutionFilter, orderBy string, limit, offset int) ([]*models.StepExecution, error) {
	return nil, nil
}

func (r *fakeExecutionRepo) Save(ctx context.Context, e *models.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.EnrollmentID == e.EnrollmentID && row.StepID == e.StepID {
			return fmt.Errorf("duplicate execution for enrollment %d step %d", e.EnrollmentID, e.StepID)
		}
	}
	e.ID = r.nextID
	r.nextID++
	r.rows = append(r.rows, e)
	return nil
}

func (r *fakeExecutionRepo) SaveBatch(ctx context.Context, es []*models.StepExecution) error {
	for _, e := range es {
		if err := r.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeExecutionRepo) Count(ctx context.Context, filter models.StepExecutionFilter) (int64, error) {
	return int64(len(r.rows)), nil
}

func (r *fakeExecutionRepo) Exists(ctx context.Context, filter models.StepExecutionFilter) (bool, error) {
	return len(r.rows) > 0, nil
}

func (r *fakeExecutionRepo) ByEnrollmentAndStep(ctx context.Context, enrollmentID, stepID uint) (*models.StepExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.EnrollmentID == enrollmentID && row.StepID == stepID {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeExecutionRepo) ByChannelMessageID(ctx context.Context, channelMessageID string) (*models.StepExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ChannelMessageID != nil && *row.ChannelMessageID == channelMessageID {
			return row, nil
		}
	}
	return nil, nil
}

func (r *fakeExecutionRepo) ListByEnrollment(ctx context.Context, enrollmentID uint) ([]*models.StepExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.StepExecution
	for _, row := range r.rows {
		if row.EnrollmentID == enrollmentID {
			out = append(out, row)
		}
	}
	return out, nil
}

type fakeAnalyticsRepo struct {
	mu   sync.Mutex
	rows map[[2]uint]*models.StepAnalytics
}

func newFakeAnalyticsRepo() *fakeAnalyticsRepo {
	return &fakeAnalyticsRepo{rows: map[[2]uint]*models.StepAnalytics{}}
}

func (r *fakeAnalyticsRepo) Increment(ctx context.Context, organizationID, sequenceID, stepID uint, deltas models.CounterDeltas) error {
	if deltas.IsZero() {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	key := [2]uint{sequenceID, stepID}
	row, ok := r.rows[key]
	if !ok {
		row = &models.StepAnalytics{OrganizationID: organizationID, SequenceID: sequenceID, StepID: stepID}
		r.rows[key] = row
	}
	row.Sent += deltas.Sent
	row.Delivered += deltas.Delivered
	row.Opened += deltas.Opened
	row.Clicked += deltas.Clicked
	row.Replied += deltas.Replied
	return nil
}

func (r *fakeAnalyticsRepo) BySequence(ctx context.Context, sequenceID uint) ([]*models.StepAnalytics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.StepAnalytics
	for key, row := range r.rows {
		if key[0] == sequenceID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeAnalyticsRepo) ByStep(ctx context.Context, sequenceID, stepID uint) (*models.StepAnalytics, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows[[2]uint{sequenceID, stepID}], nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	rows   []*models.ChannelEvent
	nextID uint
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{nextID: 1}
}

func (r *fakeEventRepo) add(messageID string, t models.ChannelEventType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, &models.ChannelEvent{
		ID:               r.nextID,
		ChannelMessageID: messageID,
		Type:             t,
		OccurredAt:       time.Now().UTC(),
	})
	r.nextID++
}

func (r *fakeEventRepo) ByID(ctx context.Context, id uint) (*models.ChannelEvent, error) {
	return nil, nil
}

func (r *fakeEventRepo) ByFilter(ctx context.Context, filter models.ChannelEventFilter, orderBy string, limit, offset int) ([]*models.ChannelEvent, error) {
	return nil, nil
}

func (r *fakeEventRepo) Save(ctx context.Context, e *models.ChannelEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.ID = r.nextID
	r.nextID++
	r.rows = append(r.rows, e)
	return nil
}

func (r *fakeEventRepo) SaveBatch(ctx context.Context, es []*models.ChannelEvent) error {
	for _, e := range es {
		if err := r.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeEventRepo) Count(ctx context.Context, filter models.ChannelEventFilter) (int64, error) {
	return int64(len(r.rows)), nil
}

func (r *fakeEventRepo) Exists(ctx context.Context, filter models.ChannelEventFilter) (bool, error) {
	return len(r.rows) > 0, nil
}

func (r *fakeEventRepo) ByMessageID(ctx context.Context, channelMessageID string) ([]*models.ChannelEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ChannelEvent
	for _, row := range r.rows {
		if row.ChannelMessageID == channelMessageID {
			out = append(out, row)
		}
	}
	return out, nil
}

func (r *fakeEventRepo) ByMessageIDs(ctx context.Context, channelMessageIDs []string) ([]*models.ChannelEvent, error) {
	var out []*models.ChannelEvent
	for _, id := range channelMessageIDs {
		rows, _ := r.ByMessageID(ctx, id)
		out = append(out, rows...)
	}
	return out, nil
}

func (r *fakeEventRepo) HasEventOfType(ctx context.Context, channelMessageID string, eventType models.ChannelEventType) (bool, error) {
	rows, _ := r.ByMessageID(ctx, channelMessageID)
	for _, row := range rows {
		if row.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

// fakeAdapter counts sends and returns a scripted result or error
type fakeAdapter struct {
	mu        sync.Mutex
	channel   models.ChannelType
	result    channel.Result
	err       error
	sends     int
	lastMsg   channel.Message
	messageID int
}

func newFakeAdapter(ct models.ChannelType) *fakeAdapter {
	return &fakeAdapter{channel: ct, result: channel.Result{Status: channel.DeliveryStatusSent}}
}

func (a *fakeAdapter) Channel() models.ChannelType { return a.channel }

func (a *fakeAdapter) Send(ctx context.Context, msg channel.Message) (channel.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sends++
	a.lastMsg = msg
	if a.err != nil {
		return channel.Result{}, a.err
	}
	res := a.result
	if res.MessageID == "" {
		a.messageID++
		res.MessageID = fmt.Sprintf("%s-msg-%d", a.channel, a.messageID)
	}
	return res, nil
}

func (a *fakeAdapter) sendCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sends
}

type fakeLeadService struct {
	leads map[string]*services.Lead
}

func (s *fakeLeadService) GetLead(ctx context.Context, organizationID uint, leadID string) (*services.Lead, error) {
	lead, ok := s.leads[leadID]
	if !ok {
		return nil, fmt.Errorf("lead %q: %w", leadID, services.ErrLeadNotFound)
	}
	return lead, nil
}

type fakeTemplateStore struct {
	templates map[string]*services.Template
}

func (s *fakeTemplateStore) Get(ctx context.Context, organizationID uint, templateID string) (*services.Template, error) {
	return s.templates[templateID], nil
}

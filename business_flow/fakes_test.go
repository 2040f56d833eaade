package businessflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/leadpulse/sequence-engine/models"
	"github.com/leadpulse/sequence-engine/utils"
)

// fakeTxManager runs the unit of work directly, no transaction semantics.
type fakeTxManager struct{}

func (fakeTxManager) Do(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

type fakeSequenceRepo struct {
	sequences map[uint]*models.Sequence
	nextID    uint
	saveErr   error
}

func newFakeSequenceRepo() *fakeSequenceRepo {
	return &fakeSequenceRepo{sequences: make(map[uint]*models.Sequence), nextID: 1}
}

func (r *fakeSequenceRepo) add(seq *models.Sequence) *models.Sequence {
	if seq.ID == 0 {
		seq.ID = r.nextID
		r.nextID++
	}
	if seq.UUID == uuid.Nil {
		seq.UUID = uuid.New()
	}
	if seq.CreatedAt.IsZero() {
		seq.CreatedAt = utils.UTCNow()
	}
	r.sequences[seq.ID] = seq
	return seq
}

func (r *fakeSequenceRepo) ByID(ctx context.Context, id uint) (*models.Sequence, error) {
	return r.sequences[id], nil
}

func (r *fakeSequenceRepo) ByFilter(ctx context.Context, f models.SequenceFilter, orderBy string, limit, offset int) ([]*models.Sequence, error) {
	var rows []*models.Sequence
	for _, seq := range r.sequences {
		if f.OrganizationID != nil && seq.OrganizationID != *f.OrganizationID {
			continue
		}
		if f.Status != nil && seq.Status != *f.Status {
			continue
		}
		rows = append(rows, seq)
	}
	return rows, nil
}

func (r *fakeSequenceRepo) Save(ctx context.Context, seq *models.Sequence) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	if seq.Status == "" {
		seq.Status = models.SequenceStatusDraft
	}
	r.add(seq)
	return nil
}

func (r *fakeSequenceRepo) SaveBatch(ctx context.Context, seqs []*models.Sequence) error {
	for _, seq := range seqs {
		if err := r.Save(ctx, seq); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeSequenceRepo) Count(ctx context.Context, f models.SequenceFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeSequenceRepo) Exists(ctx context.Context, f models.SequenceFilter) (bool, error) {
	c, _ := r.Count(ctx, f)
	return c > 0, nil
}

func (r *fakeSequenceRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.Sequence, error) {
	for _, seq := range r.sequences {
		if seq.UUID == id {
			return seq, nil
		}
	}
	return nil, nil
}

func (r *fakeSequenceRepo) ByIDWithSteps(ctx context.Context, id uint) (*models.Sequence, error) {
	return r.sequences[id], nil
}

func (r *fakeSequenceRepo) Update(ctx context.Context, seq *models.Sequence) error {
	if _, ok := r.sequences[seq.ID]; !ok {
		return errors.New("sequence not found")
	}
	r.sequences[seq.ID] = seq
	return nil
}

func (r *fakeSequenceRepo) UpdateStatus(ctx context.Context, id uint, from, to models.SequenceStatus) (bool, error) {
	seq, ok := r.sequences[id]
	if !ok || seq.Status != from {
		return false, nil
	}
	seq.Status = to
	return true, nil
}

func (r *fakeSequenceRepo) ReplaceSteps(ctx context.Context, sequenceID uint, steps []*models.SequenceStep) error {
	seq, ok := r.sequences[sequenceID]
	if !ok {
		return errors.New("sequence not found")
	}
	seq.Steps = seq.Steps[:0]
	for _, st := range steps {
		st.ID = r.nextID
		r.nextID++
		st.SequenceID = sequenceID
		seq.Steps = append(seq.Steps, *st)
	}
	return nil
}

func (r *fakeSequenceRepo) AddStepConditions(ctx context.Context, conditions []*models.StepCondition) error {
	for _, c := range conditions {
		for _, seq := range r.sequences {
			for i := range seq.Steps {
				if seq.Steps[i].ID == c.StepID {
					seq.Steps[i].Conditions = append(seq.Steps[i].Conditions, *c)
				}
			}
		}
	}
	return nil
}

type fakeEnrollmentRepo struct {
	enrollments map[uint]*models.Enrollment
	nextID      uint
	saveErr     error
}

func newFakeEnrollmentRepo() *fakeEnrollmentRepo {
	return &fakeEnrollmentRepo{enrollments: make(map[uint]*models.Enrollment), nextID: 1}
}

func (r *fakeEnrollmentRepo) add(e *models.Enrollment) *models.Enrollment {
	if e.ID == 0 {
		e.ID = r.nextID
		r.nextID++
	}
	if e.UUID == uuid.Nil {
		e.UUID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = utils.UTCNow()
	}
	r.enrollments[e.ID] = e
	return e
}

func (r *fakeEnrollmentRepo) ByID(ctx context.Context, id uint) (*models.Enrollment, error) {
	return r.enrollments[id], nil
}

func (r *fakeEnrollmentRepo) ByFilter(ctx context.Context, f models.EnrollmentFilter, orderBy string, limit, offset int) ([]*models.Enrollment, error) {
	var rows []*models.Enrollment
	for _, e := range r.enrollments {
		if f.SequenceID != nil && e.SequenceID != *f.SequenceID {
			continue
		}
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		rows = append(rows, e)
	}
	return rows, nil
}

func (r *fakeEnrollmentRepo) Save(ctx context.Context, e *models.Enrollment) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	for _, other := range r.enrollments {
		if other.SequenceID == e.SequenceID && other.LeadID == e.LeadID {
			return errors.New("duplicate key value violates unique constraint")
		}
	}
	if e.Status == "" {
		e.Status = models.EnrollmentStatusActive
	}
	if e.NextRunKind == "" {
		e.NextRunKind = models.RunKindExecuteStep
	}
	r.add(e)
	return nil
}

func (r *fakeEnrollmentRepo) SaveBatch(ctx context.Context, es []*models.Enrollment) error {
	for _, e := range es {
		if err := r.Save(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *fakeEnrollmentRepo) Count(ctx context.Context, f models.EnrollmentFilter) (int64, error) {
	rows, _ := r.ByFilter(ctx, f, "", 0, 0)
	return int64(len(rows)), nil
}

func (r *fakeEnrollmentRepo) Exists(ctx context.Context, f models.EnrollmentFilter) (bool, error) {
	c, _ := r.Count(ctx, f)
	return c > 0, nil
}

func (r *fakeEnrollmentRepo) ByUUID(ctx context.Context, id uuid.UUID) (*models.Enrollment, error) {
	for _, e := range r.enrollments {
		if e.UUID == id {
			return e, nil
		}
	}
	return nil, nil
}

func (r *fakeEnrollmentRepo) BySequenceAndLead(ctx context.Context, sequenceID uint, leadID string) (*models.Enrollment, error) {
	for _, e := range r.enrollments {
		if e.SequenceID == sequenceID && e.LeadID == leadID {
			return e, nil
		}
	}
	return nil, nil
}

func (r *fakeEnrollmentRepo) ListBySequence(ctx context.Context, sequenceID uint, limit, offset int) ([]*models.Enrollment, error) {
	return r.ByFilter(ctx, models.EnrollmentFilter{SequenceID: &sequenceID}, "", limit, offset)
}

func (r *fakeEnrollmentRepo) ListDue(ctx context.Context, organizationID *uint, now time.Time, limit int) ([]*models.Enrollment, error) {
	return nil, nil
}

func (r *fakeEnrollmentRepo) Claim(ctx context.Context, id uint, workerID string, now time.Time, lease time.Duration) (bool, error) {
	return false, nil
}

func (r *fakeEnrollmentRepo) UpdateAndRelease(ctx context.Context, e *models.Enrollment, workerID string) error {
	return errors.New("not supported")
}

func (r *fakeEnrollmentRepo) Release(ctx context.Context, id uint, workerID string) error {
	return nil
}

func (r *fakeEnrollmentRepo) Update(ctx context.Context, e *models.Enrollment) error {
	if _, ok := r.enrollments[e.ID]; !ok {
		return errors.New("enrollment not found")
	}
	r.enrollments[e.ID] = e
	return nil
}

type fakeExecutionRepo struct {
	executions map[uint]*models.StepExecution
	nextID     uint
}

func newFakeExecutionRepo() *fakeExecutionRepo {
	return &fakeExecutionRepo{executions: make(map[uint]*models.StepExecution), nextID: 1}
}

func (r *fakeExecutionRepo) add(e *models.StepExecution) *models.StepExecution {
	if e.ID == 0 {
		e.ID = r.nextID
		r.nextID++
	}
	r.executions[e.ID] = e
	return e
}

func (r *fakeExecutionRepo) ByID(ctx context.Context, id uint) (*models.StepExecution, error) {
	return r.executions[id], nil
}

func (r *fakeExecutionRepo) ByFilter(ctx context.Context, f models.StepExecutionFilter, orderBy string, limit, offset int) ([]*models.StepExecution, error) {
	return nil, nil
}

func (r *fakeExecutionRepo) Save(ctx context.Context, e *models.StepExecution) error {
	r.add(e)
	return nil
}

func (r *fakeExecutionRepo) SaveBatch(ctx context.Context, es []*models.StepExecution) error {
	for _, e := range es {
		r.add(e)
	}
	return nil
}

func (r *fakeExecutionRepo) Count(ctx context.Context, f models.StepExecutionFilter) (int64, error) {
	return int64(len(r.executions)), nil
}

func (r *fakeExecutionRepo) Exists(ctx context.Context, f models.StepExecutionFilter) (bool, error) {
	return len(r.executions) > 0, nil
}

func (r *fakeExecutionRepo) ByEnrollmentAndStep(ctx context.Context, enrollmentID, stepID uint) (*models.StepExecution, error) {
	for _, e := range r.executions {
		if e.EnrollmentID == enrollmentID && e.StepID == stepID {
			return e, nil
		}
	}
	return nil, nil
}

func (r *fakeExecutionRepo) ByChannelMessageID(ctx context.Context, channelMessageID string) (*models.StepExecution, error) {
	for _, e := range r.executions {
		if e.ChannelMessageID != nil && *e.ChannelMessageID == channelMessageID {
			return e, nil
		}
	}
	return nil, nil
}

func (r *fakeExecutionRepo) ListByEnrollment(ctx context.Context, enrollmentID uint) ([]*models.StepExecution, error) {
	var rows []*models.StepExecution
	for _, e := range r.executions {
		if e.EnrollmentID == enrollmentID {
			rows = append(rows, e)
		}
	}
	return rows, nil
}

type fakeAnalyticsRepo struct {
	counters map[[2]uint]*models.StepAnalytics
}

func newFakeAnalyticsRepo() *fakeAnalyticsRepo {
	return &fakeAnalyticsRepo{counters: make(map[[2]uint]*models.StepAnalytics)}
}

func (r *fakeAnalyticsRepo) Increment(ctx context.Context, organizationID, sequenceID, stepID uint, deltas models.CounterDeltas) error {
	key := [2]uint{sequenceID, stepID}
	row, ok := r.counters[key]
	if !ok {
		row = &models.StepAnalytics{OrganizationID: organizationID, SequenceID: sequenceID, StepID: stepID}
		r.counters[key] = row
	}
	row.Sent += deltas.Sent
	row.Delivered += deltas.Delivered
	row.Opened += deltas.Opened
	row.Clicked += deltas.Clicked
	row.Replied += deltas.Replied
	return nil
}

func (r *fakeAnalyticsRepo) BySequence(ctx context.Context, sequenceID uint) ([]*models.StepAnalytics, error) {
	var rows []*models.StepAnalytics
	for key, row := range r.counters {
		if key[0] == sequenceID {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func (r *fakeAnalyticsRepo) ByStep(ctx context.Context, sequenceID, stepID uint) (*models.StepAnalytics, error) {
	return r.counters[[2]uint{sequenceID, stepID}], nil
}

type fakeEventRepo struct {
	events []*models.ChannelEvent
}

func (r *fakeEventRepo) ByID(ctx context.Context, id uint) (*models.ChannelEvent, error) {
	return nil, nil
}

func (r *fakeEventRepo) ByFilter(ctx context.Context, f models.ChannelEventFilter, orderBy string, limit, offset int) ([]*models.ChannelEvent, error) {
	return r.events, nil
}

func (r *fakeEventRepo) Save(ctx context.Context, e *models.ChannelEvent) error {
	r.events = append(r.events, e)
	return nil
}

func (r *fakeEventRepo) SaveBatch(ctx context.Context, es []*models.ChannelEvent) error {
	r.events = append(r.events, es...)
	return nil
}

func (r *fakeEventRepo) Count(ctx context.Context, f models.ChannelEventFilter) (int64, error) {
	return int64(len(r.events)), nil
}

func (r *fakeEventRepo) Exists(ctx context.Context, f models.ChannelEventFilter) (bool, error) {
	return len(r.events) > 0, nil
}

func (r *fakeEventRepo) ByMessageID(ctx context.Context, channelMessageID string) ([]*models.ChannelEvent, error) {
	var rows []*models.ChannelEvent
	for _, e := range r.events {
		if e.ChannelMessageID == channelMessageID {
			rows = append(rows, e)
		}
	}
	return rows, nil
}

func (r *fakeEventRepo) ByMessageIDs(ctx context.Context, channelMessageIDs []string) ([]*models.ChannelEvent, error) {
	var rows []*models.ChannelEvent
	for _, id := range channelMessageIDs {
		matched, _ := r.ByMessageID(ctx, id)
		rows = append(rows, matched...)
	}
	return rows, nil
}

func (r *fakeEventRepo) HasEventOfType(ctx context.Context, channelMessageID string, eventType models.ChannelEventType) (bool, error) {
	rows, _ := r.ByMessageID(ctx, channelMessageID)
	for _, e := range rows {
		if e.Type == eventType {
			return true, nil
		}
	}
	return false, nil
}

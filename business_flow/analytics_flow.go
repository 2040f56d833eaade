package businessflow

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/leadpulse/sequence-engine/app/dto"
	"github.com/leadpulse/sequence-engine/models"
	"github.com/leadpulse/sequence-engine/repository"
	"github.com/leadpulse/sequence-engine/utils"
	"github.com/xuri/excelize/v2"
)

// AnalyticsFlow exposes per-step sequence counters
type AnalyticsFlow interface {
	GetSequenceAnalytics(ctx context.Context, req *dto.GetSequenceAnalyticsRequest, metadata *ClientMetadata) (*dto.GetSequenceAnalyticsResponse, error)
	ExportSequenceAnalytics(ctx context.Context, req *dto.GetSequenceAnalyticsRequest, metadata *ClientMetadata) (string, []byte, error)
}

// AnalyticsFlowImpl implements the analytics business flow
type AnalyticsFlowImpl struct {
	sequenceRepo  repository.SequenceRepository
	analyticsRepo repository.StepAnalyticsRepository
}

// NewAnalyticsFlow creates a new analytics flow instance
func NewAnalyticsFlow(
	sequenceRepo repository.SequenceRepository,
	analyticsRepo repository.StepAnalyticsRepository,
) AnalyticsFlow {
	return &AnalyticsFlowImpl{
		sequenceRepo:  sequenceRepo,
		analyticsRepo: analyticsRepo,
	}
}

// GetSequenceAnalytics returns the counters of every step of a sequence,
// joined with the step definitions so steps without traffic still appear
func (s *AnalyticsFlowImpl) GetSequenceAnalytics(ctx context.Context, req *dto.GetSequenceAnalyticsRequest, metadata *ClientMetadata) (*dto.GetSequenceAnalyticsResponse, error) {
	seq, rows, err := s.load(ctx, req)
	if err != nil {
		return nil, err
	}

	steps, totals := buildAnalyticsRows(seq, rows)
	return &dto.GetSequenceAnalyticsResponse{
		Message:      "Analytics retrieved successfully",
		SequenceUUID: seq.UUID.String(),
		Steps:        steps,
		Totals:       totals,
	}, nil
}

// ExportSequenceAnalytics renders the same counters as an Excel workbook
func (s *AnalyticsFlowImpl) ExportSequenceAnalytics(ctx context.Context, req *dto.GetSequenceAnalyticsRequest, metadata *ClientMetadata) (string, []byte, error) {
	seq, rows, err := s.load(ctx, req)
	if err != nil {
		return "", nil, err
	}
	steps, totals := buildAnalyticsRows(seq, rows)

	xl := excelize.NewFile()
	defer func() { _ = xl.Close() }()

	const sheet = "Sheet1"
	header := []string{"Step ID", "Kind", "Step Index", "Channel", "Sent", "Delivered", "Opened", "Clicked", "Replied", "Open Rate", "Click Rate", "Reply Rate"}
	_ = xl.SetSheetRow(sheet, "A1", &header)
	for i, row := range append(steps, totals) {
		kind := row.Kind
		stepID := strconv.FormatUint(uint64(row.StepID), 10)
		if i == len(steps) {
			kind = "total"
			stepID = ""
		}
		record := []any{
			stepID,
			kind,
			row.StepIndex,
			row.Channel,
			row.Sent,
			row.Delivered,
			row.Opened,
			row.Clicked,
			row.Replied,
			row.OpenRate,
			row.ClickRate,
			row.ReplyRate,
		}
		cellRef, _ := excelize.CoordinatesToCellName(1, i+2)
		_ = xl.SetSheetRow(sheet, cellRef, &record)
	}

	buf, err := xl.WriteToBuffer()
	if err != nil {
		return "", nil, NewBusinessError("EXCEL_WRITE_ERROR", "Failed to write Excel file", err)
	}
	filename := fmt.Sprintf("sequence_analytics_%s_%s.xlsx", seq.UUID, utils.UTCNow().Format("20060102"))
	return filename, buf.Bytes(), nil
}

func (s *AnalyticsFlowImpl) load(ctx context.Context, req *dto.GetSequenceAnalyticsRequest) (*models.Sequence, []*models.StepAnalytics, error) {
	seq, err := getSequence(ctx, s.sequenceRepo, req.UUID, req.OrganizationID)
	if err != nil {
		if IsSequenceNotFound(err) {
			return nil, nil, NewBusinessError("SEQUENCE_NOT_FOUND", "Sequence not found", err)
		}
		return nil, nil, NewBusinessError("SEQUENCE_LOOKUP_FAILED", "Failed to lookup sequence", err)
	}
	rows, err := s.analyticsRepo.BySequence(ctx, seq.ID)
	if err != nil {
		return nil, nil, NewBusinessError("ANALYTICS_FETCH_FAILED", "Failed to fetch analytics", err)
	}
	return seq, rows, nil
}

func buildAnalyticsRows(seq *models.Sequence, rows []*models.StepAnalytics) ([]dto.StepAnalyticsRow, dto.StepAnalyticsRow) {
	byStep := make(map[uint]*models.StepAnalytics, len(rows))
	for _, row := range rows {
		byStep[row.StepID] = row
	}

	ordered := append([]models.SequenceStep(nil), seq.Steps...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Kind != ordered[j].Kind {
			return ordered[i].Kind == models.StepKindMain
		}
		return ordered[i].StepIndex < ordered[j].StepIndex
	})

	steps := make([]dto.StepAnalyticsRow, 0, len(ordered))
	var totals dto.StepAnalyticsRow
	for _, st := range ordered {
		row := dto.StepAnalyticsRow{
			StepID:    st.ID,
			Kind:      st.Kind.String(),
			StepIndex: st.StepIndex,
			Channel:   st.Channel.String(),
		}
		if a, ok := byStep[st.ID]; ok {
			row.Sent = a.Sent
			row.Delivered = a.Delivered
			row.Opened = a.Opened
			row.Clicked = a.Clicked
			row.Replied = a.Replied
			row.OpenRate = rate(a.Opened, a.Sent)
			row.ClickRate = rate(a.Clicked, a.Sent)
			row.ReplyRate = rate(a.Replied, a.Sent)
		}
		totals.Sent += row.Sent
		totals.Delivered += row.Delivered
		totals.Opened += row.Opened
		totals.Clicked += row.Clicked
		totals.Replied += row.Replied
		steps = append(steps, row)
	}
	totals.OpenRate = rate(totals.Opened, totals.Sent)
	totals.ClickRate = rate(totals.Clicked, totals.Sent)
	totals.ReplyRate = rate(totals.Replied, totals.Sent)
	return steps, totals
}

func rate(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total)
}

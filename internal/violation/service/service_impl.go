package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	assignmentdomain "github.com/makerhaus/storman/internal/assignment/domain"
	"github.com/makerhaus/storman/internal/clock"
	"github.com/makerhaus/storman/internal/config"
	notificationdomain "github.com/makerhaus/storman/internal/notification/domain"
	obsmetrics "github.com/makerhaus/storman/internal/observability/metrics"
	violationdomain "github.com/makerhaus/storman/internal/violation/domain"
	"github.com/makerhaus/storman/pkg/db/option"
	"github.com/makerhaus/storman/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const secondsPerDay = 86400

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	settings *config.SettingsHolder
	notifier notificationdomain.Service
	metrics  *obsmetrics.Metrics

	violationRepo  repository.Repository[violationdomain.Violation]
	assignmentRepo repository.Repository[assignmentdomain.Assignment]
}

type ServiceParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Settings *config.SettingsHolder
	Notifier notificationdomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

func NewService(p ServiceParam) violationdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("violation.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		settings: p.Settings,
		notifier: p.Notifier,
		metrics:  p.Metrics,

		violationRepo:  repository.ProvideStore[violationdomain.Violation](p.DB),
		assignmentRepo: repository.ProvideStore[assignmentdomain.Assignment](p.DB),
	}
}

// Start implements domain.Service.
func (s *Service) Start(ctx context.Context, req violationdomain.StartViolationRequest) (violationdomain.Violation, error) {
	assignmentID, err := parseID(req.AssignmentID, assignmentdomain.ErrInvalidAssignment)
	if err != nil {
		return violationdomain.Violation{}, err
	}

	assignment, err := s.assignmentRepo.FindOne(ctx, &assignmentdomain.Assignment{ID: assignmentID})
	if err != nil {
		return violationdomain.Violation{}, err
	}
	if assignment == nil {
		return violationdomain.Violation{}, assignmentdomain.ErrAssignmentNotFound
	}

	active, err := s.violationRepo.FindOne(ctx, &violationdomain.Violation{AssignmentID: assignmentID, Active: true})
	if err != nil {
		return violationdomain.Violation{}, err
	}
	if active != nil {
		return violationdomain.Violation{}, violationdomain.ErrViolationActive
	}

	if req.DailyRate != nil && req.DailyRate.IsNegative() {
		return violationdomain.Violation{}, violationdomain.ErrInvalidRate
	}

	// Violations created without an explicit rate record the configured
	// default up front so later settings changes do not rewrite history.
	rate := req.DailyRate
	if rate == nil {
		def := s.settings.Get().Violation.DefaultRate()
		rate = &def
	}

	now := s.clock.Now()
	startAt := now
	if req.StartAt != nil && !req.StartAt.IsZero() {
		startAt = req.StartAt.UTC()
	}

	violation := violationdomain.Violation{
		ID:           s.genID.Generate(),
		AssignmentID: assignmentID,
		DailyRate:    rate,
		Note:         strings.TrimSpace(req.Note),
		StartAt:      startAt,
		Active:       true,
		TotalCharge:  decimal.Zero,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.violationRepo.Create(ctx, &violation); err != nil {
		return violationdomain.Violation{}, err
	}

	s.metrics.RecordViolationStarted(ctx)
	s.log.Info("violation started",
		zap.String("violation_id", violation.ID.String()),
		zap.String("assignment_id", assignmentID.String()),
		zap.Time("start_at", startAt))

	s.notify(ctx, notificationdomain.EventViolationStarted,
		"Storage violation opened",
		"A violation was opened for assignment "+assignmentID.String()+" starting "+startAt.Format(time.RFC3339)+".")

	return violation, nil
}

// AccruedCharge implements domain.Service.
func (s *Service) AccruedCharge(ctx context.Context, id string, asOf time.Time) (decimal.Decimal, error) {
	violation, err := s.load(ctx, id)
	if err != nil {
		return decimal.Zero, err
	}
	return s.accrued(*violation, asOf), nil
}

// accrued computes the charge: nothing inside the grace window, then a full
// day's rate for each started day past it.
func (s *Service) accrued(v violationdomain.Violation, asOf time.Time) decimal.Decimal {
	settings := s.settings.Get().Violation

	// Rows predating the rate back-fill, or carrying a zeroed rate, fall
	// back to the configured default.
	rate := decimal.Zero
	if v.DailyRate != nil {
		rate = *v.DailyRate
	}
	if !rate.IsPositive() {
		rate = settings.DefaultRate()
	}
	if !rate.IsPositive() {
		return decimal.Zero
	}

	chargeableStart := v.StartAt.Add(time.Duration(settings.GracePeriodHours) * time.Hour)
	if !asOf.After(chargeableStart) {
		return decimal.Zero
	}

	seconds := int64(asOf.Sub(chargeableStart) / time.Second)
	days := seconds / secondsPerDay
	if seconds%secondsPerDay != 0 {
		days++
	}
	if days < 1 {
		days = 1
	}

	return rate.Mul(decimal.NewFromInt(days)).Round(2)
}

// Finalize implements domain.Service.
func (s *Service) Finalize(ctx context.Context, req violationdomain.FinalizeViolationRequest) (violationdomain.Violation, error) {
	violation, err := s.load(ctx, req.ViolationID)
	if err != nil {
		return violationdomain.Violation{}, err
	}
	if violation.Resolved {
		return violationdomain.Violation{}, violationdomain.ErrAlreadyResolved
	}

	now := s.clock.Now()
	endAt := now
	if req.EndAt != nil && !req.EndAt.IsZero() {
		endAt = req.EndAt.UTC()
	}

	// A violation that never had its own rate freezes the configured
	// default so later settings changes do not rewrite history.
	if violation.DailyRate == nil {
		rate := s.settings.Get().Violation.DefaultRate()
		violation.DailyRate = &rate
	}

	total := s.accrued(*violation, endAt)

	if err := s.violationRepo.Update(ctx, violation.ID.String(), map[string]any{
		"daily_rate":   violation.DailyRate,
		"end_at":       endAt,
		"active":       false,
		"resolved":     true,
		"total_charge": total,
		"updated_at":   now,
	}); err != nil {
		return violationdomain.Violation{}, err
	}

	violation.EndAt = &endAt
	violation.Active = false
	violation.Resolved = true
	violation.TotalCharge = total
	violation.UpdatedAt = now

	s.metrics.RecordViolationFinalized(ctx)
	s.log.Info("violation finalized",
		zap.String("violation_id", violation.ID.String()),
		zap.String("total_charge", total.StringFixed(2)))

	s.notify(ctx, notificationdomain.EventViolationFinalized,
		"Storage violation closed",
		"Violation "+violation.ID.String()+" closed with a total charge of "+total.StringFixed(2)+".")

	return *violation, nil
}

// UpdateRate implements domain.Service.
func (s *Service) UpdateRate(ctx context.Context, req violationdomain.UpdateRateRequest) (violationdomain.Violation, error) {
	violation, err := s.load(ctx, req.ViolationID)
	if err != nil {
		return violationdomain.Violation{}, err
	}
	if violation.Resolved {
		return violationdomain.Violation{}, violationdomain.ErrAlreadyResolved
	}
	if req.DailyRate.IsNegative() {
		return violationdomain.Violation{}, violationdomain.ErrInvalidRate
	}

	rate := req.DailyRate
	if err := s.violationRepo.Update(ctx, violation.ID.String(), map[string]any{
		"daily_rate": rate,
		"updated_at": s.clock.Now(),
	}); err != nil {
		return violationdomain.Violation{}, err
	}

	violation.DailyRate = &rate
	return *violation, nil
}

// UpdateNote implements domain.Service.
func (s *Service) UpdateNote(ctx context.Context, req violationdomain.UpdateNoteRequest) (violationdomain.Violation, error) {
	violation, err := s.load(ctx, req.ViolationID)
	if err != nil {
		return violationdomain.Violation{}, err
	}

	note := strings.TrimSpace(req.Note)
	if err := s.violationRepo.Update(ctx, violation.ID.String(), map[string]any{
		"note":       note,
		"updated_at": s.clock.Now(),
	}); err != nil {
		return violationdomain.Violation{}, err
	}

	violation.Note = note
	return *violation, nil
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, id string) (violationdomain.Violation, error) {
	violation, err := s.load(ctx, id)
	if err != nil {
		return violationdomain.Violation{}, err
	}
	return *violation, nil
}

// ActiveByAssignment implements domain.Service.
func (s *Service) ActiveByAssignment(ctx context.Context, assignmentID string) (violationdomain.Violation, error) {
	parsed, err := parseID(assignmentID, assignmentdomain.ErrInvalidAssignment)
	if err != nil {
		return violationdomain.Violation{}, err
	}

	violation, err := s.violationRepo.FindOne(ctx, &violationdomain.Violation{AssignmentID: parsed, Active: true})
	if err != nil {
		return violationdomain.Violation{}, err
	}
	if violation == nil {
		return violationdomain.Violation{}, violationdomain.ErrViolationNotFound
	}

	return *violation, nil
}

// ListByAssignment implements domain.Service.
func (s *Service) ListByAssignment(ctx context.Context, assignmentID string) ([]violationdomain.Violation, error) {
	parsed, err := parseID(assignmentID, assignmentdomain.ErrInvalidAssignment)
	if err != nil {
		return nil, err
	}

	rows, err := s.violationRepo.Find(ctx, &violationdomain.Violation{AssignmentID: parsed},
		option.WithSortBy("start_at desc"),
	)
	if err != nil {
		return nil, err
	}

	violations := make([]violationdomain.Violation, 0, len(rows))
	for _, row := range rows {
		violations = append(violations, *row)
	}
	return violations, nil
}

func (s *Service) load(ctx context.Context, id string) (*violationdomain.Violation, error) {
	violationID, err := parseID(id, violationdomain.ErrInvalidViolation)
	if err != nil {
		return nil, err
	}

	violation, err := s.violationRepo.FindOne(ctx, &violationdomain.Violation{ID: violationID})
	if err != nil {
		return nil, err
	}
	if violation == nil {
		return nil, violationdomain.ErrViolationNotFound
	}
	return violation, nil
}

func (s *Service) notify(ctx context.Context, event notificationdomain.Event, subject, body string) {
	if err := s.notifier.SendEvent(ctx, event, subject, body); err != nil {
		s.log.Warn("violation notification failed",
			zap.String("event", string(event)),
			zap.Error(err))
	}
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, invalid
	}
	return id, nil
}

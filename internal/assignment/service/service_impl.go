package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	assignmentdomain "github.com/makerhaus/storman/internal/assignment/domain"
	"github.com/makerhaus/storman/internal/clock"
	memberdomain "github.com/makerhaus/storman/internal/member/domain"
	notificationdomain "github.com/makerhaus/storman/internal/notification/domain"
	stripesyncdomain "github.com/makerhaus/storman/internal/stripesync/domain"
	unitdomain "github.com/makerhaus/storman/internal/unit/domain"
	violationdomain "github.com/makerhaus/storman/internal/violation/domain"
	"github.com/makerhaus/storman/pkg/db/option"
	"github.com/makerhaus/storman/pkg/db/pagination"
	"github.com/makerhaus/storman/pkg/repository"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	engine     stripesyncdomain.Engine
	violations violationdomain.Service
	notifier   notificationdomain.Service

	assignmentRepo repository.Repository[assignmentdomain.Assignment]
	unitRepo       repository.Repository[unitdomain.Unit]
	typeRepo       repository.Repository[unitdomain.UnitType]
	memberRepo     repository.Repository[memberdomain.Member]
}

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Engine     stripesyncdomain.Engine
	Violations violationdomain.Service
	Notifier   notificationdomain.Service
}

func NewService(p ServiceParam) assignmentdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("assignment.service"),

		genID:      p.GenID,
		clock:      p.Clock,
		engine:     p.Engine,
		violations: p.Violations,
		notifier:   p.Notifier,

		assignmentRepo: repository.ProvideStore[assignmentdomain.Assignment](p.DB),
		unitRepo:       repository.ProvideStore[unitdomain.Unit](p.DB),
		typeRepo:       repository.ProvideStore[unitdomain.UnitType](p.DB),
		memberRepo:     repository.ProvideStore[memberdomain.Member](p.DB),
	}
}

// Claim implements domain.Service. The occupancy transaction commits before
// the billing sync runs: a Stripe outage must never block a member from
// moving in, it only flags the assignment for review.
func (s *Service) Claim(ctx context.Context, req assignmentdomain.ClaimUnitRequest) (assignmentdomain.Assignment, error) {
	unitID, err := parseID(req.UnitID, unitdomain.ErrInvalidUnit)
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}
	memberID, err := parseID(req.MemberID, memberdomain.ErrInvalidMember)
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}

	member, err := s.memberRepo.FindOne(ctx, &memberdomain.Member{ID: memberID})
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}
	if member == nil {
		return assignmentdomain.Assignment{}, memberdomain.ErrMemberNotFound
	}

	unit, err := s.unitRepo.FindOne(ctx, &unitdomain.Unit{ID: unitID})
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}
	if unit == nil {
		return assignmentdomain.Assignment{}, unitdomain.ErrUnitNotFound
	}
	if unit.Status != unitdomain.UnitStatusAvailable {
		return assignmentdomain.Assignment{}, assignmentdomain.ErrUnitNotAvailable
	}

	snapshot := decimal.Zero
	unitType, err := s.typeRepo.FindOne(ctx, &unitdomain.UnitType{ID: unit.UnitTypeID})
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}
	if unitType != nil {
		snapshot = unitType.MonthlyPrice
	}

	now := s.clock.Now()
	assignment := assignmentdomain.Assignment{
		ID:              s.genID.Generate(),
		UnitID:          unit.ID,
		MemberID:        member.ID,
		Status:          assignmentdomain.AssignmentStatusActive,
		Complimentary:   req.Complimentary,
		PriceOverrideID: strings.TrimSpace(req.PriceOverrideID),
		PriceSnapshot:   snapshot,
		StartAt:         now,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// The unique active-per-unit index backs the availability check
		// against concurrent claims.
		if err := s.assignmentRepo.WithTrx(tx).Create(ctx, &assignment); err != nil {
			return err
		}
		return s.unitRepo.WithTrx(tx).Update(ctx, unit.ID.String(), map[string]any{
			"status":     unitdomain.UnitStatusOccupied,
			"updated_at": now,
		})
	})
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}

	s.log.Info("unit claimed",
		zap.String("assignment_id", assignment.ID.String()),
		zap.String("unit_id", unit.ID.String()),
		zap.String("member_id", member.ID.String()))

	if err := s.engine.SyncAssignment(ctx, assignment.ID); err != nil {
		s.log.Warn("billing sync failed after claim",
			zap.String("assignment_id", assignment.ID.String()),
			zap.Error(err))
	}

	s.notify(ctx, notificationdomain.EventAssignmentCreated,
		"Storage unit claimed",
		"Unit "+unit.Code+" was claimed by "+member.DisplayName+".")

	return s.reload(ctx, assignment.ID)
}

// Release implements domain.Service.
func (s *Service) Release(ctx context.Context, id string) (assignmentdomain.Assignment, error) {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}
	if assignment.Status != assignmentdomain.AssignmentStatusActive {
		return assignmentdomain.Assignment{}, assignmentdomain.ErrAssignmentNotActive
	}

	// An open violation dies with the assignment so its charge is frozen
	// at move-out time.
	s.finalizeActiveViolation(ctx, assignment.ID)

	now := s.clock.Now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.assignmentRepo.WithTrx(tx).Update(ctx, assignment.ID.String(), map[string]any{
			"status":     assignmentdomain.AssignmentStatusReleased,
			"end_at":     now,
			"updated_at": now,
		}); err != nil {
			return err
		}
		return s.unitRepo.WithTrx(tx).Update(ctx, assignment.UnitID.String(), map[string]any{
			"status":     unitdomain.UnitStatusAvailable,
			"updated_at": now,
		})
	})
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}

	s.log.Info("unit released",
		zap.String("assignment_id", assignment.ID.String()),
		zap.String("unit_id", assignment.UnitID.String()))

	if err := s.engine.ReleaseAssignment(ctx, assignment.ID); err != nil {
		s.log.Warn("billing release failed",
			zap.String("assignment_id", assignment.ID.String()),
			zap.Error(err))
	}

	s.notify(ctx, notificationdomain.EventAssignmentReleased,
		"Storage unit released",
		"Assignment "+assignment.ID.String()+" was released and the unit is available again.")

	return s.reload(ctx, assignment.ID)
}

// finalizeActiveViolation closes any open violation on release. Failure is
// logged, not propagated: a stuck violation must not block a move-out.
func (s *Service) finalizeActiveViolation(ctx context.Context, assignmentID snowflake.ID) {
	active, err := s.violations.ActiveByAssignment(ctx, assignmentID.String())
	if err != nil {
		if !errors.Is(err, violationdomain.ErrViolationNotFound) {
			s.log.Warn("active violation lookup failed",
				zap.String("assignment_id", assignmentID.String()),
				zap.Error(err))
		}
		return
	}

	if _, err := s.violations.Finalize(ctx, violationdomain.FinalizeViolationRequest{
		ViolationID: active.ID.String(),
	}); err != nil {
		s.log.Warn("violation finalize on release failed",
			zap.String("assignment_id", assignmentID.String()),
			zap.String("violation_id", active.ID.String()),
			zap.Error(err))
	}
}

func (s *Service) notify(ctx context.Context, event notificationdomain.Event, subject, body string) {
	if err := s.notifier.SendEvent(ctx, event, subject, body); err != nil {
		s.log.Warn("assignment notification failed",
			zap.String("event", string(event)),
			zap.Error(err))
	}
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, id string) (assignmentdomain.Assignment, error) {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}
	return *assignment, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req assignmentdomain.ListAssignmentsRequest) (assignmentdomain.ListAssignmentsResponse, error) {
	query := assignmentdomain.Assignment{}
	if memberID := strings.TrimSpace(req.MemberID); memberID != "" {
		parsed, err := parseID(memberID, memberdomain.ErrInvalidMember)
		if err != nil {
			return assignmentdomain.ListAssignmentsResponse{}, err
		}
		query.MemberID = parsed
	}
	if unitID := strings.TrimSpace(req.UnitID); unitID != "" {
		parsed, err := parseID(unitID, unitdomain.ErrInvalidUnit)
		if err != nil {
			return assignmentdomain.ListAssignmentsResponse{}, err
		}
		query.UnitID = parsed
	}
	if status := strings.TrimSpace(req.Status); status != "" {
		query.Status = assignmentdomain.AssignmentStatus(strings.ToUpper(status))
	}

	rows, err := s.assignmentRepo.Find(ctx, &query,
		option.ApplyPagination(req.Pagination),
		option.WithSortBy("created_at desc"),
	)
	if err != nil {
		return assignmentdomain.ListAssignmentsResponse{}, err
	}

	pageInfo, rows := pagination.BuildCursorPageInfo(rows, req.PageSize, func(a *assignmentdomain.Assignment) pagination.Cursor {
		return pagination.Cursor{CreatedAt: a.CreatedAt.Format(time.RFC3339Nano)}
	})

	assignments := make([]assignmentdomain.Assignment, 0, len(rows))
	for _, row := range rows {
		assignments = append(assignments, *row)
	}

	return assignmentdomain.ListAssignmentsResponse{PageInfo: pageInfo, Assignments: assignments}, nil
}

// Resync implements domain.Service. Unlike Claim, an explicit resync
// propagates the sync error so the caller sees why it still fails.
func (s *Service) Resync(ctx context.Context, id string) (assignmentdomain.Assignment, error) {
	assignment, err := s.load(ctx, id)
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}

	if err := s.engine.SyncAssignment(ctx, assignment.ID); err != nil {
		return assignmentdomain.Assignment{}, err
	}

	return s.reload(ctx, assignment.ID)
}

// ResolveManualReview implements domain.Service.
func (s *Service) ResolveManualReview(ctx context.Context, req assignmentdomain.ResolveManualReviewRequest) (assignmentdomain.Assignment, error) {
	assignment, err := s.load(ctx, req.AssignmentID)
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}
	if !assignment.NeedsManualReview {
		return assignmentdomain.Assignment{}, assignmentdomain.ErrNotUnderReview
	}

	if err := s.assignmentRepo.Update(ctx, assignment.ID.String(), map[string]any{
		"needs_manual_review": false,
		"manual_review_note":  strings.TrimSpace(req.Note),
		"updated_at":          s.clock.Now(),
	}); err != nil {
		return assignmentdomain.Assignment{}, err
	}

	s.log.Info("manual review resolved",
		zap.String("assignment_id", assignment.ID.String()))

	return s.reload(ctx, assignment.ID)
}

// LinkToSubscriptionItem implements domain.Service.
func (s *Service) LinkToSubscriptionItem(ctx context.Context, req assignmentdomain.LinkSubscriptionItemRequest) (assignmentdomain.Assignment, error) {
	assignment, err := s.load(ctx, req.AssignmentID)
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}

	subscriptionID := strings.TrimSpace(req.SubscriptionID)
	itemID := strings.TrimSpace(req.SubscriptionItemID)
	if subscriptionID == "" || itemID == "" {
		return assignmentdomain.Assignment{}, assignmentdomain.ErrInvalidAssignment
	}

	// The engine verifies the item actually lives on the subscription and
	// merges the assignment into the Stripe metadata before the local link
	// is persisted.
	if err := s.engine.LinkAssignment(ctx, assignment.ID, subscriptionID, itemID); err != nil {
		return assignmentdomain.Assignment{}, err
	}

	return s.reload(ctx, assignment.ID)
}

func (s *Service) load(ctx context.Context, id string) (*assignmentdomain.Assignment, error) {
	assignmentID, err := parseID(id, assignmentdomain.ErrInvalidAssignment)
	if err != nil {
		return nil, err
	}

	assignment, err := s.assignmentRepo.FindOne(ctx, &assignmentdomain.Assignment{ID: assignmentID})
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, assignmentdomain.ErrAssignmentNotFound
	}
	return assignment, nil
}

func (s *Service) reload(ctx context.Context, id snowflake.ID) (assignmentdomain.Assignment, error) {
	assignment, err := s.assignmentRepo.FindOne(ctx, &assignmentdomain.Assignment{ID: id})
	if err != nil {
		return assignmentdomain.Assignment{}, err
	}
	if assignment == nil {
		return assignmentdomain.Assignment{}, assignmentdomain.ErrAssignmentNotFound
	}
	return *assignment, nil
}

func parseID(raw string, invalid error) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil {
		return 0, invalid
	}
	return id, nil
}

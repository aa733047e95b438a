package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	assignmentdomain "github.com/makerhaus/storman/internal/assignment/domain"
	"github.com/makerhaus/storman/internal/clock"
	memberdomain "github.com/makerhaus/storman/internal/member/domain"
	notificationdomain "github.com/makerhaus/storman/internal/notification/domain"
	unitdomain "github.com/makerhaus/storman/internal/unit/domain"
	violationdomain "github.com/makerhaus/storman/internal/violation/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// engineStub records sync calls and optionally fails them, standing in for
// the billing reconciliation engine.
type engineStub struct {
	db *gorm.DB

	mu           sync.Mutex
	syncCalls    []snowflake.ID
	releaseCalls []snowflake.ID
	linkCalls    []linkCall
	syncErr      error
	releaseErr   error
	linkErr      error
	priceID      string
}

type linkCall struct {
	assignmentID   snowflake.ID
	subscriptionID string
	itemID         string
}

func (e *engineStub) SyncAssignment(ctx context.Context, id snowflake.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.syncCalls = append(e.syncCalls, id)
	return e.syncErr
}

func (e *engineStub) ReleaseAssignment(ctx context.Context, id snowflake.ID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.releaseCalls = append(e.releaseCalls, id)
	return e.releaseErr
}

func (e *engineStub) RefreshSubscriptionStatus(ctx context.Context, subscriptionID, status string) error {
	return nil
}

func (e *engineStub) AssignmentPriceID(ctx context.Context, id snowflake.ID) (string, error) {
	return e.priceID, nil
}

// LinkAssignment mirrors the real engine's local write so the service's
// reload sees the new billing link.
func (e *engineStub) LinkAssignment(ctx context.Context, id snowflake.ID, subscriptionID, itemID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.linkErr != nil {
		return e.linkErr
	}
	e.linkCalls = append(e.linkCalls, linkCall{assignmentID: id, subscriptionID: subscriptionID, itemID: itemID})
	return e.db.Model(&assignmentdomain.Assignment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"stripe_subscription_id":      subscriptionID,
			"stripe_subscription_item_id": itemID,
		}).Error
}

func (e *engineStub) SyncCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.syncCalls)
}

func (e *engineStub) ReleaseCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.releaseCalls)
}

// violationStub covers the two violation operations the release path uses.
type violationStub struct {
	violationdomain.Service

	mu        sync.Mutex
	active    *violationdomain.Violation
	finalized []snowflake.ID
}

func (v *violationStub) ActiveByAssignment(ctx context.Context, assignmentID string) (violationdomain.Violation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.active == nil {
		return violationdomain.Violation{}, violationdomain.ErrViolationNotFound
	}
	return *v.active, nil
}

func (v *violationStub) Finalize(ctx context.Context, req violationdomain.FinalizeViolationRequest) (violationdomain.Violation, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	id, err := snowflake.ParseString(req.ViolationID)
	if err != nil {
		return violationdomain.Violation{}, violationdomain.ErrInvalidViolation
	}
	v.finalized = append(v.finalized, id)
	v.active = nil
	return violationdomain.Violation{ID: id, Resolved: true}, nil
}

type notifierStub struct {
	mu     sync.Mutex
	events []notificationdomain.Event
}

func (n *notifierStub) SendEvent(ctx context.Context, event notificationdomain.Event, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return nil
}

func (n *notifierStub) Count(event notificationdomain.Event) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, e := range n.events {
		if e == event {
			count++
		}
	}
	return count
}

type assignmentFixture struct {
	svc        assignmentdomain.Service
	db         *gorm.DB
	node       *snowflake.Node
	clock      *clock.FakeClock
	engine     *engineStub
	violations *violationStub
	notifier   *notifierStub
}

func setupAssignmentService(t *testing.T) *assignmentFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&memberdomain.Member{},
		&unitdomain.UnitType{},
		&unitdomain.Unit{},
		&assignmentdomain.Assignment{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	fixture := &assignmentFixture{
		db:         db,
		node:       node,
		clock:      clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)),
		engine:     &engineStub{db: db},
		violations: &violationStub{},
		notifier:   &notifierStub{},
	}

	fixture.svc = NewService(ServiceParam{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fixture.clock,
		Engine:     fixture.engine,
		Violations: fixture.violations,
		Notifier:   fixture.notifier,
	})

	return fixture
}

func (f *assignmentFixture) newMember(t *testing.T) memberdomain.Member {
	t.Helper()
	member := memberdomain.Member{
		ID:          f.node.Generate(),
		DisplayName: "Test Member",
		Email:       fmt.Sprintf("member-%s@makerhaus.test", f.node.Generate()),
		CreatedAt:   f.clock.Now(),
		UpdatedAt:   f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&member).Error)
	return member
}

func (f *assignmentFixture) newUnit(t *testing.T, status unitdomain.UnitStatus) unitdomain.Unit {
	t.Helper()
	unitType := unitdomain.UnitType{
		ID:           f.node.Generate(),
		Code:         fmt.Sprintf("type-%s", f.node.Generate()),
		Name:         "Small locker",
		MonthlyPrice: decimal.RequireFromString("25.00"),
		CreatedAt:    f.clock.Now(),
		UpdatedAt:    f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&unitType).Error)

	unit := unitdomain.Unit{
		ID:         f.node.Generate(),
		Code:       fmt.Sprintf("unit-%s", f.node.Generate()),
		UnitTypeID: unitType.ID,
		Status:     status,
		CreatedAt:  f.clock.Now(),
		UpdatedAt:  f.clock.Now(),
	}
	require.NoError(t, f.db.Create(&unit).Error)
	return unit
}

func (f *assignmentFixture) unitStatus(t *testing.T, id snowflake.ID) unitdomain.UnitStatus {
	t.Helper()
	var unit unitdomain.Unit
	require.NoError(t, f.db.First(&unit, "id = ?", id).Error)
	return unit.Status
}

func TestClaimOccupiesUnit(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusAvailable)

	assignment, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err)

	assert.Equal(t, assignmentdomain.AssignmentStatusActive, assignment.Status)
	assert.Equal(t, unit.ID, assignment.UnitID)
	assert.Equal(t, member.ID, assignment.MemberID)
	assert.Equal(t, "25.00", assignment.PriceSnapshot.StringFixed(2), "claim freezes the unit type price")
	assert.Equal(t, unitdomain.UnitStatusOccupied, f.unitStatus(t, unit.ID))
	assert.Equal(t, 1, f.engine.SyncCount())
}

func TestClaimRejectsOccupiedUnit(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusOccupied)

	_, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	assert.ErrorIs(t, err, assignmentdomain.ErrUnitNotAvailable)
	assert.Zero(t, f.engine.SyncCount())
}

func TestClaimRejectsMaintenanceUnit(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusMaintenance)

	_, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	assert.ErrorIs(t, err, assignmentdomain.ErrUnitNotAvailable)
}

func TestClaimSurvivesBillingFailure(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusAvailable)
	f.engine.syncErr = errors.New("stripe unavailable")

	assignment, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err, "occupancy must commit even when billing sync fails")

	assert.Equal(t, assignmentdomain.AssignmentStatusActive, assignment.Status)
	assert.Equal(t, unitdomain.UnitStatusOccupied, f.unitStatus(t, unit.ID))
}

func TestClaimUnknownMember(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	unit := f.newUnit(t, unitdomain.UnitStatusAvailable)

	_, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: f.node.Generate().String(),
	})
	assert.ErrorIs(t, err, memberdomain.ErrMemberNotFound)
}

func TestReleaseFreesUnit(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusAvailable)

	claimed, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err)

	f.clock.Advance(72 * time.Hour)

	released, err := f.svc.Release(ctx, claimed.ID.String())
	require.NoError(t, err)

	assert.Equal(t, assignmentdomain.AssignmentStatusReleased, released.Status)
	require.NotNil(t, released.EndAt)
	assert.Equal(t, unitdomain.UnitStatusAvailable, f.unitStatus(t, unit.ID))
	assert.Equal(t, 1, f.engine.ReleaseCount())
}

func TestReleaseFinalizesActiveViolation(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusAvailable)

	claimed, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err)

	violationID := f.node.Generate()
	f.violations.active = &violationdomain.Violation{
		ID:           violationID,
		AssignmentID: claimed.ID,
	}

	_, err = f.svc.Release(ctx, claimed.ID.String())
	require.NoError(t, err)

	require.Len(t, f.violations.finalized, 1)
	assert.Equal(t, violationID, f.violations.finalized[0])
}

func TestClaimAndReleaseNotify(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusAvailable)

	claimed, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifier.Count(notificationdomain.EventAssignmentCreated))

	_, err = f.svc.Release(ctx, claimed.ID.String())
	require.NoError(t, err)
	assert.Equal(t, 1, f.notifier.Count(notificationdomain.EventAssignmentReleased))
}

func TestReleaseTwiceFails(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusAvailable)

	claimed, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err)

	_, err = f.svc.Release(ctx, claimed.ID.String())
	require.NoError(t, err)

	_, err = f.svc.Release(ctx, claimed.ID.String())
	assert.ErrorIs(t, err, assignmentdomain.ErrAssignmentNotActive)
}

func TestReleasedUnitCanBeReclaimed(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusAvailable)

	first, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err)

	_, err = f.svc.Release(ctx, first.ID.String())
	require.NoError(t, err)

	second, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestResyncPropagatesEngineError(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusAvailable)

	claimed, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err)

	syncErr := errors.New("still broken")
	f.engine.syncErr = syncErr

	_, err = f.svc.Resync(ctx, claimed.ID.String())
	assert.ErrorIs(t, err, syncErr)
}

func TestResolveManualReview(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusAvailable)

	claimed, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err)

	// Not flagged yet.
	_, err = f.svc.ResolveManualReview(ctx, assignmentdomain.ResolveManualReviewRequest{
		AssignmentID: claimed.ID.String(),
	})
	assert.ErrorIs(t, err, assignmentdomain.ErrNotUnderReview)

	require.NoError(t, f.db.Model(&assignmentdomain.Assignment{}).
		Where("id = ?", claimed.ID).
		Updates(map[string]any{"needs_manual_review": true, "manual_review_note": "sync failed"}).Error)

	resolved, err := f.svc.ResolveManualReview(ctx, assignmentdomain.ResolveManualReviewRequest{
		AssignmentID: claimed.ID.String(),
		Note:         "fixed price mapping by hand",
	})
	require.NoError(t, err)
	assert.False(t, resolved.NeedsManualReview)
	assert.Equal(t, "fixed price mapping by hand", resolved.ManualReviewNote)
}

func TestLinkToSubscriptionItem(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusAvailable)

	claimed, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err)

	_, err = f.svc.LinkToSubscriptionItem(ctx, assignmentdomain.LinkSubscriptionItemRequest{
		AssignmentID:   claimed.ID.String(),
		SubscriptionID: "sub_123",
	})
	assert.ErrorIs(t, err, assignmentdomain.ErrInvalidAssignment)

	linked, err := f.svc.LinkToSubscriptionItem(ctx, assignmentdomain.LinkSubscriptionItemRequest{
		AssignmentID:       claimed.ID.String(),
		SubscriptionID:     "sub_123",
		SubscriptionItemID: "si_456",
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_123", linked.StripeSubscriptionID)
	assert.Equal(t, "si_456", linked.StripeSubscriptionItemID)

	require.Len(t, f.engine.linkCalls, 1)
	assert.Equal(t, claimed.ID, f.engine.linkCalls[0].assignmentID)
	assert.Equal(t, "sub_123", f.engine.linkCalls[0].subscriptionID)
	assert.Equal(t, "si_456", f.engine.linkCalls[0].itemID)
}

func TestLinkToSubscriptionItemPropagatesEngineError(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusAvailable)

	claimed, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err)

	linkErr := errors.New("item not on subscription")
	f.engine.linkErr = linkErr

	_, err = f.svc.LinkToSubscriptionItem(ctx, assignmentdomain.LinkSubscriptionItemRequest{
		AssignmentID:       claimed.ID.String(),
		SubscriptionID:     "sub_123",
		SubscriptionItemID: "si_456",
	})
	assert.ErrorIs(t, err, linkErr)
}

func TestListFiltersByStatus(t *testing.T) {
	f := setupAssignmentService(t)
	ctx := context.Background()

	member := f.newMember(t)
	unit := f.newUnit(t, unitdomain.UnitStatusAvailable)

	claimed, err := f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   unit.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	_, err = f.svc.Release(ctx, claimed.ID.String())
	require.NoError(t, err)

	other := f.newUnit(t, unitdomain.UnitStatusAvailable)
	_, err = f.svc.Claim(ctx, assignmentdomain.ClaimUnitRequest{
		UnitID:   other.ID.String(),
		MemberID: member.ID.String(),
	})
	require.NoError(t, err)

	active, err := f.svc.List(ctx, assignmentdomain.ListAssignmentsRequest{Status: "active"})
	require.NoError(t, err)
	require.Len(t, active.Assignments, 1)
	assert.Equal(t, assignmentdomain.AssignmentStatusActive, active.Assignments[0].Status)

	released, err := f.svc.List(ctx, assignmentdomain.ListAssignmentsRequest{Status: "RELEASED"})
	require.NoError(t, err)
	require.Len(t, released.Assignments, 1)
	assert.Equal(t, claimed.ID, released.Assignments[0].ID)

	byMember, err := f.svc.List(ctx, assignmentdomain.ListAssignmentsRequest{MemberID: member.ID.String()})
	require.NoError(t, err)
	assert.Len(t, byMember.Assignments, 2)
}

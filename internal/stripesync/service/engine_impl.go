package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	assignmentdomain "github.com/makerhaus/storman/internal/assignment/domain"
	"github.com/makerhaus/storman/internal/clock"
	"github.com/makerhaus/storman/internal/config"
	memberdomain "github.com/makerhaus/storman/internal/member/domain"
	notificationdomain "github.com/makerhaus/storman/internal/notification/domain"
	obsmetrics "github.com/makerhaus/storman/internal/observability/metrics"
	stripesyncdomain "github.com/makerhaus/storman/internal/stripesync/domain"
	unitdomain "github.com/makerhaus/storman/internal/unit/domain"
	"github.com/makerhaus/storman/pkg/db/option"
	"github.com/makerhaus/storman/pkg/repository"
	stripe "github.com/stripe/stripe-go/v82"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// manualReviewNoteLimit caps the stored failure note.
const manualReviewNoteLimit = 1000

// recentAssignmentScan bounds how many of the member's other assignments are
// inspected when hunting for an existing storage subscription.
const recentAssignmentScan = 5

type Engine struct {
	db  *gorm.DB
	log *zap.Logger

	clock    clock.Clock
	settings *config.SettingsHolder
	client   stripesyncdomain.Client
	notifier notificationdomain.Service
	metrics  *obsmetrics.Metrics

	assignmentRepo repository.Repository[assignmentdomain.Assignment]
	memberRepo     repository.Repository[memberdomain.Member]
	unitRepo       repository.Repository[unitdomain.Unit]
	typeRepo       repository.Repository[unitdomain.UnitType]
}

type EngineParam struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	Clock    clock.Clock
	Settings *config.SettingsHolder
	Client   stripesyncdomain.Client
	Notifier notificationdomain.Service
	Metrics  *obsmetrics.Metrics `optional:"true"`
}

func NewEngine(p EngineParam) stripesyncdomain.Engine {
	return &Engine{
		db:  p.DB,
		log: p.Log.Named("stripesync.engine"),

		clock:    p.Clock,
		settings: p.Settings,
		client:   p.Client,
		notifier: p.Notifier,
		metrics:  p.Metrics,

		assignmentRepo: repository.ProvideStore[assignmentdomain.Assignment](p.DB),
		memberRepo:     repository.ProvideStore[memberdomain.Member](p.DB),
		unitRepo:       repository.ProvideStore[unitdomain.Unit](p.DB),
		typeRepo:       repository.ProvideStore[unitdomain.UnitType](p.DB),
	}
}

// SyncAssignment implements domain.Engine.
func (e *Engine) SyncAssignment(ctx context.Context, assignmentID snowflake.ID) error {
	assignment, err := e.loadAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}

	settings := e.settings.Get()
	if !settings.Stripe.EnableBilling {
		e.log.Debug("billing disabled, skipping sync", zap.String("assignment_id", assignmentID.String()))
		return nil
	}
	if assignment.Complimentary {
		e.log.Debug("complimentary assignment, skipping sync", zap.String("assignment_id", assignmentID.String()))
		return nil
	}
	if assignment.Status != assignmentdomain.AssignmentStatusActive {
		e.log.Debug("assignment not active, skipping sync", zap.String("assignment_id", assignmentID.String()))
		return nil
	}

	e.metrics.RecordSyncAttempt(ctx, "sync")

	if err := e.syncAssignment(ctx, assignment, settings); err != nil {
		e.metrics.RecordSyncFailure(ctx, "sync", failureReason(err))
		e.flagManualReview(ctx, assignment, err)
		return err
	}

	return nil
}

func (e *Engine) syncAssignment(ctx context.Context, assignment *assignmentdomain.Assignment, settings config.Settings) error {
	priceID, err := e.resolvePriceID(ctx, assignment, settings)
	if err != nil {
		return err
	}

	member, err := e.loadMember(ctx, assignment.MemberID)
	if err != nil {
		return err
	}

	customerID, err := e.ensureCustomerID(ctx, member)
	if err != nil {
		return err
	}

	idStr := assignment.ID.String()
	subscriptionID := strings.TrimSpace(assignment.StripeSubscriptionID)
	if subscriptionID == "" {
		subscriptionID = e.findStorageSubscriptionID(ctx, assignment)
	}

	var sub *stripe.Subscription
	if subscriptionID != "" {
		sub, err = e.client.GetSubscription(ctx, subscriptionID)
		if err != nil {
			return &stripesyncdomain.ReconciliationError{Op: "subscription.get", Err: err}
		}
		if !subscriptionUsable(sub) {
			// The cached subscription died out-of-band. Abandon it and
			// start a fresh one so billing resumes.
			e.log.Warn("cached subscription no longer usable, starting fresh",
				zap.String("assignment_id", idStr),
				zap.String("subscription_id", sub.ID),
				zap.String("status", string(sub.Status)))
			sub = nil
			subscriptionID = ""
			assignment.StripeSubscriptionItemID = ""
		}
	}

	if sub == nil {
		created, err := e.client.CreateSubscription(ctx, &stripe.SubscriptionParams{
			Customer: stripe.String(customerID),
			Items: []*stripe.SubscriptionItemsParams{{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
				Metadata: e.itemCreateMetadata(assignment),
			}},
			Metadata: map[string]string{
				stripesyncdomain.MetadataManagedKey:       stripesyncdomain.MetadataFlagValue,
				stripesyncdomain.MetadataAssignmentIDsKey: idStr,
			},
		})
		if err != nil {
			return &stripesyncdomain.ReconciliationError{Op: "subscription.create", Err: err}
		}

		itemID := ""
		if created.Items != nil && len(created.Items.Data) > 0 {
			itemID = created.Items.Data[0].ID
		}

		e.log.Info("created storage subscription",
			zap.String("assignment_id", idStr),
			zap.String("subscription_id", created.ID))
		return e.persistSyncResult(ctx, assignment, created.ID, itemID, string(created.Status))
	}

	// The subscription-level id set tracks every assignment billed anywhere
	// on the subscription, so the join is recorded before item reconciling.
	subIDs := e.subscriptionAssignmentIDs(ctx, sub, "")
	if err := e.syncSubscriptionAssignmentIDs(ctx, sub, stripesyncdomain.MergeAssignmentID(subIDs, idStr)); err != nil {
		return err
	}

	item := e.resolveSubscriptionItem(ctx, assignment, sub, priceID)
	if item == nil {
		created, err := e.client.CreateSubscriptionItem(ctx, &stripe.SubscriptionItemParams{
			Subscription: stripe.String(sub.ID),
			Price:        stripe.String(priceID),
			Quantity:     stripe.Int64(1),
			Metadata:     e.itemCreateMetadata(assignment),
		})
		if err != nil {
			return &stripesyncdomain.ReconciliationError{Op: "subscription_item.create", Err: err}
		}

		e.log.Info("created subscription item",
			zap.String("assignment_id", idStr),
			zap.String("subscription_id", sub.ID),
			zap.String("item_id", created.ID))
		return e.persistSyncResult(ctx, assignment, sub.ID, created.ID, string(sub.Status))
	}

	ids := stripesyncdomain.ParseAssignmentIDs(item.Metadata)
	merged := stripesyncdomain.MergeAssignmentID(ids, idStr)

	wantQuantity := int64(len(merged))
	if wantQuantity < 1 {
		wantQuantity = 1
	}

	currentPriceID := ""
	if item.Price != nil {
		currentPriceID = item.Price.ID
	}

	idsChanged := stripesyncdomain.JoinAssignmentIDs(merged) != stripesyncdomain.JoinAssignmentIDs(ids)
	priceChanged := currentPriceID != priceID
	quantityChanged := item.Quantity != wantQuantity

	if idsChanged || priceChanged || quantityChanged {
		params := &stripe.SubscriptionItemParams{
			Quantity: stripe.Int64(wantQuantity),
			Metadata: map[string]string{
				stripesyncdomain.MetadataAssignmentTagKey: stripesyncdomain.MetadataFlagValue,
				stripesyncdomain.MetadataAssignmentIDsKey: stripesyncdomain.JoinAssignmentIDs(merged),
			},
		}
		if priceChanged {
			params.Price = stripe.String(priceID)
		}
		if _, err := e.client.UpdateSubscriptionItem(ctx, item.ID, params); err != nil {
			return &stripesyncdomain.ReconciliationError{Op: "subscription_item.update", Err: err}
		}
		e.log.Info("updated subscription item",
			zap.String("assignment_id", idStr),
			zap.String("item_id", item.ID),
			zap.Bool("price_changed", priceChanged))
	}

	return e.persistSyncResult(ctx, assignment, sub.ID, item.ID, string(sub.Status))
}

// ReleaseAssignment implements domain.Engine.
func (e *Engine) ReleaseAssignment(ctx context.Context, assignmentID snowflake.ID) error {
	assignment, err := e.loadAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}

	subscriptionID := strings.TrimSpace(assignment.StripeSubscriptionID)
	if subscriptionID == "" {
		e.log.Debug("no billing link, skipping release", zap.String("assignment_id", assignmentID.String()))
		return nil
	}

	settings := e.settings.Get()
	if !settings.Stripe.EnableBilling {
		e.log.Debug("billing disabled, skipping release", zap.String("assignment_id", assignmentID.String()))
		return nil
	}

	e.metrics.RecordSyncAttempt(ctx, "release")

	if err := e.releaseAssignment(ctx, assignment, subscriptionID); err != nil {
		e.metrics.RecordSyncFailure(ctx, "release", failureReason(err))
		e.flagManualReview(ctx, assignment, err)
		return err
	}

	return nil
}

func (e *Engine) releaseAssignment(ctx context.Context, assignment *assignmentdomain.Assignment, subscriptionID string) error {
	sub, err := e.client.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return &stripesyncdomain.ReconciliationError{Op: "subscription.get", Err: err}
	}

	idStr := assignment.ID.String()
	managed := stripesyncdomain.ManagedSubscription(sub.Metadata)
	canceled := !subscriptionUsable(sub)

	// All assignments billed on the subscription besides this one. Empty
	// means nothing else depends on the subscription staying alive.
	subRemaining := e.subscriptionAssignmentIDs(ctx, sub, idStr)

	if !canceled {
		item := e.resolveSubscriptionItem(ctx, assignment, sub, "")

		switch {
		case item == nil:
			if managed && len(subRemaining) == 0 && !subscriptionHasExternalItems(sub, "") {
				if _, err := e.client.CancelSubscription(ctx, sub.ID); err != nil {
					return &stripesyncdomain.ReconciliationError{Op: "subscription.cancel", Err: err}
				}
				canceled = true
				e.log.Info("canceled storage subscription",
					zap.String("assignment_id", idStr),
					zap.String("subscription_id", sub.ID))
			} else {
				return &stripesyncdomain.ReconciliationError{
					Op:  "subscription_item.locate",
					Err: stripesyncdomain.ErrItemNotFound,
				}
			}
		default:
			remaining := stripesyncdomain.RemoveAssignmentID(stripesyncdomain.ParseAssignmentIDs(item.Metadata), idStr)
			switch {
			case len(remaining) == 0 && managed && len(subRemaining) == 0 && !subscriptionHasExternalItems(sub, item.ID):
				if _, err := e.client.CancelSubscription(ctx, sub.ID); err != nil {
					return &stripesyncdomain.ReconciliationError{Op: "subscription.cancel", Err: err}
				}
				canceled = true
				e.log.Info("canceled storage subscription",
					zap.String("assignment_id", idStr),
					zap.String("subscription_id", sub.ID))
			case len(remaining) == 0:
				if _, err := e.client.DeleteSubscriptionItem(ctx, item.ID); err != nil {
					return &stripesyncdomain.ReconciliationError{Op: "subscription_item.delete", Err: err}
				}
				e.log.Info("deleted subscription item",
					zap.String("assignment_id", idStr),
					zap.String("item_id", item.ID))
			default:
				quantity := int64(len(remaining))
				if _, err := e.client.UpdateSubscriptionItem(ctx, item.ID, &stripe.SubscriptionItemParams{
					Quantity: stripe.Int64(quantity),
					Metadata: map[string]string{
						stripesyncdomain.MetadataAssignmentTagKey: stripesyncdomain.MetadataFlagValue,
						stripesyncdomain.MetadataAssignmentIDsKey: stripesyncdomain.JoinAssignmentIDs(remaining),
					},
				}); err != nil {
					return &stripesyncdomain.ReconciliationError{Op: "subscription_item.update", Err: err}
				}
				e.log.Info("detached assignment from shared subscription item",
					zap.String("assignment_id", idStr),
					zap.String("item_id", item.ID),
					zap.Int("remaining", len(remaining)))
			}
		}

		if !canceled {
			if err := e.syncSubscriptionAssignmentIDs(ctx, sub, subRemaining); err != nil {
				return err
			}
		}
	}

	status := string(sub.Status)
	keptSubscriptionID := sub.ID
	if canceled {
		status = string(stripe.SubscriptionStatusCanceled)
		keptSubscriptionID = ""
	}

	return e.clearBillingLink(ctx, assignment, keptSubscriptionID, status)
}

// AssignmentPriceID implements domain.Engine.
func (e *Engine) AssignmentPriceID(ctx context.Context, assignmentID snowflake.ID) (string, error) {
	assignment, err := e.loadAssignment(ctx, assignmentID)
	if err != nil {
		return "", err
	}
	return e.resolvePriceID(ctx, assignment, e.settings.Get())
}

// LinkAssignment implements domain.Engine. Mirrors the sync merge for an
// operator-chosen item instead of a resolved one.
func (e *Engine) LinkAssignment(ctx context.Context, assignmentID snowflake.ID, subscriptionID, itemID string) error {
	assignment, err := e.loadAssignment(ctx, assignmentID)
	if err != nil {
		return err
	}
	if !e.settings.Get().Stripe.EnableBilling {
		return &stripesyncdomain.ConfigurationError{Err: stripesyncdomain.ErrBillingDisabled}
	}
	if assignment.Complimentary {
		return &stripesyncdomain.ConfigurationError{Err: stripesyncdomain.ErrComplimentaryAssignment}
	}

	sub, err := e.client.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return &stripesyncdomain.ReconciliationError{Op: "subscription.get", Err: err}
	}

	var item *stripe.SubscriptionItem
	for _, candidate := range subscriptionItems(sub) {
		if candidate.ID == itemID {
			item = candidate
			break
		}
	}
	if item == nil {
		return &stripesyncdomain.ReconciliationError{
			Op:  "subscription_item.locate",
			Err: stripesyncdomain.ErrItemNotFound,
		}
	}

	idStr := assignment.ID.String()
	subIDs := e.subscriptionAssignmentIDs(ctx, sub, "")
	if err := e.syncSubscriptionAssignmentIDs(ctx, sub, stripesyncdomain.MergeAssignmentID(subIDs, idStr)); err != nil {
		return err
	}

	itemIDs := stripesyncdomain.MergeAssignmentID(stripesyncdomain.ParseAssignmentIDs(item.Metadata), idStr)
	if _, err := e.client.UpdateSubscriptionItem(ctx, item.ID, &stripe.SubscriptionItemParams{
		Quantity: stripe.Int64(int64(len(itemIDs))),
		Metadata: map[string]string{
			stripesyncdomain.MetadataAssignmentTagKey: stripesyncdomain.MetadataFlagValue,
			stripesyncdomain.MetadataAssignmentIDsKey: stripesyncdomain.JoinAssignmentIDs(itemIDs),
		},
	}); err != nil {
		return &stripesyncdomain.ReconciliationError{Op: "subscription_item.update", Err: err}
	}

	e.log.Info("assignment linked to subscription item",
		zap.String("assignment_id", idStr),
		zap.String("subscription_id", sub.ID),
		zap.String("item_id", item.ID))

	return e.persistSyncResult(ctx, assignment, sub.ID, item.ID, string(sub.Status))
}

// RefreshSubscriptionStatus implements domain.Engine.
func (e *Engine) RefreshSubscriptionStatus(ctx context.Context, subscriptionID, status string) error {
	subscriptionID = strings.TrimSpace(subscriptionID)
	if subscriptionID == "" {
		return nil
	}

	linked, err := e.assignmentRepo.Find(ctx, &assignmentdomain.Assignment{StripeSubscriptionID: subscriptionID})
	if err != nil {
		return err
	}

	now := e.clock.Now()
	for _, assignment := range linked {
		if assignment.SubscriptionStatus == status {
			continue
		}
		if err := e.assignmentRepo.Update(ctx, assignment.ID.String(), map[string]any{
			"subscription_status": status,
			"updated_at":          now,
		}); err != nil {
			return err
		}
	}

	e.log.Info("refreshed cached subscription status",
		zap.String("subscription_id", subscriptionID),
		zap.String("status", status),
		zap.Int("assignments", len(linked)))
	return nil
}

// resolvePriceID walks the override chain: assignment override, unit type
// price, then the tenant-wide default.
func (e *Engine) resolvePriceID(ctx context.Context, assignment *assignmentdomain.Assignment, settings config.Settings) (string, error) {
	if priceID := strings.TrimSpace(assignment.PriceOverrideID); priceID != "" {
		return priceID, nil
	}

	unit, err := e.unitRepo.FindOne(ctx, &unitdomain.Unit{ID: assignment.UnitID})
	if err != nil {
		return "", err
	}
	if unit != nil {
		unitType, err := e.typeRepo.FindOne(ctx, &unitdomain.UnitType{ID: unit.UnitTypeID})
		if err != nil {
			return "", err
		}
		if unitType != nil {
			if priceID := strings.TrimSpace(unitType.StripePriceID); priceID != "" {
				return priceID, nil
			}
		}
	}

	if priceID := strings.TrimSpace(settings.Stripe.DefaultPriceID); priceID != "" {
		return priceID, nil
	}

	return "", &stripesyncdomain.ConfigurationError{Err: stripesyncdomain.ErrNoPriceResolved}
}

// ensureCustomerID resolves the member's Stripe customer, searching by email
// before creating a fresh one, and stores the id for next time.
func (e *Engine) ensureCustomerID(ctx context.Context, member *memberdomain.Member) (string, error) {
	if customerID := strings.TrimSpace(member.StripeCustomerID); customerID != "" {
		return customerID, nil
	}

	email := strings.TrimSpace(member.Email)
	if email == "" {
		return "", &stripesyncdomain.ConfigurationError{Err: stripesyncdomain.ErrNoCustomer}
	}

	customer, err := e.client.FindCustomerByEmail(ctx, email)
	if err != nil {
		return "", &stripesyncdomain.ReconciliationError{Op: "customer.search", Err: err}
	}
	if customer == nil {
		customer, err = e.client.CreateCustomer(ctx, &stripe.CustomerParams{
			Email: stripe.String(email),
			Name:  stripe.String(member.DisplayName),
		})
		if err != nil {
			return "", &stripesyncdomain.ReconciliationError{Op: "customer.create", Err: err}
		}
		e.log.Info("created stripe customer",
			zap.String("member_id", member.ID.String()),
			zap.String("customer_id", customer.ID))
	}

	if err := e.memberRepo.Update(ctx, member.ID.String(), map[string]any{
		"stripe_customer_id": customer.ID,
		"updated_at":         e.clock.Now(),
	}); err != nil {
		return "", err
	}
	member.StripeCustomerID = customer.ID

	return customer.ID, nil
}

// findStorageSubscriptionID checks the member's most recent other assignments
// for a live subscription this one can join.
func (e *Engine) findStorageSubscriptionID(ctx context.Context, assignment *assignmentdomain.Assignment) string {
	others, err := e.assignmentRepo.Find(ctx, &assignmentdomain.Assignment{MemberID: assignment.MemberID},
		option.WithSortBy("created_at desc"),
		option.WithLimit(recentAssignmentScan),
	)
	if err != nil {
		e.log.Warn("failed to scan member assignments for subscription reuse", zap.Error(err))
		return ""
	}

	for _, other := range others {
		if other.ID == assignment.ID {
			continue
		}
		if strings.EqualFold(other.SubscriptionStatus, string(stripe.SubscriptionStatusCanceled)) {
			continue
		}
		if subscriptionID := strings.TrimSpace(other.StripeSubscriptionID); subscriptionID != "" {
			return subscriptionID
		}
	}

	return ""
}

// resolveSubscriptionItem locates the item carrying this assignment. The
// stored item id wins, then a metadata id match, then a tagged item on the
// wanted price, then any item on the wanted price.
func (e *Engine) resolveSubscriptionItem(ctx context.Context, assignment *assignmentdomain.Assignment, sub *stripe.Subscription, priceID string) *stripe.SubscriptionItem {
	idStr := assignment.ID.String()
	items := subscriptionItems(sub)

	if itemID := strings.TrimSpace(assignment.StripeSubscriptionItemID); itemID != "" {
		if item, err := e.client.GetSubscriptionItem(ctx, itemID); err == nil && item != nil && !item.Deleted {
			return item
		}
		for _, item := range items {
			if item.ID == itemID {
				return item
			}
		}
	}

	for _, item := range items {
		for _, id := range stripesyncdomain.ParseAssignmentIDs(item.Metadata) {
			if id == idStr {
				return item
			}
		}
	}

	if priceID == "" {
		return nil
	}

	for _, item := range items {
		if item.Price != nil && item.Price.ID == priceID && stripesyncdomain.TaggedItem(item.Metadata) {
			return item
		}
	}
	for _, item := range items {
		if item.Price != nil && item.Price.ID == priceID {
			return item
		}
	}

	return nil
}

// persistSyncResult writes the billing link back to the assignment, touching
// the row only when something actually changed, and clears any review flag.
func (e *Engine) persistSyncResult(ctx context.Context, assignment *assignmentdomain.Assignment, subscriptionID, itemID, status string) error {
	now := e.clock.Now()
	updates := map[string]any{}

	if assignment.StripeSubscriptionID != subscriptionID {
		updates["stripe_subscription_id"] = subscriptionID
	}
	if assignment.StripeSubscriptionItemID != itemID {
		updates["stripe_subscription_item_id"] = itemID
	}
	if assignment.SubscriptionStatus != status {
		updates["subscription_status"] = status
	}
	if assignment.NeedsManualReview {
		updates["needs_manual_review"] = false
		updates["manual_review_note"] = ""
	}

	if len(updates) > 0 {
		updates["last_synced_at"] = now
		updates["updated_at"] = now
		if err := e.assignmentRepo.Update(ctx, assignment.ID.String(), updates); err != nil {
			return err
		}
		assignment.LastSyncedAt = &now
	}

	if assignment.NeedsManualReview {
		e.metrics.RecordManualReviewCleared(ctx, "sync_succeeded")
		e.log.Info("manual review cleared after successful sync",
			zap.String("assignment_id", assignment.ID.String()))
	}

	assignment.StripeSubscriptionID = subscriptionID
	assignment.StripeSubscriptionItemID = itemID
	assignment.SubscriptionStatus = status
	assignment.NeedsManualReview = false
	assignment.ManualReviewNote = ""

	return nil
}

// clearBillingLink detaches the local billing fields after a release,
// touching the row only when a field actually changes.
func (e *Engine) clearBillingLink(ctx context.Context, assignment *assignmentdomain.Assignment, subscriptionID, status string) error {
	updates := map[string]any{}
	if assignment.StripeSubscriptionID != subscriptionID {
		updates["stripe_subscription_id"] = subscriptionID
	}
	if assignment.StripeSubscriptionItemID != "" {
		updates["stripe_subscription_item_id"] = ""
	}
	if assignment.SubscriptionStatus != status {
		updates["subscription_status"] = status
	}
	if assignment.NeedsManualReview {
		updates["needs_manual_review"] = false
		updates["manual_review_note"] = ""
	}
	if len(updates) == 0 {
		return nil
	}

	now := e.clock.Now()
	updates["last_synced_at"] = now
	updates["updated_at"] = now
	if err := e.assignmentRepo.Update(ctx, assignment.ID.String(), updates); err != nil {
		return err
	}

	assignment.StripeSubscriptionID = subscriptionID
	assignment.StripeSubscriptionItemID = ""
	assignment.SubscriptionStatus = status
	assignment.NeedsManualReview = false
	assignment.ManualReviewNote = ""
	assignment.LastSyncedAt = &now

	return nil
}

// flagManualReview records the failure for staff. Notification fires only on
// the transition into the flagged state so retries do not spam recipients.
func (e *Engine) flagManualReview(ctx context.Context, assignment *assignmentdomain.Assignment, cause error) {
	note := cause.Error()
	if len(note) > manualReviewNoteLimit {
		note = note[:manualReviewNoteLimit]
	}

	transition := !assignment.NeedsManualReview
	now := e.clock.Now()
	if err := e.assignmentRepo.Update(ctx, assignment.ID.String(), map[string]any{
		"needs_manual_review": true,
		"manual_review_note":  note,
		"updated_at":          now,
	}); err != nil {
		e.log.Error("failed to persist manual review flag",
			zap.String("assignment_id", assignment.ID.String()),
			zap.Error(err))
		return
	}
	assignment.NeedsManualReview = true
	assignment.ManualReviewNote = note

	e.log.Warn("assignment flagged for manual review",
		zap.String("assignment_id", assignment.ID.String()),
		zap.Bool("transition", transition),
		zap.String("note", note))

	if !transition {
		return
	}

	e.metrics.RecordManualReviewFlagged(ctx, failureReason(cause))
	subject := "Storage billing needs manual review"
	body := "Assignment " + assignment.ID.String() + " for unit " + assignment.UnitID.String() +
		" failed billing sync and needs manual review.<br><br>" + note
	if err := e.notifier.SendEvent(ctx, notificationdomain.EventManualReview, subject, body); err != nil {
		e.log.Warn("manual review notification failed", zap.Error(err))
	}
}

func (e *Engine) loadAssignment(ctx context.Context, assignmentID snowflake.ID) (*assignmentdomain.Assignment, error) {
	assignment, err := e.assignmentRepo.FindOne(ctx, &assignmentdomain.Assignment{ID: assignmentID})
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, assignmentdomain.ErrAssignmentNotFound
	}
	return assignment, nil
}

func (e *Engine) loadMember(ctx context.Context, memberID snowflake.ID) (*memberdomain.Member, error) {
	member, err := e.memberRepo.FindOne(ctx, &memberdomain.Member{ID: memberID})
	if err != nil {
		return nil, err
	}
	if member == nil {
		return nil, memberdomain.ErrMemberNotFound
	}
	return member, nil
}

// subscriptionUsable reports whether a subscription can still carry storage
// billing. Canceled and expired ones are treated as absent.
func subscriptionUsable(sub *stripe.Subscription) bool {
	switch sub.Status {
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return false
	}
	return true
}

// subscriptionHasExternalItems reports whether the subscription carries items
// this service did not create.
func subscriptionHasExternalItems(sub *stripe.Subscription, skipItemID string) bool {
	for _, item := range subscriptionItems(sub) {
		if skipItemID != "" && item.ID == skipItemID {
			continue
		}
		if !stripesyncdomain.TaggedItem(item.Metadata) {
			return true
		}
	}
	return false
}

// subscriptionAssignmentIDs returns the assignment ids billed anywhere on
// the subscription, excluding excludeID when given. Subscriptions predating
// the metadata convention fall back to the local billing links.
func (e *Engine) subscriptionAssignmentIDs(ctx context.Context, sub *stripe.Subscription, excludeID string) []string {
	ids := stripesyncdomain.ParseAssignmentIDs(sub.Metadata)
	if len(ids) == 0 {
		linked, err := e.assignmentRepo.Find(ctx, &assignmentdomain.Assignment{StripeSubscriptionID: sub.ID})
		if err != nil {
			e.log.Warn("failed to collect linked assignments for subscription",
				zap.String("subscription_id", sub.ID),
				zap.Error(err))
		}
		for _, a := range linked {
			ids = stripesyncdomain.MergeAssignmentID(ids, a.ID.String())
		}
	}
	if excludeID != "" {
		ids = stripesyncdomain.RemoveAssignmentID(ids, excludeID)
	}
	return ids
}

// syncSubscriptionAssignmentIDs writes the subscription-level id set, skipping
// the call when the metadata already matches.
func (e *Engine) syncSubscriptionAssignmentIDs(ctx context.Context, sub *stripe.Subscription, ids []string) error {
	joined := stripesyncdomain.JoinAssignmentIDs(ids)
	if sub.Metadata[stripesyncdomain.MetadataAssignmentIDsKey] == joined &&
		stripesyncdomain.ManagedSubscription(sub.Metadata) {
		return nil
	}

	if _, err := e.client.UpdateSubscription(ctx, sub.ID, &stripe.SubscriptionParams{
		Metadata: map[string]string{
			stripesyncdomain.MetadataManagedKey:       stripesyncdomain.MetadataFlagValue,
			stripesyncdomain.MetadataAssignmentIDsKey: joined,
		},
	}); err != nil {
		return &stripesyncdomain.ReconciliationError{Op: "subscription.update", Err: err}
	}
	return nil
}

// itemCreateMetadata builds the metadata stamped on a freshly created item.
func (e *Engine) itemCreateMetadata(assignment *assignmentdomain.Assignment) map[string]string {
	metadata := map[string]string{
		stripesyncdomain.MetadataAssignmentTagKey: stripesyncdomain.MetadataFlagValue,
		stripesyncdomain.MetadataAssignmentIDsKey: assignment.ID.String(),
	}
	if !assignment.PriceSnapshot.IsZero() {
		metadata[stripesyncdomain.MetadataPriceSnapshotKey] = assignment.PriceSnapshot.StringFixed(2)
	}
	return metadata
}

func subscriptionItems(sub *stripe.Subscription) []*stripe.SubscriptionItem {
	if sub == nil || sub.Items == nil {
		return nil
	}
	items := make([]*stripe.SubscriptionItem, 0, len(sub.Items.Data))
	for _, item := range sub.Items.Data {
		if item == nil || item.Deleted {
			continue
		}
		items = append(items, item)
	}
	return items
}

func failureReason(err error) string {
	switch {
	case stripesyncdomain.IsConfigurationError(err):
		return "configuration"
	case stripesyncdomain.IsReconciliationError(err):
		return "stripe"
	default:
		return "internal"
	}
}

package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/makerhaus/storman/internal/clock"
	memberdomain "github.com/makerhaus/storman/internal/member/domain"
	"github.com/makerhaus/storman/pkg/db"
	"github.com/makerhaus/storman/pkg/db/option"
	"github.com/makerhaus/storman/pkg/db/pagination"
	"github.com/makerhaus/storman/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock

	memberRepo repository.Repository[memberdomain.Member]
}

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

func NewService(p ServiceParam) memberdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("member.service"),

		genID: p.GenID,
		clock: p.Clock,

		memberRepo: repository.ProvideStore[memberdomain.Member](p.DB),
	}
}

// Create implements domain.Service.
func (s *Service) Create(ctx context.Context, req memberdomain.CreateMemberRequest) (memberdomain.Member, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return memberdomain.Member{}, memberdomain.ErrInvalidEmail
	}
	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = email
	}

	now := s.clock.Now()
	member := memberdomain.Member{
		ID:          s.genID.Generate(),
		DisplayName: displayName,
		Email:       email,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.memberRepo.Create(ctx, &member); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return memberdomain.Member{}, memberdomain.ErrEmailExists
		}
		return memberdomain.Member{}, err
	}

	return member, nil
}

// Get implements domain.Service.
func (s *Service) Get(ctx context.Context, id string) (memberdomain.Member, error) {
	memberID, err := snowflake.ParseString(strings.TrimSpace(id))
	if err != nil {
		return memberdomain.Member{}, memberdomain.ErrInvalidMember
	}

	member, err := s.memberRepo.FindOne(ctx, &memberdomain.Member{ID: memberID})
	if err != nil {
		return memberdomain.Member{}, err
	}
	if member == nil {
		return memberdomain.Member{}, memberdomain.ErrMemberNotFound
	}

	return *member, nil
}

// List implements domain.Service.
func (s *Service) List(ctx context.Context, req memberdomain.ListMembersRequest) (memberdomain.ListMembersResponse, error) {
	query := memberdomain.Member{}
	if email := strings.ToLower(strings.TrimSpace(req.Email)); email != "" {
		query.Email = email
	}

	rows, err := s.memberRepo.Find(ctx, &query,
		option.ApplyPagination(req.Pagination),
		option.WithSortBy("created_at desc"),
	)
	if err != nil {
		return memberdomain.ListMembersResponse{}, err
	}

	pageInfo, rows := pagination.BuildCursorPageInfo(rows, req.PageSize, func(m *memberdomain.Member) pagination.Cursor {
		return pagination.Cursor{CreatedAt: m.CreatedAt.Format(time.RFC3339Nano)}
	})

	members := make([]memberdomain.Member, 0, len(rows))
	for _, row := range rows {
		members = append(members, *row)
	}

	return memberdomain.ListMembersResponse{PageInfo: pageInfo, Members: members}, nil
}

// SetStripeCustomerID implements domain.Service.
func (s *Service) SetStripeCustomerID(ctx context.Context, id, customerID string) error {
	member, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	customerID = strings.TrimSpace(customerID)
	if member.StripeCustomerID == customerID {
		return nil
	}

	return s.memberRepo.Update(ctx, member.ID.String(), map[string]any{
		"stripe_customer_id": customerID,
		"updated_at":         s.clock.Now(),
	})
}

package domain

import (
	"context"
	"errors"

	"github.com/makerhaus/storman/pkg/db/pagination"
)

type CreateMemberRequest struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
}

type ListMembersRequest struct {
	pagination.Pagination
	Email string `form:"email"`
}

type ListMembersResponse struct {
	pagination.PageInfo
	Members []Member `json:"members"`
}

type Service interface {
	Create(context.Context, CreateMemberRequest) (Member, error)
	Get(ctx context.Context, id string) (Member, error)
	List(context.Context, ListMembersRequest) (ListMembersResponse, error)
	// SetStripeCustomerID persists the billing customer id resolved during
	// subscription sync.
	SetStripeCustomerID(ctx context.Context, id, customerID string) error
}

var (
	ErrMemberNotFound = errors.New("member_not_found")
	ErrInvalidMember  = errors.New("invalid_member")
	ErrInvalidEmail   = errors.New("invalid_email")
	ErrEmailExists    = errors.New("email_exists")
)

// Package store provides persistence for users, lists, items, and
// memberships behind a narrow facade.
package store

import (
	"context"
	"errors"

	"cartshare/pkg/domain"
)

// ErrDuplicate is returned when an insert violates a uniqueness
// constraint (email, invite code, or one-membership-per-pair).
var ErrDuplicate = errors.New("duplicate record")

// Store defines the persistence operations the coordinator depends on.
// Implementations must guarantee that DeleteListCascade removes items,
// memberships, and the list as one atomic unit.
type Store interface {
	// users
	CreateUser(ctx context.Context, user domain.User) error
	HasUserEmail(ctx context.Context, email string) (bool, error)
	GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error)
	GetUserByID(ctx context.Context, id string) (domain.User, bool, error)
	GetUsersByID(ctx context.Context, ids []string) (map[string]domain.User, error)

	// lists
	CreateList(ctx context.Context, list domain.List) error
	// CreateListWithOwner inserts the list and its creator's owner
	// membership as one atomic unit, so no observer can ever see a
	// list without an owner.
	CreateListWithOwner(ctx context.Context, list domain.List, owner domain.Membership) error
	GetList(ctx context.Context, id string) (domain.List, bool, error)
	GetListByInviteCode(ctx context.Context, code string) (domain.List, bool, error)
	HasInviteCode(ctx context.Context, code string) (bool, error)
	DeleteListCascade(ctx context.Context, listID string) error

	// items
	CreateItem(ctx context.Context, item domain.Item) error
	UpdateItem(ctx context.Context, item domain.Item) error
	GetItem(ctx context.Context, listID, itemID string) (domain.Item, bool, error)
	ListItems(ctx context.Context, listID string) ([]domain.Item, error)
	DeleteItem(ctx context.Context, listID, itemID string) error

	// memberships
	CreateMembership(ctx context.Context, m domain.Membership) error
	GetMembership(ctx context.Context, userID, listID string) (domain.Membership, bool, error)
	ListMembershipsByUser(ctx context.Context, userID string) ([]domain.Membership, error)
	ListMembershipsByList(ctx context.Context, listID string) ([]domain.Membership, error)

	Close() error
}

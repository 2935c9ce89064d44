// Package membership is the authoritative source for "who may see and
// act on this list". Every list and item operation authorizes through
// it before touching storage.
package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"cartshare/internal/store"
	"cartshare/pkg/domain"
)

// ErrAlreadyMember is returned when a membership row already exists for
// the (user, list) pair.
var ErrAlreadyMember = errors.New("already a member of this list")

// Registry answers membership questions and records new memberships.
// Rows are durable; removal happens only as part of list deletion,
// inside the store's cascade transaction.
type Registry struct {
	store store.Store
}

// NewRegistry creates a registry backed by the given store.
func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

// IsMember returns the role a user holds on a list, if any. It has no
// side effects and is the authorization gate for every operation.
func (r *Registry) IsMember(ctx context.Context, userID, listID string) (domain.Role, bool, error) {
	m, ok, err := r.store.GetMembership(ctx, userID, listID)
	if err != nil {
		return "", false, fmt.Errorf("get membership: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return m.Role, true, nil
}

// Add records a new membership. Roles are immutable after creation.
func (r *Registry) Add(ctx context.Context, userID, listID string, role domain.Role) (domain.Membership, error) {
	if _, exists, err := r.IsMember(ctx, userID, listID); err != nil {
		return domain.Membership{}, err
	} else if exists {
		return domain.Membership{}, ErrAlreadyMember
	}
	m := domain.Membership{
		ID:        uuid.NewString(),
		UserID:    userID,
		ListID:    listID,
		Role:      role,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.store.CreateMembership(ctx, m); err != nil {
		// Two near-simultaneous joins race past the pre-check; the
		// store's unique index decides, and the loser surfaces the
		// same error as the pre-check.
		if errors.Is(err, store.ErrDuplicate) {
			return domain.Membership{}, ErrAlreadyMember
		}
		return domain.Membership{}, fmt.Errorf("create membership: %w", err)
	}
	return m, nil
}

// Members returns the full roster of a list, oldest first.
func (r *Registry) Members(ctx context.Context, listID string) ([]domain.Membership, error) {
	ms, err := r.store.ListMembershipsByList(ctx, listID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return ms, nil
}

// MembershipsOf returns every membership a user holds, oldest first.
func (r *Registry) MembershipsOf(ctx context.Context, userID string) ([]domain.Membership, error) {
	ms, err := r.store.ListMembershipsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	return ms, nil
}

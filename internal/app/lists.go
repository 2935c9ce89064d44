package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cartshare/internal/hub"
	"cartshare/internal/invite"
	"cartshare/pkg/domain"
)

// CreateList creates a list owned by the actor. The invite code is
// assigned before the list is externally observable and never changes
// afterwards.
func (a *App) CreateList(ctx context.Context, actorID, name string) (domain.ListDetail, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 100 {
		return domain.ListDetail{}, fmt.Errorf("%w: list name must be 1-100 characters", ErrValidation)
	}
	code, err := a.uniqueInviteCode(ctx)
	if err != nil {
		return domain.ListDetail{}, err
	}
	now := time.Now().UTC()
	list := domain.List{
		ID:         uuid.NewString(),
		Name:       name,
		InviteCode: code,
		CreatedBy:  actorID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	owner := domain.Membership{
		ID:        uuid.NewString(),
		UserID:    actorID,
		ListID:    list.ID,
		Role:      domain.RoleOwner,
		CreatedAt: now,
	}
	if err := a.store.CreateListWithOwner(ctx, list, owner); err != nil {
		return domain.ListDetail{}, fmt.Errorf("create list: %w", err)
	}
	// No broadcast: nobody else can be subscribed to a list that was
	// not observable until this call returned.
	return a.hydrateList(ctx, list, domain.RoleOwner)
}

// uniqueInviteCode generates codes until one is free. Collisions are
// rare enough that a single retry almost always suffices, but the loop
// is unbounded so exhaustion cannot stall list creation short of a
// store failure.
func (a *App) uniqueInviteCode(ctx context.Context) (string, error) {
	for {
		code := a.invites.Generate()
		taken, err := a.store.HasInviteCode(ctx, code)
		if err != nil {
			return "", fmt.Errorf("check invite code: %w", err)
		}
		if !taken {
			return code, nil
		}
	}
}

// MyLists returns every list the actor belongs to, with its role and
// item counts.
func (a *App) MyLists(ctx context.Context, actorID string) ([]domain.ListSummary, error) {
	memberships, err := a.members.MembershipsOf(ctx, actorID)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.ListSummary, 0, len(memberships))
	for _, m := range memberships {
		list, ok, err := a.store.GetList(ctx, m.ListID)
		if err != nil {
			return nil, fmt.Errorf("get list: %w", err)
		}
		if !ok {
			continue
		}
		summary, err := a.summarize(ctx, list, m.Role)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// GetList returns the fully hydrated list detail for a member.
func (a *App) GetList(ctx context.Context, actorID, listID string) (domain.ListDetail, error) {
	role, err := a.authorize(ctx, actorID, listID)
	if err != nil {
		return domain.ListDetail{}, err
	}
	list, ok, err := a.store.GetList(ctx, listID)
	if err != nil {
		return domain.ListDetail{}, fmt.Errorf("get list: %w", err)
	}
	if !ok {
		return domain.ListDetail{}, ErrNotFound
	}
	return a.hydrateList(ctx, list, role)
}

// JoinList adds the actor to the list identified by an invite code and
// notifies the room. Codes are case-insensitive on input.
func (a *App) JoinList(ctx context.Context, actorID, code string) (domain.ListSummary, error) {
	code = invite.Normalize(code)
	if code == "" {
		return domain.ListSummary{}, fmt.Errorf("%w: invite code is required", ErrValidation)
	}
	list, ok, err := a.store.GetListByInviteCode(ctx, code)
	if err != nil {
		return domain.ListSummary{}, fmt.Errorf("lookup invite code: %w", err)
	}
	if !ok {
		return domain.ListSummary{}, ErrNotFound
	}
	if _, err := a.members.Add(ctx, actorID, list.ID, domain.RoleMember); err != nil {
		return domain.ListSummary{}, err
	}
	actor, err := a.UserByID(ctx, actorID)
	if err != nil {
		return domain.ListSummary{}, err
	}
	a.broadcast(list.ID, hub.EventMemberJoined, map[string]any{
		"listId": list.ID,
		"user":   actor.RefWithEmail(),
	})
	return a.summarize(ctx, list, domain.RoleMember)
}

// DeleteList removes a list with all its items and memberships as one
// atomic unit. Owner only.
func (a *App) DeleteList(ctx context.Context, actorID, listID string) error {
	role, err := a.authorize(ctx, actorID, listID)
	if err != nil {
		return err
	}
	if role != domain.RoleOwner {
		return ErrAccessDenied
	}
	if err := a.store.DeleteListCascade(ctx, listID); err != nil {
		return fmt.Errorf("delete list: %w", err)
	}
	a.broadcast(listID, hub.EventListDeleted, map[string]any{"listId": listID})
	return nil
}

// summarize builds the "my lists" projection of one list.
func (a *App) summarize(ctx context.Context, list domain.List, role domain.Role) (domain.ListSummary, error) {
	creator, ok, err := a.store.GetUserByID(ctx, list.CreatedBy)
	if err != nil {
		return domain.ListSummary{}, fmt.Errorf("get creator: %w", err)
	}
	if !ok {
		return domain.ListSummary{}, errors.New("list creator missing")
	}
	items, err := a.store.ListItems(ctx, list.ID)
	if err != nil {
		return domain.ListSummary{}, fmt.Errorf("list items: %w", err)
	}
	checked := 0
	for _, item := range items {
		if item.Checked {
			checked++
		}
	}
	return domain.ListSummary{
		List:         list,
		Role:         role,
		Creator:      creator.RefWithEmail(),
		ItemCount:    len(items),
		CheckedCount: checked,
	}, nil
}

// hydrateList assembles the detail response: list, creator, items with
// their display users, and the member roster. The composition is
// explicit reads, no association magic.
func (a *App) hydrateList(ctx context.Context, list domain.List, role domain.Role) (domain.ListDetail, error) {
	items, err := a.store.ListItems(ctx, list.ID)
	if err != nil {
		return domain.ListDetail{}, fmt.Errorf("list items: %w", err)
	}
	memberships, err := a.members.Members(ctx, list.ID)
	if err != nil {
		return domain.ListDetail{}, err
	}

	ids := []string{list.CreatedBy}
	for _, item := range items {
		ids = append(ids, item.AddedBy)
		if item.CheckedBy != "" {
			ids = append(ids, item.CheckedBy)
		}
	}
	for _, m := range memberships {
		ids = append(ids, m.UserID)
	}
	users, err := a.store.GetUsersByID(ctx, ids)
	if err != nil {
		return domain.ListDetail{}, fmt.Errorf("get users: %w", err)
	}

	detail := domain.ListDetail{
		List:    list,
		Creator: users[list.CreatedBy].RefWithEmail(),
		Items:   make([]domain.ItemDetail, 0, len(items)),
		Members: make([]domain.Member, 0, len(memberships)),
		Role:    role,
	}
	for _, item := range items {
		detail.Items = append(detail.Items, itemDetail(item, users))
	}
	for _, m := range memberships {
		detail.Members = append(detail.Members, domain.Member{
			User:     users[m.UserID].RefWithEmail(),
			Role:     m.Role,
			JoinedAt: m.CreatedAt,
		})
	}
	return detail, nil
}

func itemDetail(item domain.Item, users map[string]domain.User) domain.ItemDetail {
	d := domain.ItemDetail{
		Item:        item,
		AddedByUser: users[item.AddedBy].Ref(),
	}
	if item.CheckedBy != "" {
		ref := users[item.CheckedBy].Ref()
		d.CheckedByUser = &ref
	}
	return d
}

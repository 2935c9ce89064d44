package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"cartshare/internal/hub"
	"cartshare/pkg/domain"
)

// ItemUpdate carries the fields of an item update; nil fields are left
// unchanged.
type ItemUpdate struct {
	Name     *string
	Quantity *int
	Unit     *string
	Checked  *bool
}

func validateItemName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > 255 {
		return "", fmt.Errorf("%w: item name must be 1-255 characters", ErrValidation)
	}
	return name, nil
}

// AddItem appends an item to a list and notifies the room.
func (a *App) AddItem(ctx context.Context, actorID, listID, name string, quantity int, unit string) (domain.ItemDetail, error) {
	if _, err := a.authorize(ctx, actorID, listID); err != nil {
		return domain.ItemDetail{}, err
	}
	name, err := validateItemName(name)
	if err != nil {
		return domain.ItemDetail{}, err
	}
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 {
		return domain.ItemDetail{}, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	}
	if len(unit) > 50 {
		return domain.ItemDetail{}, fmt.Errorf("%w: unit must be at most 50 characters", ErrValidation)
	}
	now := time.Now().UTC()
	item := domain.Item{
		ID:        uuid.NewString(),
		ListID:    listID,
		Name:      name,
		Quantity:  quantity,
		Unit:      strings.TrimSpace(unit),
		AddedBy:   actorID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := a.store.CreateItem(ctx, item); err != nil {
		return domain.ItemDetail{}, fmt.Errorf("create item: %w", err)
	}
	detail, err := a.hydrateItem(ctx, item)
	if err != nil {
		return domain.ItemDetail{}, err
	}
	a.broadcast(listID, hub.EventItemAdded, map[string]any{
		"listId": listID,
		"item":   detail,
	})
	return detail, nil
}

// ToggleItem flips an item's checked state. The transition reads the
// persisted row immediately before writing: unchecked->checked records
// the actor in CheckedBy, checked->unchecked clears it. Two concurrent
// toggles resolve last-write-wins; either actor's outcome is valid,
// and CheckedBy always matches Checked.
func (a *App) ToggleItem(ctx context.Context, actorID, listID, itemID string) (domain.ItemDetail, error) {
	if _, err := a.authorize(ctx, actorID, listID); err != nil {
		return domain.ItemDetail{}, err
	}
	item, ok, err := a.store.GetItem(ctx, listID, itemID)
	if err != nil {
		return domain.ItemDetail{}, fmt.Errorf("get item: %w", err)
	}
	if !ok {
		return domain.ItemDetail{}, ErrNotFound
	}
	item.Checked = !item.Checked
	if item.Checked {
		item.CheckedBy = actorID
	} else {
		item.CheckedBy = ""
	}
	item.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateItem(ctx, item); err != nil {
		return domain.ItemDetail{}, fmt.Errorf("update item: %w", err)
	}
	detail, err := a.hydrateItem(ctx, item)
	if err != nil {
		return domain.ItemDetail{}, err
	}
	a.broadcast(listID, hub.EventItemToggled, map[string]any{
		"listId": listID,
		"item":   detail,
	})
	return detail, nil
}

// UpdateItem applies a partial update to an item and notifies the room.
// Setting Checked through here follows the same state machine as
// ToggleItem.
func (a *App) UpdateItem(ctx context.Context, actorID, listID, itemID string, update ItemUpdate) (domain.ItemDetail, error) {
	if _, err := a.authorize(ctx, actorID, listID); err != nil {
		return domain.ItemDetail{}, err
	}
	item, ok, err := a.store.GetItem(ctx, listID, itemID)
	if err != nil {
		return domain.ItemDetail{}, fmt.Errorf("get item: %w", err)
	}
	if !ok {
		return domain.ItemDetail{}, ErrNotFound
	}
	if update.Name != nil {
		name, err := validateItemName(*update.Name)
		if err != nil {
			return domain.ItemDetail{}, err
		}
		item.Name = name
	}
	if update.Quantity != nil {
		if *update.Quantity < 1 {
			return domain.ItemDetail{}, fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
		}
		item.Quantity = *update.Quantity
	}
	if update.Unit != nil {
		if len(*update.Unit) > 50 {
			return domain.ItemDetail{}, fmt.Errorf("%w: unit must be at most 50 characters", ErrValidation)
		}
		item.Unit = strings.TrimSpace(*update.Unit)
	}
	if update.Checked != nil {
		item.Checked = *update.Checked
		if item.Checked {
			item.CheckedBy = actorID
		} else {
			item.CheckedBy = ""
		}
	}
	item.UpdatedAt = time.Now().UTC()
	if err := a.store.UpdateItem(ctx, item); err != nil {
		return domain.ItemDetail{}, fmt.Errorf("update item: %w", err)
	}
	detail, err := a.hydrateItem(ctx, item)
	if err != nil {
		return domain.ItemDetail{}, err
	}
	a.broadcast(listID, hub.EventItemUpdated, map[string]any{
		"listId": listID,
		"item":   detail,
	})
	return detail, nil
}

// DeleteItem removes an item and notifies the room.
func (a *App) DeleteItem(ctx context.Context, actorID, listID, itemID string) error {
	if _, err := a.authorize(ctx, actorID, listID); err != nil {
		return err
	}
	if _, ok, err := a.store.GetItem(ctx, listID, itemID); err != nil {
		return fmt.Errorf("get item: %w", err)
	} else if !ok {
		return ErrNotFound
	}
	if err := a.store.DeleteItem(ctx, listID, itemID); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	a.broadcast(listID, hub.EventItemDeleted, map[string]any{
		"listId": listID,
		"itemId": itemID,
	})
	return nil
}

// hydrateItem attaches the display users for addedBy/checkedBy.
func (a *App) hydrateItem(ctx context.Context, item domain.Item) (domain.ItemDetail, error) {
	ids := []string{item.AddedBy}
	if item.CheckedBy != "" {
		ids = append(ids, item.CheckedBy)
	}
	users, err := a.store.GetUsersByID(ctx, ids)
	if err != nil {
		return domain.ItemDetail{}, fmt.Errorf("get users: %w", err)
	}
	return itemDetail(item, users), nil
}

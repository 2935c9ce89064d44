package store

import (
	"context"
	"sort"
	"sync"

	"cartshare/pkg/domain"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore keeps everything in-process. It backs tests and mirrors
// the facade's atomicity contract: every cascade runs under one lock,
// so partial deletes are never observable.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]domain.User
	email       map[string]string // email -> user ID
	lists       map[string]domain.List
	inviteCodes map[string]string // code -> list ID
	items       map[string]domain.Item
	memberships map[string]domain.Membership // key: userID + "|" + listID
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]domain.User),
		email:       make(map[string]string),
		lists:       make(map[string]domain.List),
		inviteCodes: make(map[string]string),
		items:       make(map[string]domain.Item),
		memberships: make(map[string]domain.Membership),
	}
}

func (m *MemoryStore) Close() error { return nil }

func membershipKey(userID, listID string) string { return userID + "|" + listID }

// CreateUser registers a user.
func (m *MemoryStore) CreateUser(_ context.Context, u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.email[u.Email]; exists {
		return ErrDuplicate
	}
	m.users[u.ID] = u
	m.email[u.Email] = u.ID
	return nil
}

// HasUserEmail checks if email exists.
func (m *MemoryStore) HasUserEmail(_ context.Context, email string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.email[email]
	return ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.email[email]; ok {
		u, exists := m.users[id]
		return u, exists, nil
	}
	return domain.User{}, false, nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(_ context.Context, id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUsersByID returns users keyed by ID; missing IDs are absent.
func (m *MemoryStore) GetUsersByID(_ context.Context, ids []string) (map[string]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]domain.User, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			res[id] = u
		}
	}
	return res, nil
}

// CreateList stores a list.
func (m *MemoryStore) CreateList(_ context.Context, l domain.List) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.inviteCodes[l.InviteCode]; exists {
		return ErrDuplicate
	}
	m.lists[l.ID] = l
	m.inviteCodes[l.InviteCode] = l.ID
	return nil
}

// CreateListWithOwner stores the list and its owner membership under
// one lock acquisition.
func (m *MemoryStore) CreateListWithOwner(_ context.Context, l domain.List, owner domain.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.inviteCodes[l.InviteCode]; exists {
		return ErrDuplicate
	}
	key := membershipKey(owner.UserID, owner.ListID)
	if _, exists := m.memberships[key]; exists {
		return ErrDuplicate
	}
	m.lists[l.ID] = l
	m.inviteCodes[l.InviteCode] = l.ID
	m.memberships[key] = owner
	return nil
}

// GetList returns a list by ID.
func (m *MemoryStore) GetList(_ context.Context, id string) (domain.List, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.lists[id]
	return l, ok, nil
}

// GetListByInviteCode looks up a list by invite code.
func (m *MemoryStore) GetListByInviteCode(_ context.Context, code string) (domain.List, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if id, ok := m.inviteCodes[code]; ok {
		l, exists := m.lists[id]
		return l, exists, nil
	}
	return domain.List{}, false, nil
}

// HasInviteCode checks whether a code is taken.
func (m *MemoryStore) HasInviteCode(_ context.Context, code string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.inviteCodes[code]
	return ok, nil
}

// DeleteListCascade removes a list with its items and memberships.
func (m *MemoryStore) DeleteListCascade(_ context.Context, listID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, item := range m.items {
		if item.ListID == listID {
			delete(m.items, id)
		}
	}
	for key, membership := range m.memberships {
		if membership.ListID == listID {
			delete(m.memberships, key)
		}
	}
	if l, ok := m.lists[listID]; ok {
		delete(m.inviteCodes, l.InviteCode)
		delete(m.lists, listID)
	}
	return nil
}

// CreateItem stores an item.
func (m *MemoryStore) CreateItem(_ context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

// UpdateItem replaces an item row.
func (m *MemoryStore) UpdateItem(_ context.Context, item domain.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

// GetItem returns an item scoped to its list.
func (m *MemoryStore) GetItem(_ context.Context, listID, itemID string) (domain.Item, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	item, ok := m.items[itemID]
	if !ok || item.ListID != listID {
		return domain.Item{}, false, nil
	}
	return item, true, nil
}

// ListItems returns a list's items, newest first.
func (m *MemoryStore) ListItems(_ context.Context, listID string) ([]domain.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Item, 0)
	for _, item := range m.items {
		if item.ListID == listID {
			res = append(res, item)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if !res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].CreatedAt.After(res[j].CreatedAt)
		}
		return res[i].ID > res[j].ID
	})
	return res, nil
}

// DeleteItem removes one item scoped to its list.
func (m *MemoryStore) DeleteItem(_ context.Context, listID, itemID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item, ok := m.items[itemID]; ok && item.ListID == listID {
		delete(m.items, itemID)
	}
	return nil
}

// CreateMembership stores a membership, rejecting duplicates for the
// same (user, list) pair.
func (m *MemoryStore) CreateMembership(_ context.Context, membership domain.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := membershipKey(membership.UserID, membership.ListID)
	if _, exists := m.memberships[key]; exists {
		return ErrDuplicate
	}
	m.memberships[key] = membership
	return nil
}

// GetMembership returns the membership for a (user, list) pair.
func (m *MemoryStore) GetMembership(_ context.Context, userID, listID string) (domain.Membership, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	membership, ok := m.memberships[membershipKey(userID, listID)]
	return membership, ok, nil
}

// ListMembershipsByUser returns all memberships of one user.
func (m *MemoryStore) ListMembershipsByUser(_ context.Context, userID string) ([]domain.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Membership, 0)
	for _, membership := range m.memberships {
		if membership.UserID == userID {
			res = append(res, membership)
		}
	}
	sortMemberships(res)
	return res, nil
}

// ListMembershipsByList returns all memberships of one list.
func (m *MemoryStore) ListMembershipsByList(_ context.Context, listID string) ([]domain.Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Membership, 0)
	for _, membership := range m.memberships {
		if membership.ListID == listID {
			res = append(res, membership)
		}
	}
	sortMemberships(res)
	return res, nil
}

func sortMemberships(ms []domain.Membership) {
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].CreatedAt.Equal(ms[j].CreatedAt) {
			return ms[i].CreatedAt.Before(ms[j].CreatedAt)
		}
		return ms[i].ID < ms[j].ID
	})
}

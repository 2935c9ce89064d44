package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"cartshare/internal/hub"
	"cartshare/internal/store"
	"cartshare/internal/token"
	"cartshare/pkg/domain"
)

func newTestApp(t *testing.T) (*App, *store.MemoryStore, *hub.Hub) {
	t.Helper()
	memStore := store.NewMemoryStore()
	h := hub.New()
	t.Cleanup(h.Close)
	a, err := New(Config{
		Store:  memStore,
		Hub:    h,
		Tokens: token.NewManager("test-secret", time.Hour),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return a, memStore, h
}

func registerUser(t *testing.T, a *App, name, email string) domain.User {
	t.Helper()
	user, tok, err := a.Register(context.Background(), name, email, "Str0ng#Pass1!")
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	if tok == "" {
		t.Fatalf("expected session token")
	}
	return user
}

func recvEvent(t *testing.T, c *hub.Conn) hub.Event {
	t.Helper()
	select {
	case payload, ok := <-c.Send():
		if !ok {
			t.Fatalf("send channel closed")
		}
		var e hub.Event
		if err := json.Unmarshal(payload, &e); err != nil {
			t.Fatalf("unmarshal event: %v", err)
		}
		return e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
		return hub.Event{}
	}
}

func TestNewRequiresHub(t *testing.T) {
	_, err := New(Config{Store: store.NewMemoryStore(), Tokens: token.NewManager("s", time.Hour)})
	if err == nil {
		t.Fatalf("expected construction error without hub")
	}
}

func TestRegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestApp(t)
	user := registerUser(t, a, "Alice", "alice@example.com")

	if _, _, err := a.Register(ctx, "Alice Again", "alice@example.com", "Str0ng#Pass1!"); !errors.Is(err, ErrEmailExists) {
		t.Fatalf("expected ErrEmailExists, got %v", err)
	}
	got, _, err := a.Login(ctx, "ALICE@example.com", "Str0ng#Pass1!")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if got.ID != user.ID {
		t.Fatalf("expected same user")
	}
	if _, _, err := a.Login(ctx, "alice@example.com", "wrong-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := a.Login(ctx, "nobody@example.com", "Str0ng#Pass1!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestCreateListAssignsOwnerAndInviteCode(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestApp(t)
	alice := registerUser(t, a, "Alice", "alice@example.com")

	detail, err := a.CreateList(ctx, alice.ID, "Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if len(detail.InviteCode) != 6 {
		t.Fatalf("expected 6-char invite code, got %q", detail.InviteCode)
	}
	if detail.Role != domain.RoleOwner {
		t.Fatalf("creator must be owner, got %s", detail.Role)
	}
	if len(detail.Members) != 1 || detail.Members[0].User.ID != alice.ID {
		t.Fatalf("expected creator in member roster, got %+v", detail.Members)
	}
	if detail.Creator.ID != alice.ID || detail.Creator.Email != alice.Email {
		t.Fatalf("expected hydrated creator, got %+v", detail.Creator)
	}

	role, ok, err := a.Registry().IsMember(ctx, alice.ID, detail.ID)
	if err != nil || !ok || role != domain.RoleOwner {
		t.Fatalf("expected owner membership, role=%s ok=%v err=%v", role, ok, err)
	}
}

func TestInviteCodesPairwiseDistinct(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestApp(t)
	alice := registerUser(t, a, "Alice", "alice@example.com")

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		detail, err := a.CreateList(ctx, alice.ID, "List")
		if err != nil {
			t.Fatalf("create list %d: %v", i, err)
		}
		if _, dup := seen[detail.InviteCode]; dup {
			t.Fatalf("duplicate invite code %q", detail.InviteCode)
		}
		seen[detail.InviteCode] = struct{}{}
	}
}

func TestJoinListByInviteCode(t *testing.T) {
	ctx := context.Background()
	a, _, h := newTestApp(t)
	alice := registerUser(t, a, "Alice", "alice@example.com")
	bob := registerUser(t, a, "Bob", "bob@example.com")

	list, err := a.CreateList(ctx, alice.ID, "Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}

	// Alice's connection is watching the room.
	conn := hub.NewConn(alice.ID)
	h.Register(conn)
	h.Subscribe(conn, list.ID)

	// lowercase input is normalized before lookup
	summary, err := a.JoinList(ctx, bob.ID, "  "+lower(list.InviteCode)+"\n")
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if summary.ID != list.ID || summary.Role != domain.RoleMember {
		t.Fatalf("unexpected summary %+v", summary)
	}

	e := recvEvent(t, conn)
	if e.Kind != hub.EventMemberJoined {
		t.Fatalf("expected member-joined, got %s", e.Kind)
	}
	user, _ := e.Data["user"].(map[string]any)
	if user["id"] != bob.ID {
		t.Fatalf("expected joining user in event, got %v", e.Data)
	}

	// Bob now shows up in the roster.
	detail, err := a.GetList(ctx, alice.ID, list.ID)
	if err != nil {
		t.Fatalf("get list: %v", err)
	}
	if len(detail.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(detail.Members))
	}

	if _, err := a.JoinList(ctx, bob.ID, list.InviteCode); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
	if _, err := a.JoinList(ctx, bob.ID, "ZZZZZZ"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown code, got %v", err)
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if 'A' <= c && c <= 'Z' {
			b[i] = c + 'a' - 'A'
		}
	}
	return string(b)
}

func TestItemRoundTripAndToggle(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestApp(t)
	alice := registerUser(t, a, "Alice", "alice@example.com")
	bob := registerUser(t, a, "Bob", "bob@example.com")
	list, err := a.CreateList(ctx, alice.ID, "Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if _, err := a.JoinList(ctx, bob.ID, list.InviteCode); err != nil {
		t.Fatalf("join: %v", err)
	}

	item, err := a.AddItem(ctx, alice.ID, list.ID, "Milk", 2, "l")
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if item.Quantity != 2 || item.AddedByUser.ID != alice.ID {
		t.Fatalf("unexpected item %+v", item)
	}

	detail, err := a.GetList(ctx, bob.ID, list.ID)
	if err != nil {
		t.Fatalf("get list as member: %v", err)
	}
	if len(detail.Items) != 1 || detail.Items[0].AddedByUser.Name != "Alice" {
		t.Fatalf("expected hydrated item, got %+v", detail.Items)
	}

	toggled, err := a.ToggleItem(ctx, bob.ID, list.ID, item.ID)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if !toggled.Checked || toggled.CheckedBy != bob.ID {
		t.Fatalf("expected checked by bob, got %+v", toggled.Item)
	}
	if toggled.CheckedByUser == nil || toggled.CheckedByUser.ID != bob.ID {
		t.Fatalf("expected hydrated checkedBy user")
	}

	untoggled, err := a.ToggleItem(ctx, bob.ID, list.ID, item.ID)
	if err != nil {
		t.Fatalf("second toggle: %v", err)
	}
	if untoggled.Checked || untoggled.CheckedBy != "" || untoggled.CheckedByUser != nil {
		t.Fatalf("expected original unchecked state, got %+v", untoggled)
	}
}

func TestUpdateItemPartialFields(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestApp(t)
	alice := registerUser(t, a, "Alice", "alice@example.com")
	list, _ := a.CreateList(ctx, alice.ID, "Groceries")
	item, _ := a.AddItem(ctx, alice.ID, list.ID, "Milk", 1, "")

	name := "Oat milk"
	qty := 3
	checked := true
	updated, err := a.UpdateItem(ctx, alice.ID, list.ID, item.ID, ItemUpdate{Name: &name, Quantity: &qty, Checked: &checked})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Oat milk" || updated.Quantity != 3 {
		t.Fatalf("unexpected update result %+v", updated.Item)
	}
	if !updated.Checked || updated.CheckedBy != alice.ID {
		t.Fatalf("expected checked by actor, got %+v", updated.Item)
	}

	badQty := 0
	if _, err := a.UpdateItem(ctx, alice.ID, list.ID, item.ID, ItemUpdate{Quantity: &badQty}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestAccessDeniedForNonMembers(t *testing.T) {
	ctx := context.Background()
	a, _, _ := newTestApp(t)
	alice := registerUser(t, a, "Alice", "alice@example.com")
	mallory := registerUser(t, a, "Mallory", "mallory@example.com")
	list, _ := a.CreateList(ctx, alice.ID, "Groceries")
	item, _ := a.AddItem(ctx, alice.ID, list.ID, "Milk", 1, "")

	if _, err := a.GetList(ctx, mallory.ID, list.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("get: expected ErrAccessDenied, got %v", err)
	}
	if _, err := a.AddItem(ctx, mallory.ID, list.ID, "Eggs", 1, ""); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("add: expected ErrAccessDenied, got %v", err)
	}
	if _, err := a.ToggleItem(ctx, mallory.ID, list.ID, item.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("toggle: expected ErrAccessDenied, got %v", err)
	}
	if err := a.DeleteItem(ctx, mallory.ID, list.ID, item.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("delete item: expected ErrAccessDenied, got %v", err)
	}
	if err := a.DeleteList(ctx, mallory.ID, list.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("delete list: expected ErrAccessDenied, got %v", err)
	}
}

func TestDeleteListOwnerOnlyAndAtomic(t *testing.T) {
	ctx := context.Background()
	a, memStore, _ := newTestApp(t)
	alice := registerUser(t, a, "Alice", "alice@example.com")
	bob := registerUser(t, a, "Bob", "bob@example.com")
	list, _ := a.CreateList(ctx, alice.ID, "Groceries")
	if _, err := a.JoinList(ctx, bob.ID, list.InviteCode); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := a.AddItem(ctx, bob.ID, list.ID, "Milk", 1, ""); err != nil {
		t.Fatalf("add item: %v", err)
	}

	// member but not owner
	if err := a.DeleteList(ctx, bob.ID, list.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected ErrAccessDenied for non-owner, got %v", err)
	}
	if err := a.DeleteList(ctx, alice.ID, list.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	items, err := memStore.ListItems(ctx, list.ID)
	if err != nil || len(items) != 0 {
		t.Fatalf("expected zero items after delete, got %d (%v)", len(items), err)
	}
	if _, ok, _ := memStore.GetMembership(ctx, alice.ID, list.ID); ok {
		t.Fatalf("expected owner membership removed")
	}
	if _, ok, _ := memStore.GetMembership(ctx, bob.ID, list.ID); ok {
		t.Fatalf("expected member membership removed")
	}
	if _, err := a.GetList(ctx, alice.ID, list.ID); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("expected denied access to deleted list, got %v", err)
	}
	lists, err := a.MyLists(ctx, bob.ID)
	if err != nil || len(lists) != 0 {
		t.Fatalf("expected no lists for bob, got %d (%v)", len(lists), err)
	}
}

func TestMutationBroadcastsToRoom(t *testing.T) {
	ctx := context.Background()
	a, _, h := newTestApp(t)
	alice := registerUser(t, a, "Alice", "alice@example.com")
	bob := registerUser(t, a, "Bob", "bob@example.com")
	list, _ := a.CreateList(ctx, alice.ID, "Groceries")
	if _, err := a.JoinList(ctx, bob.ID, list.InviteCode); err != nil {
		t.Fatalf("join: %v", err)
	}

	// Bob's device and Alice's own second device both watch the room.
	bobConn := hub.NewConn(bob.ID)
	aliceConn := hub.NewConn(alice.ID)
	h.Register(bobConn)
	h.Register(aliceConn)
	h.Subscribe(bobConn, list.ID)
	h.Subscribe(aliceConn, list.ID)

	item, err := a.AddItem(ctx, alice.ID, list.ID, "Milk", 2, "")
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	for _, c := range []*hub.Conn{bobConn, aliceConn} {
		e := recvEvent(t, c)
		if e.Kind != hub.EventItemAdded || e.Data["listId"] != list.ID {
			t.Fatalf("unexpected event %+v", e)
		}
	}

	if err := a.DeleteItem(ctx, bob.ID, list.ID, item.ID); err != nil {
		t.Fatalf("delete item: %v", err)
	}
	e := recvEvent(t, bobConn)
	if e.Kind != hub.EventItemDeleted || e.Data["itemId"] != item.ID {
		t.Fatalf("unexpected event %+v", e)
	}
	recvEvent(t, aliceConn)
}

// failingStore wraps a Store and fails item updates.
type failingStore struct {
	store.Store
}

func (f *failingStore) UpdateItem(context.Context, domain.Item) error {
	return errors.New("disk on fire")
}

func TestNoBroadcastOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	memStore := store.NewMemoryStore()
	h := hub.New()
	defer h.Close()
	a, err := New(Config{
		Store:  &failingStore{Store: memStore},
		Hub:    h,
		Tokens: token.NewManager("test-secret", time.Hour),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	alice := registerUser(t, a, "Alice", "alice@example.com")
	list, err := a.CreateList(ctx, alice.ID, "Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	item, err := a.AddItem(ctx, alice.ID, list.ID, "Milk", 1, "")
	if err != nil {
		t.Fatalf("add item: %v", err)
	}

	conn := hub.NewConn(alice.ID)
	h.Register(conn)
	h.Subscribe(conn, list.ID)

	if _, err := a.ToggleItem(ctx, alice.ID, list.ID, item.ID); err == nil {
		t.Fatalf("expected store failure")
	}
	select {
	case payload := <-conn.Send():
		t.Fatalf("no broadcast may follow a failed mutation, got %s", payload)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConcurrentTogglesLeaveValidState(t *testing.T) {
	ctx := context.Background()
	a, memStore, _ := newTestApp(t)
	alice := registerUser(t, a, "Alice", "alice@example.com")
	bob := registerUser(t, a, "Bob", "bob@example.com")
	list, _ := a.CreateList(ctx, alice.ID, "Groceries")
	if _, err := a.JoinList(ctx, bob.ID, list.InviteCode); err != nil {
		t.Fatalf("join: %v", err)
	}

	for i := 0; i < 20; i++ {
		item, err := a.AddItem(ctx, alice.ID, list.ID, "Milk", 1, "")
		if err != nil {
			t.Fatalf("add item: %v", err)
		}
		var wg sync.WaitGroup
		for _, actor := range []string{alice.ID, bob.ID} {
			wg.Add(1)
			go func(actor string) {
				defer wg.Done()
				if _, err := a.ToggleItem(ctx, actor, list.ID, item.ID); err != nil {
					t.Errorf("toggle: %v", err)
				}
			}(actor)
		}
		wg.Wait()

		final, ok, err := memStore.GetItem(ctx, list.ID, item.ID)
		if err != nil || !ok {
			t.Fatalf("get item: ok=%v err=%v", ok, err)
		}
		if final.Checked && final.CheckedBy == "" {
			t.Fatalf("invalid state: checked without checkedBy")
		}
		if !final.Checked && final.CheckedBy != "" {
			t.Fatalf("invalid state: unchecked with checkedBy=%q", final.CheckedBy)
		}
		if final.CheckedBy != "" && final.CheckedBy != alice.ID && final.CheckedBy != bob.ID {
			t.Fatalf("checkedBy must belong to one of the actors, got %q", final.CheckedBy)
		}
	}
}

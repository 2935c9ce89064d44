// Package app is the coordination layer every operation passes
// through: it authorizes the actor against the membership registry,
// applies the mutation through the store facade, and broadcasts the
// resulting event to the list's room once the write is durable.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"cartshare/internal/hub"
	"cartshare/internal/invite"
	"cartshare/internal/membership"
	"cartshare/internal/store"
	"cartshare/internal/token"
	"cartshare/pkg/auth"
	"cartshare/pkg/domain"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL      string
	Store            store.Store // optional; overrides DatabaseURL
	Hub              *hub.Hub
	Tokens           *token.Manager
	InviteCodeLength int
}

// App wires storage, membership, tokens, and the realtime hub.
type App struct {
	store   store.Store
	members *membership.Registry
	hub     *hub.Hub
	tokens  *token.Manager
	invites *invite.Generator
}

// New constructs the application. The hub and token manager must be
// provided; a missing hub is a construction error rather than a panic
// on first broadcast.
func New(cfg Config) (*App, error) {
	if cfg.Hub == nil {
		return nil, fmt.Errorf("hub is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token manager is required")
	}
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	return &App{
		store:   dataStore,
		members: membership.NewRegistry(dataStore),
		hub:     cfg.Hub,
		tokens:  cfg.Tokens,
		invites: invite.NewGenerator(cfg.InviteCodeLength),
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}

// Registry exposes the membership registry to the transport layer,
// which gates room subscriptions on it.
func (a *App) Registry() *membership.Registry {
	return a.members
}

// Register creates a user account and issues a session token.
func (a *App) Register(ctx context.Context, name, email, password string) (domain.User, string, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(strings.ToLower(email))
	if len(name) < 2 || len(name) > 100 {
		return domain.User{}, "", fmt.Errorf("%w: name must be 2-100 characters", ErrValidation)
	}
	if !strings.Contains(email, "@") {
		return domain.User{}, "", fmt.Errorf("%w: invalid email address", ErrValidation)
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.User{}, "", fmt.Errorf("%w: %v", ErrValidation, err)
	}
	exists, err := a.store.HasUserEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailExists
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.User{}, "", err
	}
	now := time.Now().UTC()
	user := domain.User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if err == store.ErrDuplicate {
			return domain.User{}, "", ErrEmailExists
		}
		return domain.User{}, "", fmt.Errorf("create user: %w", err)
	}
	signed, err := a.tokens.Issue(user)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, signed, nil
}

// Login verifies credentials and issues a session token.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("get user: %w", err)
	}
	if !ok || !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	signed, err := a.tokens.Issue(user)
	if err != nil {
		return domain.User{}, "", err
	}
	return user, signed, nil
}

// UserByID resolves an authenticated user id to its account.
func (a *App) UserByID(ctx context.Context, id string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(ctx, id)
	if err != nil {
		return domain.User{}, fmt.Errorf("get user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return user, nil
}

// authorize is the gate in front of every list/item operation. A
// missing membership comes back as ErrAccessDenied, which the HTTP
// layer renders as not-found.
func (a *App) authorize(ctx context.Context, actorID, listID string) (domain.Role, error) {
	role, ok, err := a.members.IsMember(ctx, actorID, listID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrAccessDenied
	}
	return role, nil
}

// broadcast hands a committed mutation's event to the room router. The
// write is already durable at this point, so a delivery problem is
// logged rather than failed back to the caller.
func (a *App) broadcast(listID, kind string, data map[string]any) {
	if err := a.hub.Broadcast(listID, hub.Event{Kind: kind, Data: data}); err != nil {
		slog.Warn("broadcast failed", "list_id", listID, "event", kind, "error", err)
	}
}

package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"cartshare/pkg/domain"
)

// Ensure GormStore implements Store.
var _ Store = (*GormStore)(nil)

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations.
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.AutoMigrate(&UserModel{}, &ListModel{}, &ItemModel{}, &MembershipModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translateErr(err error) error {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrDuplicate
	}
	return err
}

// CreateUser inserts a user row.
func (s *GormStore) CreateUser(ctx context.Context, user domain.User) error {
	model := userToModel(user)
	return translateErr(s.db.WithContext(ctx).Create(&model).Error)
}

// HasUserEmail checks if email exists.
func (s *GormStore) HasUserEmail(ctx context.Context, email string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&UserModel{}).Where("email = ?", email).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// GetUserByEmail looks up a user by email.
func (s *GormStore) GetUserByEmail(ctx context.Context, email string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByID returns a user by ID.
func (s *GormStore) GetUserByID(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUsersByID returns the users for the given IDs, keyed by ID.
// Missing IDs are simply absent from the result.
func (s *GormStore) GetUsersByID(ctx context.Context, ids []string) (map[string]domain.User, error) {
	res := make(map[string]domain.User, len(ids))
	if len(ids) == 0 {
		return res, nil
	}
	var models []UserModel
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&models).Error; err != nil {
		return nil, err
	}
	for _, m := range models {
		res[m.ID] = userFromModel(m)
	}
	return res, nil
}

// CreateList inserts a list row.
func (s *GormStore) CreateList(ctx context.Context, list domain.List) error {
	model := listToModel(list)
	return translateErr(s.db.WithContext(ctx).Create(&model).Error)
}

// CreateListWithOwner inserts the list and the creator's owner
// membership in one transaction.
func (s *GormStore) CreateListWithOwner(ctx context.Context, list domain.List, owner domain.Membership) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		listModel := listToModel(list)
		if err := tx.Create(&listModel).Error; err != nil {
			return err
		}
		ownerModel := membershipToModel(owner)
		return tx.Create(&ownerModel).Error
	})
	return translateErr(err)
}

// GetList returns a list by ID.
func (s *GormStore) GetList(ctx context.Context, id string) (domain.List, bool, error) {
	var model ListModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.List{}, false, nil
		}
		return domain.List{}, false, err
	}
	return listFromModel(model), true, nil
}

// GetListByInviteCode looks up a list by its invite code.
func (s *GormStore) GetListByInviteCode(ctx context.Context, code string) (domain.List, bool, error) {
	var model ListModel
	if err := s.db.WithContext(ctx).Where("invite_code = ?", code).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.List{}, false, nil
		}
		return domain.List{}, false, err
	}
	return listFromModel(model), true, nil
}

// HasInviteCode checks whether a code is already taken.
func (s *GormStore) HasInviteCode(ctx context.Context, code string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ListModel{}).Where("invite_code = ?", code).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteListCascade removes the list's items, memberships, and the list
// itself in one transaction. Partial deletion is never observable.
func (s *GormStore) DeleteListCascade(ctx context.Context, listID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Delete(&ItemModel{}, "list_id = ?", listID).Error; err != nil {
			return err
		}
		if err := tx.Delete(&MembershipModel{}, "list_id = ?", listID).Error; err != nil {
			return err
		}
		return tx.Delete(&ListModel{}, "id = ?", listID).Error
	})
}

// CreateItem inserts an item row.
func (s *GormStore) CreateItem(ctx context.Context, item domain.Item) error {
	model := itemToModel(item)
	return translateErr(s.db.WithContext(ctx).Create(&model).Error)
}

// UpdateItem writes the full item row.
func (s *GormStore) UpdateItem(ctx context.Context, item domain.Item) error {
	model := itemToModel(item)
	// Save writes every column so a cleared CheckedBy is persisted too.
	return s.db.WithContext(ctx).Save(&model).Error
}

// GetItem returns an item scoped to its list.
func (s *GormStore) GetItem(ctx context.Context, listID, itemID string) (domain.Item, bool, error) {
	var model ItemModel
	if err := s.db.WithContext(ctx).Where("id = ? AND list_id = ?", itemID, listID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Item{}, false, nil
		}
		return domain.Item{}, false, err
	}
	return itemFromModel(model), true, nil
}

// ListItems returns a list's items, newest first.
func (s *GormStore) ListItems(ctx context.Context, listID string) ([]domain.Item, error) {
	var models []ItemModel
	if err := s.db.WithContext(ctx).Where("list_id = ?", listID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Item, 0, len(models))
	for _, m := range models {
		res = append(res, itemFromModel(m))
	}
	return res, nil
}

// DeleteItem removes one item scoped to its list.
func (s *GormStore) DeleteItem(ctx context.Context, listID, itemID string) error {
	return s.db.WithContext(ctx).Delete(&ItemModel{}, "id = ? AND list_id = ?", itemID, listID).Error
}

// CreateMembership inserts a membership row. The composite unique index
// on (user_id, list_id) makes concurrent duplicate joins lose with
// ErrDuplicate instead of producing two rows.
func (s *GormStore) CreateMembership(ctx context.Context, m domain.Membership) error {
	model := membershipToModel(m)
	return translateErr(s.db.WithContext(ctx).Create(&model).Error)
}

// GetMembership returns the membership row for a (user, list) pair.
func (s *GormStore) GetMembership(ctx context.Context, userID, listID string) (domain.Membership, bool, error) {
	var model MembershipModel
	if err := s.db.WithContext(ctx).Where("user_id = ? AND list_id = ?", userID, listID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Membership{}, false, nil
		}
		return domain.Membership{}, false, err
	}
	return membershipFromModel(model), true, nil
}

// ListMembershipsByUser returns all memberships of one user.
func (s *GormStore) ListMembershipsByUser(ctx context.Context, userID string) ([]domain.Membership, error) {
	var models []MembershipModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Membership, 0, len(models))
	for _, m := range models {
		res = append(res, membershipFromModel(m))
	}
	return res, nil
}

// ListMembershipsByList returns all memberships of one list.
func (s *GormStore) ListMembershipsByList(ctx context.Context, listID string) ([]domain.Membership, error) {
	var models []MembershipModel
	if err := s.db.WithContext(ctx).Where("list_id = ?", listID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Membership, 0, len(models))
	for _, m := range models {
		res = append(res, membershipFromModel(m))
	}
	return res, nil
}

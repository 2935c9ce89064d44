package store

import (
	"time"

	"cartshare/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string    `gorm:"primaryKey"`
	Name         string    `gorm:"not null"`
	Email        string    `gorm:"uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type ListModel struct {
	ID         string    `gorm:"primaryKey"`
	Name       string    `gorm:"not null"`
	InviteCode string    `gorm:"uniqueIndex;not null"`
	CreatedBy  string    `gorm:"not null;index"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time `gorm:"not null"`
}

func (ListModel) TableName() string { return "lists" }

type ItemModel struct {
	ID        string `gorm:"primaryKey"`
	ListID    string `gorm:"not null;index"`
	Name      string `gorm:"not null"`
	Quantity  int    `gorm:"not null"`
	Unit      string
	Checked   bool      `gorm:"not null"`
	AddedBy   string    `gorm:"not null"`
	CheckedBy string
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (ItemModel) TableName() string { return "items" }

type MembershipModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_membership_pair"`
	ListID    string    `gorm:"not null;uniqueIndex:idx_membership_pair;index"`
	Role      string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (MembershipModel) TableName() string { return "list_members" }

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Name:         m.Name,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func listToModel(l domain.List) ListModel {
	return ListModel{
		ID:         l.ID,
		Name:       l.Name,
		InviteCode: l.InviteCode,
		CreatedBy:  l.CreatedBy,
		CreatedAt:  l.CreatedAt,
		UpdatedAt:  l.UpdatedAt,
	}
}

func listFromModel(m ListModel) domain.List {
	return domain.List{
		ID:         m.ID,
		Name:       m.Name,
		InviteCode: m.InviteCode,
		CreatedBy:  m.CreatedBy,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func itemToModel(i domain.Item) ItemModel {
	return ItemModel{
		ID:        i.ID,
		ListID:    i.ListID,
		Name:      i.Name,
		Quantity:  i.Quantity,
		Unit:      i.Unit,
		Checked:   i.Checked,
		AddedBy:   i.AddedBy,
		CheckedBy: i.CheckedBy,
		CreatedAt: i.CreatedAt,
		UpdatedAt: i.UpdatedAt,
	}
}

func itemFromModel(m ItemModel) domain.Item {
	return domain.Item{
		ID:        m.ID,
		ListID:    m.ListID,
		Name:      m.Name,
		Quantity:  m.Quantity,
		Unit:      m.Unit,
		Checked:   m.Checked,
		AddedBy:   m.AddedBy,
		CheckedBy: m.CheckedBy,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

func membershipToModel(m domain.Membership) MembershipModel {
	return MembershipModel{
		ID:        m.ID,
		UserID:    m.UserID,
		ListID:    m.ListID,
		Role:      string(m.Role),
		CreatedAt: m.CreatedAt,
	}
}

func membershipFromModel(m MembershipModel) domain.Membership {
	return domain.Membership{
		ID:        m.ID,
		UserID:    m.UserID,
		ListID:    m.ListID,
		Role:      domain.Role(m.Role),
		CreatedAt: m.CreatedAt,
	}
}

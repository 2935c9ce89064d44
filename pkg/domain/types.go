package domain

import "time"

// Role is the level of access a user holds on a list.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleMember Role = "member"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UserRef is the display projection of a user embedded in hydrated
// responses. Email is populated for creators and members, not for
// item-level references.
type UserRef struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
}

func (u User) Ref() UserRef {
	return UserRef{ID: u.ID, Name: u.Name}
}

func (u User) RefWithEmail() UserRef {
	return UserRef{ID: u.ID, Name: u.Name, Email: u.Email}
}

type List struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	InviteCode string    `json:"inviteCode"`
	CreatedBy  string    `json:"createdBy"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Membership grants one user one role on one list. Exactly one row
// exists per (user, list) pair.
type Membership struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ListID    string    `json:"listId"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"createdAt"`
}

type Item struct {
	ID       string `json:"id"`
	ListID   string `json:"listId"`
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Unit     string `json:"unit,omitempty"`
	Checked  bool   `json:"checked"`
	// AddedBy is the user who created the item. CheckedBy is the user
	// who performed the most recent check transition; empty whenever
	// Checked is false.
	AddedBy   string    `json:"addedBy"`
	CheckedBy string    `json:"checkedBy,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// ItemDetail is an item hydrated with its display users.
type ItemDetail struct {
	Item
	AddedByUser   UserRef  `json:"addedByUser"`
	CheckedByUser *UserRef `json:"checkedByUser,omitempty"`
}

// ListSummary is one entry of the "my lists" view.
type ListSummary struct {
	List
	Role         Role    `json:"role"`
	Creator      UserRef `json:"creator"`
	ItemCount    int     `json:"itemCount"`
	CheckedCount int     `json:"checkedCount"`
}

// Member is one entry of a list's member roster.
type Member struct {
	User     UserRef   `json:"user"`
	Role     Role      `json:"role"`
	JoinedAt time.Time `json:"joinedAt"`
}

// ListDetail is a list hydrated with creator, items, and members.
type ListDetail struct {
	List
	Creator UserRef      `json:"creator"`
	Items   []ItemDetail `json:"items"`
	Members []Member     `json:"members"`
	Role    Role         `json:"role"`
}

package entity

import (
	"time"

	"github.com/google/uuid"
)

// Profile represents a profile for data transfer between layers.
type Profile struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an account in the auth subsystem.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"full_name"`
	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

func (u *User) Confirmed() bool {
	return u.ConfirmedAt != nil
}

package auth

import (
	"time"

	"agencyflow/queue"
)

// User is the domain representation of an authenticated operator.
// It mirrors the users table and should not include JSON annotations so it
// can be reused by different presentation layers.
type User struct {
	ID           string
	Email        string
	FullName     string
	PasswordHash string
	Phone        *string
	AgencyID     *string
	Role         queue.Role
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Actor converts the user into the identity consumed by the queue services.
func (u User) Actor() queue.Actor {
	return queue.Actor{ID: u.ID, Role: u.Role}
}

// RegisterRequest contains user registration data supplied by callers.
type RegisterRequest struct {
	Email    string     `json:"email"`
	Password string     `json:"password"`
	FullName string     `json:"full_name"`
	AgencyID string     `json:"agency_id"`
	Role     queue.Role `json:"role"`
}

// LoginRequest contains user login credentials.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

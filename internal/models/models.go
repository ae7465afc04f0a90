package models

import "time"

// Reservation is a single-day bookable time slot.
type Reservation struct {
	ID        int64     `json:"id"`
	Location  string    `json:"location"`
	StartTime string    `json:"start_time"` // HH:MM:SS
	EndTime   string    `json:"end_time"`   // HH:MM:SS
	Reserved  bool      `json:"reserved"`
	ImageName string    `json:"image_name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is a registered account able to log in.
type User struct {
	ID           int64     `json:"id"`
	UserName     string    `json:"user_name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"` // admin, user
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session binds a cookie token to a logged-in user.
type Session struct {
	Token     string    `json:"token"`
	UserID    int64     `json:"user_id"`
	UserName  string    `json:"user_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

// Principal is the resolved identity of a caller. The zero value is an
// anonymous guest.
type Principal struct {
	UserID   int64  `json:"user_id,omitempty"`
	UserName string `json:"user_name,omitempty"`
	Role     string `json:"role"`
}

// IsAdmin reports whether the principal carries the admin role.
func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

// IsAnonymous reports whether no session backed this principal.
func (p Principal) IsAnonymous() bool { return p.Role == "" || p.Role == RoleGuest }

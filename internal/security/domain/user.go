package domain

import "time"

// Role is the platform role carried in token claims.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// User is the minimal account record the security core needs: credential
// lookup, role resolution for token claims, and the verified flag flipped by
// the registration OTP flow. Profile data lives with the rest of the
// platform.
type User struct {
	ID           string
	Identifier   string // email or phone used to sign in and receive codes
	Username     string
	PasswordHash string
	Role         Role
	Verified     bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

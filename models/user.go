package models

import (
	"strings"
	"time"
)

type UserRole string

const (
	RoleUser  UserRole = "USER"
	RoleAdmin UserRole = "ADMIN"
)

type User struct {
	ID        string    `json:"id" gorm:"primaryKey;size:191"`
	Name      string    `json:"name" gorm:"not null;size:255"`
	Handle    string    `json:"handle" gorm:"uniqueIndex;not null;size:50"` // @username
	Email     string    `json:"email" gorm:"uniqueIndex;not null;size:255"`
	Password  string    `json:"-" gorm:"not null;size:255"`
	Role      UserRole  `json:"role" gorm:"not null;size:20;default:USER"`
	Avatar    *string   `json:"avatar" gorm:"size:500"`
	Bio       string    `json:"bio" gorm:"size:500"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// GenerateHandleFromName creates a handle candidate from the user's name
func GenerateHandleFromName(name string) string {
	handle := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
	handle = strings.ReplaceAll(handle, ".", "")
	handle = strings.ReplaceAll(handle, "-", "_")
	if len(handle) > 40 {
		handle = handle[:40]
	}
	return handle
}

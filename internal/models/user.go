package models

import "time"

const (
	RoleAdmin     = "admin"
	RoleAppraiser = "appraiser"
)

type User struct {
	ID             uint       `json:"id" gorm:"primaryKey"`
	Email          string     `json:"email" gorm:"uniqueIndex;not null"`
	Username       string     `json:"username" gorm:"uniqueIndex;not null"`
	FullName       string     `json:"full_name"`
	Role           string     `json:"role"`
	IsActive       bool       `json:"is_active"`
	HashedPassword string     `json:"-"`
	CreatedAt      time.Time  `json:"created_at"`
	LastLogin      *time.Time `json:"last_login,omitempty"`
}

func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

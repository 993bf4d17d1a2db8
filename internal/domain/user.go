package domain

import "time"

// User is an authenticated principal. Only its ID is recorded on query
// history; the role gates write access in the HTTP layer.
type User struct {
	ID           string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name         string    `json:"name"       gorm:"type:varchar(255);not null"`
	Email        string    `json:"email"      gorm:"type:varchar(255);not null;uniqueIndex:ux_users_email"`
	PasswordHash string    `json:"-"          gorm:"type:varchar(255);not null"`
	Role         Role      `json:"role"       gorm:"type:varchar(16);not null;default:'Support'"`
	CreatedAt    time.Time `json:"created_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

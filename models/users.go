package models

import (
	"time"
)

type Role string

const (
	RoleCoach  Role = "coach"
	RoleClient Role = "client"
)

func (r Role) Valid() bool {
	return r == RoleCoach || r == RoleClient
}

// Profile - пользователь приложения (тренер или клиент)
type Profile struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	Nickname    string    `gorm:"size:60;uniqueIndex" json:"nickname"`
	DisplayName string    `gorm:"size:255" json:"display_name"`
	Role        Role      `gorm:"size:16;not null" json:"role"`
	Password    string    `gorm:"size:255" json:"-"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Profile) TableName() string {
	return "profiles"
}

type UserToken struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"size:36;index" json:"user_id"`
	Token     string    `gorm:"size:255;uniqueIndex" json:"token"`
	CreatedAt time.Time `json:"created_at"`
}

func (UserToken) TableName() string {
	return "user_tokens"
}

type Migration struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name      string    `gorm:"size:60;uniqueIndex" json:"name"`
	AppliedAt time.Time `gorm:"autoCreateTime" json:"applied_at"`
}

func (Migration) TableName() string {
	return "migrations"
}

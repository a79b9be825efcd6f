package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Role string

const (
	RoleSuperAdmin Role = "super_admin"
	RoleAdmin      Role = "admin"
	RoleDispatcher Role = "dispatcher"
	RoleTechnician Role = "technician"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSuperAdmin, RoleAdmin, RoleDispatcher, RoleTechnician:
		return true
	}
	return false
}

type User struct {
	ID        snowflake.ID `gorm:"primaryKey" json:"id"`
	Name      string       `gorm:"type:varchar(128);not null" json:"name"`
	Email     string       `gorm:"type:varchar(255);not null;uniqueIndex" json:"email"`
	Role      Role         `gorm:"type:varchar(32);not null;index" json:"role"`
	Active    bool         `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (User) TableName() string { return "users" }

func (u User) IsTechnician() bool { return u.Role == RoleTechnician }

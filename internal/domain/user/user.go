package user

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TierFree       = "free"
	TierPro        = "pro"
	TierEnterprise = "enterprise"
	TierAdmin      = "admin"
)

type User struct {
	ID       uuid.UUID `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email    string    `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Password string    `gorm:"not null;column:password" json:"-"`
	PenName  string    `gorm:"column:pen_name" json:"pen_name"`

	// Tier drives rate limiting and admin bypass. One of the Tier* constants.
	Tier string `gorm:"column:tier;not null;default:'free';index" json:"tier"`

	CreatedAt time.Time      `gorm:"not null;default:now()" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;default:now()" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (User) TableName() string { return "user" }

func (u *User) IsAdmin() bool {
	return u != nil && u.Tier == TierAdmin
}

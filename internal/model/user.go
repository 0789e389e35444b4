package model

import (
	"time"
)

// User is an account plus the counters maintained by the stats aggregator.
type User struct {
	ID           string `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Email        string `gorm:"uniqueIndex;not null;type:varchar(255)" json:"email"`
	PasswordHash string `gorm:"not null;type:varchar(255)" json:"-"`
	Name         string `gorm:"not null;type:varchar(255)" json:"name"`
	Hostel       string `gorm:"type:varchar(255)" json:"hostel"`
	Phone        string `gorm:"type:varchar(32)" json:"phone"`

	PoolsCreated   int `gorm:"not null;default:0" json:"poolsCreated"`
	PoolsJoined    int `gorm:"not null;default:0" json:"poolsJoined"`
	PoolsCompleted int `gorm:"not null;default:0" json:"poolsCompleted"`
	MoneySaved     int `gorm:"not null;default:0" json:"moneySaved"`

	CreatedAt time.Time `gorm:"not null" json:"createdAt"`
	UpdatedAt time.Time `gorm:"not null" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}

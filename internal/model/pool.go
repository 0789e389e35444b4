package model

import "time"

type PoolStatus string

const (
	PoolStatusActive    PoolStatus = "active"
	PoolStatusCompleted PoolStatus = "completed"
	PoolStatusExpired   PoolStatus = "expired"
)

// Terminal reports whether no further membership change is allowed.
func (s PoolStatus) Terminal() bool {
	return s == PoolStatusCompleted || s == PoolStatusExpired
}

// Platforms a pool can be ordered from.
const (
	PlatformBlinkit   = "blinkit"
	PlatformZepto     = "zepto"
	PlatformInstamart = "instamart"
	PlatformFlipkart  = "flipkart"
)

var Platforms = []string{PlatformBlinkit, PlatformZepto, PlatformInstamart, PlatformFlipkart}

func IsPlatform(p string) bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// Pool is a time-boxed group order. ExpiresAt is fixed at creation.
type Pool struct {
	ID            string     `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Platform      string     `gorm:"not null;type:varchar(32)" json:"platform"`
	Items         []string   `gorm:"serializer:json;type:text;not null" json:"items"`
	TimeLimit     int        `gorm:"not null" json:"timeLimit"`
	MaxUsers      int        `gorm:"not null" json:"maxUsers"`
	Notes         string     `gorm:"type:text" json:"notes"`
	Location      string     `gorm:"type:varchar(255)" json:"location"`
	CreatedBy     string     `gorm:"index;not null;type:varchar(64)" json:"createdBy"`
	CreatorName   string     `gorm:"type:varchar(255)" json:"creatorName"`
	CreatorHostel string     `gorm:"type:varchar(255)" json:"creatorHostel"`
	MemberCount   int        `gorm:"not null;default:0" json:"memberCount"`
	Status        PoolStatus `gorm:"index:idx_pools_status_expires,priority:1;not null;type:varchar(16)" json:"status"`
	EstimatedSave int        `gorm:"not null;default:0" json:"estimatedSave"`

	CreatedAt    time.Time  `gorm:"index;not null" json:"createdAt"`
	ExpiresAt    time.Time  `gorm:"index:idx_pools_status_expires,priority:2;not null" json:"expiresAt"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	ExpiredAt    *time.Time `json:"expiredAt,omitempty"`
	LastActivity *time.Time `json:"lastActivity,omitempty"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updatedAt"`
}

func (Pool) TableName() string {
	return "pools"
}

// IsFull reports whether another member would exceed MaxUsers.
func (p *Pool) IsFull() bool {
	return p.MemberCount >= p.MaxUsers
}

// PastDeadline reports whether the deadline has passed at now.
func (p *Pool) PastDeadline(now time.Time) bool {
	return !now.Before(p.ExpiresAt)
}

// PoolMember rows for a pool are its joined users.
type PoolMember struct {
	ID       uint      `gorm:"primaryKey" json:"-"`
	PoolID   string    `gorm:"uniqueIndex:idx_pool_members_pool_user,priority:1;not null;type:varchar(64)" json:"poolId"`
	UserID   string    `gorm:"uniqueIndex:idx_pool_members_pool_user,priority:2;index;not null;type:varchar(64)" json:"userId"`
	JoinedAt time.Time `gorm:"not null" json:"joinedAt"`
}

func (PoolMember) TableName() string {
	return "pool_members"
}

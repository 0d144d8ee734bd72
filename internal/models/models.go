package models

import (
	"time"
)

type AccessLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	RequestID string    `gorm:"type:varchar(36);index"`
	Method    string    `gorm:"type:varchar(10);not null"`
	Path      string    `gorm:"type:text;not null"`
	Status    int       `gorm:"not null;index"`
	Duration  time.Duration
	ClientIP  string `gorm:"type:varchar(45);not null"`
	UserAgent string `gorm:"type:text"`
	BytesSent int    `gorm:"not null;default:0"`
}

// RenderCacheEntry is the metadata row for a render payload stored in S3.
type RenderCacheEntry struct {
	Key        string    `gorm:"primaryKey;type:varchar(512);not null"`
	StoredAt   time.Time `gorm:"index;not null"`
	ExpiresAt  time.Time `gorm:"index;not null"`
	LastAccess time.Time `gorm:"index;not null"`
	SizeBytes  int64     `gorm:"not null;default:-1"`
}

// ResolutionLog records one resolver verdict for later inspection.
type ResolutionLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"index;not null"`
	Kind      string    `gorm:"type:varchar(10);not null;index"`
	Value     string    `gorm:"type:varchar(255);not null;index"`
	Resolved  bool      `gorm:"not null"`
	Source    string    `gorm:"type:varchar(20);not null"`
	UID       string    `gorm:"type:varchar(255)"`
	Evidence  string    `gorm:"type:text"`
}

func (AccessLog) TableName() string {
	return "access_logs"
}

func (RenderCacheEntry) TableName() string {
	return "render_cache"
}

func (ResolutionLog) TableName() string {
	return "resolution_logs"
}

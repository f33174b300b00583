package model

import "time"

// APIToken is one bearer token for the read-only HTTP surface. Only
// the salted hash of the secret is persisted; the clear secret is
// printed exactly once, at mint time.
type APIToken struct {
	ID         string `gorm:"primaryKey"`
	Name       string `gorm:"uniqueIndex;not null"`
	Scope      string `gorm:"not null"` // read, write, admin
	Salt       string `gorm:"not null"`
	SecretHash string `gorm:"not null"`
	Revoked    bool   `gorm:"not null;default:false"`
	LastUsedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

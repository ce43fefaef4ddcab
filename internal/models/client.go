// Package models defines GORM data models for miniprobe.
package models

import "time"

// Client is a registered probe owner. The raw token is never stored: TokenIdx
// narrows the candidate rows and TokenHash is verified against the presented token.
type Client struct {
	ID        int64     `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"not null" json:"name"`
	TokenIdx  uint32    `gorm:"index;not null" json:"-"`
	TokenHash string    `gorm:"uniqueIndex;not null" json:"-"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`

	// Sessions outlive their client: removal nulls sessions.client_id.
	Sessions []Session `gorm:"foreignKey:ClientID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL" json:"-"`
}

func (Client) TableName() string { return "clients" }

package models

import "time"

// BioMaxLength is the longest bio accepted, counted in characters.
const BioMaxLength = 500

// AvatarURLMaxBytes bounds the avatar reference, stored as TEXT.
const AvatarURLMaxBytes = TextMaxBytes

// Profile is the one-to-one extension of a user. Reputation is only written by the reaction engine.
type Profile struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;uniqueIndex" json:"user_id"`
	AvatarURL  string    `gorm:"type:text" json:"avatar_url"`
	Bio        string    `gorm:"size:500;not null;default:''" json:"bio"`
	Reputation int       `gorm:"not null;default:0" json:"reputation"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

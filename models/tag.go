package models

import "time"

// TagNameMaxLength is the longest tag name accepted, counted in characters.
const TagNameMaxLength = 64

// Tag is a unique label attached to posts.
type Tag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Name      string    `gorm:"size:64;not null;uniqueIndex" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	PostTags  []PostTag `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}

// PostTag links a post to a tag. The composite primary key keeps links unique.
type PostTag struct {
	PostID    uint      `gorm:"primaryKey;autoIncrement:false" json:"post_id"`
	TagID     uint      `gorm:"primaryKey;autoIncrement:false;index" json:"tag_id"`
	CreatedAt time.Time `json:"created_at"`
}

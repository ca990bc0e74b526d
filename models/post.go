package models

import "time"

// Column limits checked before any write. Titles are counted in characters, text bodies in bytes
// because MySQL TEXT holds 65535 bytes.
const (
	PostTitleMaxLength = 255
	TextMaxBytes       = 65535
)

// Post represents an article created by a user.
type Post struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	Content   string    `gorm:"type:text;not null" json:"content"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	User      User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	Comments  []Comment `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
	PostTags  []PostTag `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}

// DeletedPost keeps an audit row for every removed post.
type DeletedPost struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PostID    uint      `gorm:"index;not null" json:"post_id"`
	UserID    uint      `gorm:"index;not null" json:"user_id"`
	Title     string    `gorm:"size:255;not null" json:"title"`
	DeletedBy uint      `gorm:"not null" json:"deleted_by"`
	DeletedAt time.Time `gorm:"index;not null" json:"deleted_at"`
}

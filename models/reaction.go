package models

import "time"

// Target kinds a reaction can point at.
const (
	TargetPost    = "post"
	TargetComment = "comment"
)

// Reaction kinds.
const (
	ReactionLike    = "like"
	ReactionLove    = "love"
	ReactionDislike = "dislike"
)

// Reaction is a user's single live reaction on a post or comment.
// TargetKind/TargetID is polymorphic, so the target is validated by the engine rather than a foreign key.
type Reaction struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_reaction_user_target,priority:1" json:"user_id"`
	TargetKind string    `gorm:"size:16;not null;uniqueIndex:idx_reaction_user_target,priority:2;index:idx_reaction_target,priority:1" json:"target_kind"`
	TargetID   uint      `gorm:"not null;uniqueIndex:idx_reaction_user_target,priority:3;index:idx_reaction_target,priority:2" json:"target_id"`
	Kind       string    `gorm:"size:16;not null" json:"kind"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	User       User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;" json:"-"`
}

// All returns every model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Profile{},
		&Post{},
		&Tag{},
		&PostTag{},
		&Comment{},
		&Reaction{},
		&DeletedPost{},
	}
}

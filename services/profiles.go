package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/cppla/reverence/models"
)

// ProfileView is a profile together with its owner's username.
type ProfileView struct {
	UserID     uint      `json:"user_id"`
	Username   string    `json:"username"`
	AvatarURL  string    `json:"avatar_url"`
	Bio        string    `json:"bio"`
	Reputation int       `json:"reputation"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ProfileUpdate carries the editable profile fields; nil fields keep their value.
type ProfileUpdate struct {
	AvatarURL *string
	Bio       *string
}

// ProfileService reads and edits profiles. Reputation is read-only here.
type ProfileService struct {
	db    *gorm.DB
	retry RetryPolicy
}

// NewProfileService creates a ProfileService.
func NewProfileService(db *gorm.DB, retry RetryPolicy) *ProfileService {
	return &ProfileService{db: db, retry: retry}
}

// Get returns the user's profile, creating an empty one on first access.
func (s *ProfileService) Get(ctx context.Context, userID uint) (*ProfileView, error) {
	db := s.db.WithContext(ctx)
	var u models.User
	if err := db.Select("id", "username").Take(&u, userID).Error; err != nil {
		return nil, notFoundOr(err, "user", userID)
	}
	if err := ensureProfile(db, userID); err != nil {
		return nil, err
	}
	var p models.Profile
	if err := db.Where("user_id = ?", userID).Take(&p).Error; err != nil {
		return nil, err
	}
	return profileView(u, p), nil
}

// Update edits avatar and bio. A bio longer than models.BioMaxLength characters is rejected before any write.
func (s *ProfileService) Update(ctx context.Context, userID uint, upd ProfileUpdate) (*ProfileView, error) {
	changes := map[string]interface{}{}
	if upd.Bio != nil {
		bio := strings.TrimSpace(*upd.Bio)
		if n := utf8.RuneCountInString(bio); n > models.BioMaxLength {
			return nil, NewValidationError("bio is %d characters, the limit is %d", n, models.BioMaxLength)
		}
		changes["bio"] = bio
	}
	if upd.AvatarURL != nil {
		avatar := strings.TrimSpace(*upd.AvatarURL)
		if len(avatar) > models.AvatarURLMaxBytes {
			return nil, NewValidationError("avatar reference is %d bytes, the limit is %d", len(avatar), models.AvatarURLMaxBytes)
		}
		changes["avatar_url"] = avatar
	}

	err := transact(ctx, s.db, s.retry, "update_profile", func(tx *gorm.DB) error {
		if err := requireUser(tx, userID); err != nil {
			return err
		}
		if err := ensureProfile(tx, userID); err != nil {
			return err
		}
		var p models.Profile
		if err := forUpdate(tx).Where("user_id = ?", userID).Take(&p).Error; err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}
		changes["updated_at"] = time.Now()
		return tx.Model(&models.Profile{}).Where("id = ?", p.ID).Updates(changes).Error
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, userID)
}

func profileView(u models.User, p models.Profile) *ProfileView {
	return &ProfileView{
		UserID:     u.ID,
		Username:   u.Username,
		AvatarURL:  p.AvatarURL,
		Bio:        p.Bio,
		Reputation: p.Reputation,
		CreatedAt:  p.CreatedAt,
		UpdatedAt:  p.UpdatedAt,
	}
}

package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/cppla/reverence/models"
	"github.com/cppla/reverence/utils"
)

// ErrInvalidCredentials is returned by Authenticate for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.New("invalid username or password")

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)

// AccountUpdate carries the account fields to change; nil fields keep their value.
type AccountUpdate struct {
	Username *string
	Email    *string
	Password *string
}

// AccountService registers and authenticates users.
type AccountService struct {
	db    *gorm.DB
	retry RetryPolicy
}

// NewAccountService creates an AccountService.
func NewAccountService(db *gorm.DB, retry RetryPolicy) *AccountService {
	return &AccountService{db: db, retry: retry}
}

// Register creates a user together with an empty profile.
func (s *AccountService) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	if err := validateEmail(email); err != nil {
		return nil, err
	}
	if err := validatePassword(password); err != nil {
		return nil, err
	}
	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := models.User{Username: username, Email: email, PasswordHash: hash}
	err = transact(ctx, s.db, s.retry, "register", func(tx *gorm.DB) error {
		if err := ensureAvailable(tx, 0, &username, &email); err != nil {
			return err
		}
		user.ID = 0
		if err := tx.Create(&user).Error; err != nil {
			if isUniqueViolation(err) {
				return NewConflictError("username or email already registered")
			}
			return err
		}
		return ensureProfile(tx, user.ID)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Authenticate checks a username and password pair.
func (s *AccountService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	err := s.db.WithContext(ctx).Where("username = ?", strings.TrimSpace(username)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !utils.CheckPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return &user, nil
}

// GetUser returns a user by id.
func (s *AccountService) GetUser(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Take(&user, id).Error; err != nil {
		return nil, notFoundOr(err, "user", id)
	}
	return &user, nil
}

// UpdateAccount changes username, email or password. Username and email stay unique.
func (s *AccountService) UpdateAccount(ctx context.Context, userID uint, upd AccountUpdate) (*models.User, error) {
	changes := map[string]interface{}{}
	if upd.Username != nil {
		name := strings.TrimSpace(*upd.Username)
		if err := validateUsername(name); err != nil {
			return nil, err
		}
		upd.Username = &name
		changes["username"] = name
	}
	if upd.Email != nil {
		email := strings.ToLower(strings.TrimSpace(*upd.Email))
		if err := validateEmail(email); err != nil {
			return nil, err
		}
		upd.Email = &email
		changes["email"] = email
	}
	if upd.Password != nil {
		if err := validatePassword(*upd.Password); err != nil {
			return nil, err
		}
		hash, err := utils.HashPassword(*upd.Password)
		if err != nil {
			return nil, err
		}
		changes["password_hash"] = hash
	}

	err := transact(ctx, s.db, s.retry, "update_account", func(tx *gorm.DB) error {
		var u models.User
		if err := forUpdate(tx).Select("id").Take(&u, userID).Error; err != nil {
			return notFoundOr(err, "user", userID)
		}
		if len(changes) == 0 {
			return nil
		}
		if err := ensureAvailable(tx, userID, upd.Username, upd.Email); err != nil {
			return err
		}
		changes["updated_at"] = time.Now()
		if err := tx.Model(&models.User{}).Where("id = ?", userID).Updates(changes).Error; err != nil {
			if isUniqueViolation(err) {
				return NewConflictError("username or email already registered")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetUser(ctx, userID)
}

// DeleteUser removes an account with its profile, posts, comments and reactions in one transaction.
// Reputation the user gave away is taken back, and so is reputation other users earned on content that
// disappears with the account (comments under the user's posts, replies under the user's comments).
// Each removed post gets an audit row attributed to actorID.
func (s *AccountService) DeleteUser(ctx context.Context, actorID, userID uint) error {
	return transact(ctx, s.db, s.retry, "delete_user", func(tx *gorm.DB) error {
		var u models.User
		if err := forUpdate(tx).Select("id").Take(&u, userID).Error; err != nil {
			return notFoundOr(err, "user", userID)
		}

		var posts []models.Post
		if err := forUpdate(tx).Select("id", "user_id", "title").Where("user_id = ?", userID).
			Order("id ASC").Find(&posts).Error; err != nil {
			return err
		}
		postIDs := make([]uint, 0, len(posts))
		owned := make(map[uint]bool, len(posts))
		for _, p := range posts {
			postIDs = append(postIDs, p.ID)
			owned[p.ID] = true
		}

		commentIDs, err := commentsLeavingWith(tx, userID, postIDs, owned)
		if err != nil {
			return err
		}
		if err := settleReactions(tx, postIDs, commentIDs); err != nil {
			return err
		}
		if err := settleGivenReactions(tx, userID); err != nil {
			return err
		}

		now := time.Now()
		for _, p := range posts {
			audit := models.DeletedPost{PostID: p.ID, UserID: userID, Title: p.Title, DeletedBy: actorID, DeletedAt: now}
			if err := tx.Create(&audit).Error; err != nil {
				return err
			}
		}
		if len(commentIDs) > 0 {
			if err := tx.Where("id IN ?", commentIDs).Delete(&models.Comment{}).Error; err != nil {
				return err
			}
		}
		if len(postIDs) > 0 {
			if err := tx.Where("post_id IN ?", postIDs).Delete(&models.PostTag{}).Error; err != nil {
				return err
			}
			if err := tx.Where("id IN ?", postIDs).Delete(&models.Post{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Profile{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, userID).Error
	})
}

// commentsLeavingWith collects every comment removed together with userID: all comments under the
// user's posts, plus the user's comments elsewhere with their reply subtrees. Foreign posts are locked
// in ascending id order before their comments are read.
func commentsLeavingWith(tx *gorm.DB, userID uint, postIDs []uint, owned map[uint]bool) ([]uint, error) {
	var out []uint
	if len(postIDs) > 0 {
		if err := tx.Model(&models.Comment{}).Where("post_id IN ?", postIDs).Pluck("id", &out).Error; err != nil {
			return nil, err
		}
	}

	var mine []models.Comment
	if err := tx.Select("id", "post_id").Where("user_id = ?", userID).Order("post_id ASC, id ASC").
		Find(&mine).Error; err != nil {
		return nil, err
	}
	seen := make(map[uint]bool, len(out))
	for _, id := range out {
		seen[id] = true
	}
	locked := map[uint]bool{}
	for _, c := range mine {
		if owned[c.PostID] || seen[c.ID] {
			continue
		}
		if !locked[c.PostID] {
			var p models.Post
			if err := forUpdate(tx).Select("id").Take(&p, c.PostID).Error; err != nil {
				return nil, err
			}
			locked[c.PostID] = true
		}
		subtree, err := commentSubtree(tx, c.PostID, c.ID)
		if err != nil {
			return nil, err
		}
		for _, id := range subtree {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// ensureAvailable rejects a username or email held by a user other than self.
func ensureAvailable(tx *gorm.DB, self uint, username, email *string) error {
	if username != nil {
		var n int64
		if err := tx.Model(&models.User{}).Where("username = ? AND id <> ?", *username, self).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return NewConflictError("username already registered")
		}
	}
	if email != nil {
		var n int64
		if err := tx.Model(&models.User{}).Where("email = ? AND id <> ?", *email, self).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return NewConflictError("email already registered")
		}
	}
	return nil
}

func validateUsername(name string) error {
	if !usernamePattern.MatchString(name) {
		return NewValidationError("username must be 3-32 letters, digits, '-' or '_'")
	}
	return nil
}

func validateEmail(email string) error {
	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 || len(email) > 255 {
		return NewValidationError("invalid email address")
	}
	return nil
}

func validatePassword(password string) error {
	if n := utf8.RuneCountInString(password); n < 6 || len(password) > 72 {
		return NewValidationError("password must be 6-72 characters")
	}
	return nil
}

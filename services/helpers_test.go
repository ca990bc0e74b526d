package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/cppla/reverence/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?_foreign_keys=on"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// every connection to :memory: is its own database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func testRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}
}

func createUser(t *testing.T, db *gorm.DB, name string) models.User {
	t.Helper()
	u := models.User{Username: name, Email: name + "@example.com", PasswordHash: "x"}
	require.NoError(t, db.Create(&u).Error)
	return u
}

func createPost(t *testing.T, db *gorm.DB, author models.User, title string) models.Post {
	t.Helper()
	p := models.Post{UserID: author.ID, Title: title, Content: "body of " + title}
	require.NoError(t, db.Create(&p).Error)
	return p
}

func createComment(t *testing.T, db *gorm.DB, post models.Post, author models.User, parent *models.Comment) models.Comment {
	t.Helper()
	c := models.Comment{PostID: post.ID, UserID: author.ID, Content: fmt.Sprintf("reply by %s", author.Username)}
	if parent != nil {
		c.ParentID = &parent.ID
	}
	require.NoError(t, db.Create(&c).Error)
	return c
}

// reputationOf reads the stored counter; a missing profile counts as zero.
func reputationOf(t *testing.T, db *gorm.DB, userID uint) int {
	t.Helper()
	var rep []int
	require.NoError(t, db.Model(&models.Profile{}).Where("user_id = ?", userID).Pluck("reputation", &rep).Error)
	if len(rep) == 0 {
		return 0
	}
	return rep[0]
}

// expectedReputation recomputes a user's reputation from the live reaction rows.
func expectedReputation(t *testing.T, db *gorm.DB, userID uint) int {
	t.Helper()
	var reactions []models.Reaction
	require.NoError(t, db.Find(&reactions).Error)
	total := 0
	for _, r := range reactions {
		var owner uint
		if r.TargetKind == models.TargetPost {
			var p models.Post
			require.NoError(t, db.Take(&p, r.TargetID).Error)
			owner = p.UserID
		} else {
			var c models.Comment
			require.NoError(t, db.Take(&c, r.TargetID).Error)
			owner = c.UserID
		}
		if owner == userID && r.UserID != userID {
			total += Weight(r.Kind)
		}
	}
	return total
}

func ptr[T any](v T) *T { return &v }

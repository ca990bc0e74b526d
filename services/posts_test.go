package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/reverence/models"
)

func TestCreatePost_WithTags(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPostService(db, testRetry())
	ctx := context.Background()
	a := createUser(t, db, "alice")

	post, err := svc.CreatePost(ctx, a.ID, " Hello ", "world", []string{"go", " sql ", "go"})
	require.NoError(t, err)
	assert.Equal(t, "Hello", post.Title)
	assert.Equal(t, []string{"go", "sql"}, post.Tags)
	assert.Equal(t, "alice", post.Author.Username)

	var links int64
	require.NoError(t, db.Model(&models.PostTag{}).Where("post_id = ?", post.ID).Count(&links).Error)
	assert.Equal(t, int64(2), links)
}

func TestCreatePost_RollsBackOnBadInput(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPostService(db, testRetry())
	ctx := context.Background()
	a := createUser(t, db, "alice")

	_, err := svc.CreatePost(ctx, a.ID, "", "body", nil)
	assert.True(t, IsValidation(err))
	_, err = svc.CreatePost(ctx, a.ID, "title", "body", []string{"ok", "  "})
	assert.True(t, IsValidation(err))
	_, err = svc.CreatePost(ctx, 999, "title", "body", []string{"orphan"})
	assert.True(t, IsNotFound(err))

	var posts, tags int64
	require.NoError(t, db.Model(&models.Post{}).Count(&posts).Error)
	require.NoError(t, db.Model(&models.Tag{}).Count(&tags).Error)
	assert.Zero(t, posts)
	assert.Zero(t, tags)
}

func TestPost_LengthLimits(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPostService(db, testRetry())
	ctx := context.Background()
	a := createUser(t, db, "alice")

	longTitle := strings.Repeat("標", models.PostTitleMaxLength+1)
	_, err := svc.CreatePost(ctx, a.ID, longTitle, "body", []string{"go"})
	assert.True(t, IsValidation(err))
	_, err = svc.CreatePost(ctx, a.ID, "title", strings.Repeat("x", models.TextMaxBytes+1), nil)
	assert.True(t, IsValidation(err))

	var posts, tags int64
	require.NoError(t, db.Model(&models.Post{}).Count(&posts).Error)
	require.NoError(t, db.Model(&models.Tag{}).Count(&tags).Error)
	assert.Zero(t, posts)
	assert.Zero(t, tags)

	// multi-byte titles are limited by characters, not bytes
	exact := strings.Repeat("標", models.PostTitleMaxLength)
	post, err := svc.CreatePost(ctx, a.ID, exact, "body", nil)
	require.NoError(t, err)
	assert.Equal(t, exact, post.Title)

	_, err = svc.UpdatePost(ctx, a.ID, post.ID, PostUpdate{Title: &longTitle})
	assert.True(t, IsValidation(err))
	_, err = svc.UpdatePost(ctx, a.ID, post.ID, PostUpdate{Content: ptr(strings.Repeat("é", models.TextMaxBytes/2+1))})
	assert.True(t, IsValidation(err))

	got, err := svc.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, exact, got.Title)
	assert.Equal(t, "body", got.Content)
}

func TestUpdatePost_OwnerOnly(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPostService(db, testRetry())
	ctx := context.Background()
	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	p := createPost(t, db, a, "draft")

	_, err := svc.UpdatePost(ctx, b.ID, p.ID, PostUpdate{Title: ptr("stolen")})
	assert.Equal(t, CodeForbidden, ErrorCode(err))

	got, err := svc.UpdatePost(ctx, a.ID, p.ID, PostUpdate{Title: ptr("final")})
	require.NoError(t, err)
	assert.Equal(t, "final", got.Title)
	assert.Equal(t, "body of draft", got.Content)

	_, err = svc.UpdatePost(ctx, a.ID, p.ID, PostUpdate{Content: ptr(" ")})
	assert.True(t, IsValidation(err))
	_, err = svc.UpdatePost(ctx, a.ID, 999, PostUpdate{Title: ptr("x")})
	assert.True(t, IsNotFound(err))
}

func TestListingsAndSearch(t *testing.T) {
	db := setupTestDB(t)
	svc := NewPostService(db, testRetry())
	ctx := context.Background()
	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")

	_, err := svc.CreatePost(ctx, a.ID, "Gophers unite", "all about Go", []string{"go"})
	require.NoError(t, err)
	_, err = svc.CreatePost(ctx, b.ID, "Rust notes", "borrowing", []string{"rust"})
	require.NoError(t, err)
	last, err := svc.CreatePost(ctx, a.ID, "Databases", "locking in go services", []string{"go", "sql"})
	require.NoError(t, err)

	all, err := svc.ListPosts(ctx, NewPage(1, 10))
	require.NoError(t, err)
	require.Len(t, all.Items, 3)
	assert.Equal(t, last.ID, all.Items[0].ID)

	mine, err := svc.ListByAuthor(ctx, a.ID, NewPage(1, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(2), mine.Pagination.Total)
	_, err = svc.ListByAuthor(ctx, 999, NewPage(1, 10))
	assert.True(t, IsNotFound(err))

	tagged, err := svc.ListByTag(ctx, "go", NewPage(1, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(2), tagged.Pagination.Total)

	found, err := svc.Search(ctx, "GO", NewPage(1, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(2), found.Pagination.Total)

	_, err = svc.Search(ctx, " ", NewPage(1, 10))
	assert.True(t, IsValidation(err))
}

func TestNewPage(t *testing.T) {
	assert.Equal(t, Page{Number: 1, Size: 20}, NewPage(0, 0))
	assert.Equal(t, Page{Number: 3, Size: 100}, NewPage(3, 1000))
	assert.Equal(t, 40, NewPage(3, 20).Offset())
	assert.Equal(t, 3, paginate(NewPage(1, 2), 5).TotalPages)
}

package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/reverence/models"
)

func TestPostStats_CountsAndEngagement(t *testing.T) {
	db := setupTestDB(t)
	reactions := NewReactionService(db, testRetry())
	tags := NewTagService(db, testRetry())
	stats := NewStatsService(db)
	ctx := context.Background()

	a := createUser(t, db, "alice")
	p := createPost(t, db, a, "busy")
	quiet := createPost(t, db, a, "quiet")
	c := createComment(t, db, p, a, nil)
	createComment(t, db, p, a, &c)

	for _, name := range []string{"zeta", "alpha"} {
		_, err := tags.Attach(ctx, p.ID, name)
		require.NoError(t, err)
	}
	for i, kind := range []string{models.ReactionLike, models.ReactionLove, models.ReactionLove, models.ReactionDislike} {
		u := createUser(t, db, "fan"+string(rune('a'+i)))
		_, err := reactions.SetReaction(ctx, u.ID, models.TargetPost, p.ID, kind)
		require.NoError(t, err)
	}
	// comment reactions do not count toward the post
	_, err := reactions.SetReaction(ctx, a.ID, models.TargetComment, c.ID, models.ReactionLove)
	require.NoError(t, err)

	got, err := stats.PostStats(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "busy", got.Title)
	assert.Equal(t, "alice", got.AuthorUsername)
	assert.Equal(t, int64(2), got.CommentCount)
	assert.Equal(t, int64(2), got.TagCount)
	assert.Equal(t, []string{"alpha", "zeta"}, got.Tags)
	assert.Equal(t, "alpha, zeta", got.TagList)
	assert.Equal(t, int64(1), got.Likes)
	assert.Equal(t, int64(2), got.Loves)
	assert.Equal(t, int64(1), got.Dislikes)
	assert.Equal(t, int64(4), got.TotalReactions)
	assert.Equal(t, got.Likes+2*got.Loves-got.Dislikes, got.EngagementScore)
	assert.Equal(t, int64(4), got.EngagementScore)

	empty, err := stats.PostStats(ctx, quiet.ID)
	require.NoError(t, err)
	assert.Zero(t, empty.CommentCount)
	assert.Zero(t, empty.TagCount)
	assert.Zero(t, empty.TotalReactions)
	assert.Zero(t, empty.EngagementScore)
	assert.Equal(t, "", empty.TagList)
	assert.Equal(t, []string{}, empty.Tags)

	_, err = stats.PostStats(ctx, 999)
	assert.True(t, IsNotFound(err))

	top, err := stats.TopPostsByEngagement(ctx, 10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, p.ID, top[0].PostID)

	byTag, err := stats.PostStatsByTag(ctx, "alpha", NewPage(1, 10))
	require.NoError(t, err)
	require.Len(t, byTag.Items, 1)
	assert.Equal(t, int64(1), byTag.Pagination.Total)
}

func TestListPostStats_NewestFirst(t *testing.T) {
	db := setupTestDB(t)
	stats := NewStatsService(db)
	a := createUser(t, db, "alice")

	base := time.Now().Add(-time.Hour)
	var created []models.Post
	for i := 0; i < 3; i++ {
		p := models.Post{UserID: a.ID, Title: "p" + string(rune('a'+i)), Content: "x", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, db.Create(&p).Error)
		created = append(created, p)
	}

	page, err := stats.ListPostStats(context.Background(), NewPage(1, 2))
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, created[2].ID, page.Items[0].PostID)
	assert.Equal(t, created[1].ID, page.Items[1].PostID)
	assert.Equal(t, int64(3), page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.TotalPages)

	page, err = stats.ListPostStats(context.Background(), NewPage(2, 2))
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, created[0].ID, page.Items[0].PostID)
}

func TestUserActivity(t *testing.T) {
	db := setupTestDB(t)
	reactions := NewReactionService(db, testRetry())
	stats := NewStatsService(db)
	ctx := context.Background()

	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	idle := createUser(t, db, "idle")

	p := createPost(t, db, a, "hello")
	c := createComment(t, db, p, a, nil)
	createComment(t, db, p, b, nil)

	_, err := reactions.SetReaction(ctx, b.ID, models.TargetPost, p.ID, models.ReactionLove)
	require.NoError(t, err)
	_, err = reactions.SetReaction(ctx, b.ID, models.TargetComment, c.ID, models.ReactionLike)
	require.NoError(t, err)
	_, err = reactions.SetReaction(ctx, a.ID, models.TargetPost, p.ID, models.ReactionLike)
	require.NoError(t, err)

	got, err := stats.UserActivity(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, int64(1), got.PostCount)
	assert.Equal(t, int64(1), got.CommentCount)
	assert.Equal(t, int64(2), got.ContributionCount)
	assert.Equal(t, int64(1), got.ReactionsGiven)
	assert.Equal(t, int64(1), got.ReactionsReceivedPosts)
	assert.Equal(t, int64(1), got.ReactionsReceivedComments)
	assert.Equal(t, int64(2), got.ReactionsReceived)
	assert.Equal(t, 3, got.Reputation)
	require.NotNil(t, got.LastActivityAt)
	assert.WithinDuration(t, time.Now(), *got.LastActivityAt, time.Minute)

	none, err := stats.UserActivity(ctx, idle.ID)
	require.NoError(t, err)
	assert.Zero(t, none.PostCount)
	assert.Zero(t, none.ReactionsReceived)
	assert.Zero(t, none.Reputation)
	assert.Equal(t, "", none.Bio)
	assert.Nil(t, none.LastActivityAt)

	_, err = stats.UserActivity(ctx, 999)
	assert.True(t, IsNotFound(err))
}

func TestLeaderboardAndMostActive(t *testing.T) {
	db := setupTestDB(t)
	reactions := NewReactionService(db, testRetry())
	stats := NewStatsService(db)
	ctx := context.Background()

	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	c := createUser(t, db, "carol")

	pa := createPost(t, db, a, "a1")
	pb := createPost(t, db, b, "b1")
	createPost(t, db, c, "c1")
	createPost(t, db, c, "c2")
	createComment(t, db, pa, c, nil)

	_, err := reactions.SetReaction(ctx, a.ID, models.TargetPost, pb.ID, models.ReactionLove)
	require.NoError(t, err)
	_, err = reactions.SetReaction(ctx, c.ID, models.TargetPost, pa.ID, models.ReactionDislike)
	require.NoError(t, err)

	board, err := stats.Leaderboard(ctx, 0)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, []uint{b.ID, c.ID, a.ID}, []uint{board[0].UserID, board[1].UserID, board[2].UserID})
	assert.Equal(t, []int{2, 0, -1}, []int{board[0].Reputation, board[1].Reputation, board[2].Reputation})

	active, err := stats.MostActive(ctx, 2)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, c.ID, active[0].UserID)
	assert.Equal(t, int64(3), active[0].ContributionCount)
	assert.Equal(t, a.ID, active[1].UserID)

	all, err := stats.ListUserActivity(ctx, NewPage(1, 10))
	require.NoError(t, err)
	assert.Equal(t, int64(3), all.Pagination.Total)
	assert.Equal(t, a.ID, all.Items[0].UserID)
}

func TestNullTimeScan(t *testing.T) {
	var nt nullTime
	require.NoError(t, nt.Scan(nil))
	assert.False(t, nt.Valid)

	require.NoError(t, nt.Scan("2024-03-01 10:20:30.123456789+00:00"))
	assert.True(t, nt.Valid)
	assert.Equal(t, 2024, nt.Time.Year())

	require.NoError(t, nt.Scan([]byte("2024-03-01T10:20:30Z")))
	assert.Equal(t, 30, nt.Time.Second())

	assert.Error(t, nt.Scan("yesterday"))
	assert.Error(t, nt.Scan(42))
}

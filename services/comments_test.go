package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cppla/reverence/models"
)

func ids(nodes []CommentNode) []uint {
	out := []uint{}
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}

func TestBuildTree_RootsAndReplies(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCommentService(db, testRetry())

	a := createUser(t, db, "alice")
	p := createPost(t, db, a, "thread")
	c1 := createComment(t, db, p, a, nil)
	c2 := createComment(t, db, p, a, &c1)
	c3 := createComment(t, db, p, a, nil)

	tree, err := svc.BuildTree(context.Background(), p.ID)
	require.NoError(t, err)

	require.Equal(t, []uint{c1.ID, c3.ID}, ids(tree))
	require.Equal(t, []uint{c2.ID}, ids(tree[0].Children))
	assert.Empty(t, tree[1].Children)
	assert.Equal(t, 1, tree[0].Children[0].Depth)
	assert.Equal(t, "alice", tree[0].Author.Username)
}

func TestBuildTree_DepthFirstOrder(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCommentService(db, testRetry())

	a := createUser(t, db, "alice")
	b := createUser(t, db, "bob")
	p := createPost(t, db, a, "thread")
	other := createPost(t, db, a, "elsewhere")

	r1 := createComment(t, db, p, a, nil)
	r2 := createComment(t, db, p, b, nil)
	r1a := createComment(t, db, p, b, &r1)
	r2a := createComment(t, db, p, a, &r2)
	r1b := createComment(t, db, p, a, &r1)
	r1a1 := createComment(t, db, p, a, &r1a)
	createComment(t, db, other, a, nil)

	tree, err := svc.BuildTree(context.Background(), p.ID)
	require.NoError(t, err)

	flat := Flatten(tree)
	assert.Equal(t, []uint{r1.ID, r1a.ID, r1a1.ID, r1b.ID, r2.ID, r2a.ID}, ids(flat))
	assert.Equal(t, []int{0, 1, 2, 1, 0, 1}, []int{flat[0].Depth, flat[1].Depth, flat[2].Depth, flat[3].Depth, flat[4].Depth, flat[5].Depth})

	n, err := svc.CountComments(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int(n), CountNodes(tree))

	var check func(parent *CommentNode, level []CommentNode)
	check = func(parent *CommentNode, level []CommentNode) {
		for i := range level {
			if parent == nil {
				assert.Nil(t, level[i].ParentID)
			} else {
				require.NotNil(t, level[i].ParentID)
				assert.Equal(t, parent.ID, *level[i].ParentID)
			}
			check(&level[i], level[i].Children)
		}
	}
	check(nil, tree)
}

func TestBuildTree_MissingPost(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCommentService(db, testRetry())

	_, err := svc.BuildTree(context.Background(), 99)
	assert.True(t, IsNotFound(err))
}

func TestBuildTree_EmptyPost(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCommentService(db, testRetry())
	a := createUser(t, db, "alice")
	p := createPost(t, db, a, "quiet")

	tree, err := svc.BuildTree(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Empty(t, tree)
}

func TestAssembleForest_OrphansBecomeRoots(t *testing.T) {
	now := time.Now()
	rows := []commentRow{
		{ID: 5, ParentID: ptr(uint(1)), CreatedAt: now},
		{ID: 2, CreatedAt: now},
		{ID: 7, ParentID: ptr(uint(2)), CreatedAt: now},
		{ID: 3, ParentID: ptr(uint(99)), CreatedAt: now},
	}

	forest := assembleForest(rows)
	assert.Equal(t, []uint{2, 3, 5}, ids(forest))
	assert.Equal(t, []uint{7}, ids(forest[0].Children))
	assert.Equal(t, len(rows), CountNodes(forest))
}

func TestAssembleForest_CyclesAreNotDropped(t *testing.T) {
	rows := []commentRow{
		{ID: 1},
		{ID: 4, ParentID: ptr(uint(6))},
		{ID: 6, ParentID: ptr(uint(4))},
		{ID: 8, ParentID: ptr(uint(6))},
		{ID: 9, ParentID: ptr(uint(9))},
	}

	forest := assembleForest(rows)
	assert.Equal(t, []uint{1, 4, 9}, ids(forest))
	assert.Equal(t, []uint{6}, ids(forest[1].Children))
	assert.Equal(t, []uint{8}, ids(forest[1].Children[0].Children))
	assert.Equal(t, len(rows), CountNodes(forest))
}

func TestCreateComment(t *testing.T) {
	db := setupTestDB(t)
	svc := NewCommentService(db, testRetry())
	ctx := context.Background()

	a := createUser(t, db, "alice")
	p := createPost(t, db, a, "thread")
	other := createPost(t, db, a, "elsewhere")
	foreign := createComment(t, db, other, a, nil)

	root, err := svc.CreateComment(ctx, a.ID, p.ID, nil, "  first  ")
	require.NoError(t, err)
	assert.Equal(t, "first", root.Content)
	assert.Nil(t, root.ParentID)

	reply, err := svc.CreateComment(ctx, a.ID, p.ID, &root.ID, "second")
	require.NoError(t, err)
	require.NotNil(t, reply.ParentID)
	assert.Equal(t, root.ID, *reply.ParentID)

	_, err = svc.CreateComment(ctx, a.ID, p.ID, &foreign.ID, "cross-post")
	assert.True(t, IsValidation(err))

	_, err = svc.CreateComment(ctx, a.ID, p.ID, ptr(uint(999)), "dangling")
	assert.True(t, IsValidation(err))

	_, err = svc.CreateComment(ctx, a.ID, p.ID, nil, "   ")
	assert.True(t, IsValidation(err))

	_, err = svc.CreateComment(ctx, a.ID, p.ID, nil, strings.Repeat("x", models.TextMaxBytes+1))
	assert.True(t, IsValidation(err))
	var stored int64
	require.NoError(t, db.Model(&models.Comment{}).Where("post_id = ?", p.ID).Count(&stored).Error)
	assert.Equal(t, int64(2), stored)

	_, err = svc.CreateComment(ctx, a.ID, 999, nil, "nowhere")
	assert.True(t, IsNotFound(err))

	got, err := svc.GetComment(ctx, reply.ID)
	require.NoError(t, err)
	assert.Equal(t, "second", got.Content)

	_, err = svc.GetComment(ctx, 999)
	assert.True(t, IsNotFound(err))
}

func TestCommentCascadeOnParentDelete(t *testing.T) {
	db := setupTestDB(t)
	a := createUser(t, db, "alice")
	p := createPost(t, db, a, "thread")
	root := createComment(t, db, p, a, nil)
	createComment(t, db, p, a, &root)

	require.NoError(t, db.Delete(&models.Comment{}, root.ID).Error)

	var n int64
	require.NoError(t, db.Model(&models.Comment{}).Where("post_id = ?", p.ID).Count(&n).Error)
	assert.Zero(t, n)
}

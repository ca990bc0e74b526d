package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/reverence/models"
)

// CommentNode is one comment in a discussion tree.
type CommentNode struct {
	ID        uint          `json:"id"`
	PostID    uint          `json:"post_id"`
	ParentID  *uint         `json:"parent_id"`
	Author    models.Author `json:"author"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
	Depth     int           `json:"depth"`
	Children  []CommentNode `json:"children"`
}

type commentRow struct {
	ID        uint
	PostID    uint
	ParentID  *uint
	UserID    uint
	Username  string
	Content   string
	CreatedAt time.Time
}

func (r commentRow) node(depth int) CommentNode {
	return CommentNode{
		ID:        r.ID,
		PostID:    r.PostID,
		ParentID:  r.ParentID,
		Author:    models.Author{ID: r.UserID, Username: r.Username},
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		Depth:     depth,
		Children:  []CommentNode{},
	}
}

// CommentService builds discussion trees and creates and deletes comments.
type CommentService struct {
	db    *gorm.DB
	retry RetryPolicy
}

// NewCommentService creates a CommentService.
func NewCommentService(db *gorm.DB, retry RetryPolicy) *CommentService {
	return &CommentService{db: db, retry: retry}
}

// BuildTree loads every comment of the post and returns its forest, roots first, each level oldest first.
func (s *CommentService) BuildTree(ctx context.Context, postID uint) ([]CommentNode, error) {
	db := s.db.WithContext(ctx)
	if err := requirePost(db, postID); err != nil {
		return nil, err
	}
	rows, err := loadCommentRows(db, postID)
	if err != nil {
		return nil, err
	}
	return assembleForest(rows), nil
}

// assembleForest links rows to their parents by index. Rows whose parent is missing from the set become
// roots, and rows caught in a parent cycle are promoted to roots so that every row appears exactly once.
func assembleForest(rows []commentRow) []CommentNode {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })

	index := make(map[uint]int, len(rows))
	for i, r := range rows {
		index[r.ID] = i
	}

	children := make([][]int, len(rows))
	var roots []int
	for i, r := range rows {
		if r.ParentID == nil || *r.ParentID == r.ID {
			roots = append(roots, i)
			continue
		}
		parent, ok := index[*r.ParentID]
		if !ok {
			roots = append(roots, i)
			continue
		}
		children[parent] = append(children[parent], i)
	}

	visited := make([]bool, len(rows))
	var build func(i, depth int) CommentNode
	build = func(i, depth int) CommentNode {
		visited[i] = true
		n := rows[i].node(depth)
		for _, c := range children[i] {
			if visited[c] {
				continue
			}
			n.Children = append(n.Children, build(c, depth+1))
		}
		return n
	}

	forest := make([]CommentNode, 0, len(roots))
	for _, i := range roots {
		forest = append(forest, build(i, 0))
	}
	promoted := false
	for i := range rows {
		if !visited[i] {
			forest = append(forest, build(i, 0))
			promoted = true
		}
	}
	if promoted {
		sort.SliceStable(forest, func(a, b int) bool { return forest[a].ID < forest[b].ID })
	}
	return forest
}

// Flatten lists the forest depth-first. Returned nodes keep their depth and drop their children.
func Flatten(nodes []CommentNode) []CommentNode {
	var out []CommentNode
	var walk func([]CommentNode)
	walk = func(level []CommentNode) {
		for _, n := range level {
			kids := n.Children
			n.Children = nil
			out = append(out, n)
			walk(kids)
		}
	}
	walk(nodes)
	return out
}

// CountNodes counts every node in the forest.
func CountNodes(nodes []CommentNode) int {
	total := 0
	for _, n := range nodes {
		total += 1 + CountNodes(n.Children)
	}
	return total
}

// CreateComment adds a comment to a post, optionally as a reply to a comment of the same post.
func (s *CommentService) CreateComment(ctx context.Context, userID, postID uint, parentID *uint, content string) (*CommentNode, error) {
	content = strings.TrimSpace(content)
	if err := checkText("comment content", content); err != nil {
		return nil, err
	}

	var created models.Comment
	err := transact(ctx, s.db, s.retry, "create_comment", func(tx *gorm.DB) error {
		if err := requireUser(tx, userID); err != nil {
			return err
		}
		var p models.Post
		if err := forShare(tx).Select("id").Take(&p, postID).Error; err != nil {
			return notFoundOr(err, "post", postID)
		}
		if parentID != nil {
			var parent models.Comment
			if err := tx.Select("id", "post_id").Take(&parent, *parentID).Error; err != nil {
				if IsNotFound(notFoundOr(err, "comment", *parentID)) {
					return NewValidationError("parent comment %d does not exist", *parentID)
				}
				return err
			}
			if parent.PostID != postID {
				return NewValidationError("parent comment %d belongs to another post", *parentID)
			}
		}
		created = models.Comment{PostID: postID, UserID: userID, ParentID: parentID, Content: content}
		return tx.Create(&created).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetComment(ctx, created.ID)
}

// GetComment returns a single comment without its replies.
func (s *CommentService) GetComment(ctx context.Context, id uint) (*CommentNode, error) {
	var rows []commentRow
	err := commentQuery(s.db.WithContext(ctx)).Where("c.id = ?", id).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NewNotFoundError("comment", id)
	}
	n := rows[0].node(0)
	return &n, nil
}

// CountComments counts the comments of a post.
func (s *CommentService) CountComments(ctx context.Context, postID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Comment{}).Where("post_id = ?", postID).Count(&n).Error
	return n, err
}

// DeleteComment removes a comment and its replies. Reputation carried by reactions on any of them is
// reversed in the same transaction.
func (s *CommentService) DeleteComment(ctx context.Context, actorID uint, isAdmin bool, id uint) error {
	return transact(ctx, s.db, s.retry, "delete_comment", func(tx *gorm.DB) error {
		var c models.Comment
		if err := tx.Select("id", "post_id", "user_id").Take(&c, id).Error; err != nil {
			return notFoundOr(err, "comment", id)
		}
		if !isAdmin && c.UserID != actorID {
			return NewForbiddenError("only the author can delete this comment")
		}
		var p models.Post
		if err := forUpdate(tx).Select("id").Take(&p, c.PostID).Error; err != nil {
			return notFoundOr(err, "post", c.PostID)
		}

		subtree, err := commentSubtree(tx, c.PostID, c.ID)
		if err != nil {
			return err
		}
		if err := settleReactions(tx, nil, subtree); err != nil {
			return err
		}
		return tx.Where("id IN ?", subtree).Delete(&models.Comment{}).Error
	})
}

// commentSubtree returns rootID and the ids of all its descendants within the post.
func commentSubtree(tx *gorm.DB, postID, rootID uint) ([]uint, error) {
	var links []struct {
		ID       uint
		ParentID *uint
	}
	if err := tx.Model(&models.Comment{}).Select("id, parent_id").Where("post_id = ?", postID).
		Scan(&links).Error; err != nil {
		return nil, err
	}
	kids := make(map[uint][]uint, len(links))
	for _, l := range links {
		if l.ParentID != nil {
			kids[*l.ParentID] = append(kids[*l.ParentID], l.ID)
		}
	}

	seen := map[uint]bool{rootID: true}
	out := []uint{rootID}
	for i := 0; i < len(out); i++ {
		for _, k := range kids[out[i]] {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out, nil
}

func commentQuery(db *gorm.DB) *gorm.DB {
	return db.Table("comments AS c").
		Select("c.id, c.post_id, c.parent_id, c.user_id, u.username, c.content, c.created_at").
		Joins("JOIN users u ON u.id = c.user_id")
}

func loadCommentRows(db *gorm.DB, postID uint) ([]commentRow, error) {
	var rows []commentRow
	err := commentQuery(db).Where("c.post_id = ?", postID).Order("c.id ASC").Scan(&rows).Error
	return rows, err
}

func requirePost(db *gorm.DB, postID uint) error {
	var n int64
	if err := db.Model(&models.Post{}).Where("id = ?", postID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return NewNotFoundError("post", postID)
	}
	return nil
}

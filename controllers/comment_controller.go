package controllers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/reverence/services"
	"github.com/cppla/reverence/utils"
)

// CommentController serves comment threads.
type CommentController struct {
	comments *services.CommentService
}

// NewCommentController creates a new CommentController instance.
func NewCommentController(db *gorm.DB) *CommentController {
	return &CommentController{comments: services.NewCommentService(db, retryPolicy())}
}

// ListComments returns the comment forest of a post. flat=1 returns the same nodes in display order without nesting.
func (c *CommentController) ListComments(ctx *gin.Context) {
	postID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	tree, err := c.comments.BuildTree(ctx.Request.Context(), postID)
	if err != nil {
		fail(ctx, err)
		return
	}
	if ctx.Query("flat") == "1" {
		utils.Success(ctx, gin.H{"items": services.Flatten(tree), "total": services.CountNodes(tree)})
		return
	}
	utils.Success(ctx, gin.H{"items": tree, "total": services.CountNodes(tree)})
}

// CreateComment adds a comment or a reply to a post.
func (c *CommentController) CreateComment(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	postID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	var req struct {
		Content  string `json:"content" binding:"required"`
		ParentID *uint  `json:"parent_id"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "invalid request payload")
		return
	}

	comment, err := c.comments.CreateComment(ctx.Request.Context(), userID, postID, req.ParentID, utils.Sanitize(req.Content))
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"comment": comment})
}

// GetComment returns a single comment without its replies.
func (c *CommentController) GetComment(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	comment, err := c.comments.GetComment(ctx.Request.Context(), id)
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"comment": comment})
}

// DeleteComment removes a comment and its replies. Authors delete their own, administrators any.
func (c *CommentController) DeleteComment(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	if err := c.comments.DeleteComment(ctx.Request.Context(), userID, isAdmin(ctx), id); err != nil {
		fail(ctx, err)
		return
	}
	utils.InvalidateByPrefix(ctx.Request.Context(), utils.CacheProfilePrefix)
	utils.Success(ctx, gin.H{"deleted": true})
}

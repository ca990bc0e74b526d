package controllers

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/reverence/services"
	"github.com/cppla/reverence/utils"
)

// PostController manages CRUD operations and listings for posts.
type PostController struct {
	posts *services.PostService
}

// NewPostController creates a new PostController instance.
func NewPostController(db *gorm.DB) *PostController {
	return &PostController{posts: services.NewPostService(db, retryPolicy())}
}

// CreatePost allows authenticated users to create new posts, optionally tagged.
func (p *PostController) CreatePost(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	var req struct {
		Title   string   `json:"title" binding:"required"`
		Content string   `json:"content" binding:"required"`
		Tags    []string `json:"tags"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "invalid request payload")
		return
	}

	post, err := p.posts.CreatePost(ctx.Request.Context(), userID,
		utils.SanitizeText(req.Title), utils.Sanitize(req.Content), req.Tags)
	if err != nil {
		fail(ctx, err)
		return
	}

	invalidatePostLists(ctx, userID, len(post.Tags) > 0)
	utils.Success(ctx, gin.H{"post": post})
}

// GetPost returns one post with its author and tags.
func (p *PostController) GetPost(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	post, err := p.posts.GetPost(ctx.Request.Context(), id)
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"post": post})
}

// UpdatePost lets the author change title or content.
func (p *PostController) UpdatePost(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	var req struct {
		Title   *string `json:"title"`
		Content *string `json:"content"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "invalid request payload")
		return
	}
	if req.Title != nil {
		title := utils.SanitizeText(*req.Title)
		req.Title = &title
	}
	if req.Content != nil {
		content := utils.Sanitize(*req.Content)
		req.Content = &content
	}

	post, err := p.posts.UpdatePost(ctx.Request.Context(), userID, id, services.PostUpdate{
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		fail(ctx, err)
		return
	}
	invalidatePostLists(ctx, userID, false)
	utils.Success(ctx, gin.H{"post": post})
}

// DeletePost removes a post. Authors delete their own posts, administrators any post.
func (p *PostController) DeletePost(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	post, err := p.posts.GetPost(ctx.Request.Context(), id)
	if err != nil {
		fail(ctx, err)
		return
	}
	if err := p.posts.DeletePost(ctx.Request.Context(), userID, isAdmin(ctx), id); err != nil {
		fail(ctx, err)
		return
	}

	utils.L().Info("post deleted", zap.Uint("post_id", id), zap.Uint("by", userID), zap.Bool("admin", isAdmin(ctx)))
	invalidatePostLists(ctx, post.Author.ID, true)
	// reputation of everyone who reacted may have moved
	utils.InvalidateByPrefix(ctx.Request.Context(), utils.CacheProfilePrefix)
	utils.Success(ctx, gin.H{"deleted": true})
}

// ListPosts returns paginated posts, newest first.
func (p *PostController) ListPosts(ctx *gin.Context) {
	page := parsePagination(ctx)
	key := fmt.Sprintf("%spage=%d:size=%d", utils.CachePostsListPrefix, page.Number, page.Size)
	if utils.ServeCached(ctx, key) {
		return
	}
	result, err := p.posts.ListPosts(ctx.Request.Context(), page)
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.SuccessCached(ctx, key, result)
}

// ListUserPosts returns one author's posts, newest first.
func (p *PostController) ListUserPosts(ctx *gin.Context) {
	userID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	page := parsePagination(ctx)
	key := fmt.Sprintf("%spage=%d:size=%d", utils.CacheUserPostsPrefix(userID), page.Number, page.Size)
	if utils.ServeCached(ctx, key) {
		return
	}
	result, err := p.posts.ListByAuthor(ctx.Request.Context(), userID, page)
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.SuccessCached(ctx, key, result)
}

// ListTagPosts returns the posts carrying a tag, newest first.
func (p *PostController) ListTagPosts(ctx *gin.Context) {
	name := strings.TrimSpace(ctx.Param("name"))
	page := parsePagination(ctx)
	key := fmt.Sprintf("%stag=%s:page=%d:size=%d", utils.CachePostsListPrefix, name, page.Number, page.Size)
	if utils.ServeCached(ctx, key) {
		return
	}
	result, err := p.posts.ListByTag(ctx.Request.Context(), name, page)
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.SuccessCached(ctx, key, result)
}

// Search matches the query against titles and bodies. Results are never cached.
func (p *PostController) Search(ctx *gin.Context) {
	result, err := p.posts.Search(ctx.Request.Context(), ctx.Query("q"), parsePagination(ctx))
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, result)
}

// DeletedPosts lists the deletion audit log for administrators.
func (p *PostController) DeletedPosts(ctx *gin.Context) {
	result, err := p.posts.DeletedPosts(ctx.Request.Context(), parsePagination(ctx))
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, result)
}

// invalidatePostLists drops cached list pages touched by a write to authorID's posts.
func invalidatePostLists(ctx *gin.Context, authorID uint, tagsChanged bool) {
	c := ctx.Request.Context()
	utils.InvalidateByPrefix(c, utils.CachePostsListPrefix)
	utils.InvalidateByPrefix(c, utils.CacheUserPostsPrefix(authorID))
	if tagsChanged {
		utils.CacheDelete(c, utils.CacheTagsList)
	}
}

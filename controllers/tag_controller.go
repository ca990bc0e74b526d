package controllers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/reverence/services"
	"github.com/cppla/reverence/utils"
)

// TagController manages tags and their attachment to posts.
type TagController struct {
	tags  *services.TagService
	posts *services.PostService
}

// NewTagController creates a new TagController instance.
func NewTagController(db *gorm.DB) *TagController {
	retry := retryPolicy()
	return &TagController{
		tags:  services.NewTagService(db, retry),
		posts: services.NewPostService(db, retry),
	}
}

// ListTags returns every tag with its post count, ordered by name.
func (t *TagController) ListTags(ctx *gin.Context) {
	if utils.ServeCached(ctx, utils.CacheTagsList) {
		return
	}
	tags, err := t.tags.ListAll(ctx.Request.Context())
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.SuccessCached(ctx, utils.CacheTagsList, gin.H{"items": tags})
}

// AttachTag tags a post. Only the post's author or an administrator may do so.
func (t *TagController) AttachTag(ctx *gin.Context) {
	postID, authorID, ok := t.authorizePost(ctx)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "invalid request payload")
		return
	}

	link, err := t.tags.Attach(ctx.Request.Context(), postID, req.Name)
	if err != nil {
		fail(ctx, err)
		return
	}
	if link.Linked {
		invalidatePostLists(ctx, authorID, true)
	}
	utils.Success(ctx, link)
}

// DetachTag removes a tag from a post.
func (t *TagController) DetachTag(ctx *gin.Context) {
	postID, authorID, ok := t.authorizePost(ctx)
	if !ok {
		return
	}
	removed, err := t.tags.Detach(ctx.Request.Context(), postID, ctx.Param("name"))
	if err != nil {
		fail(ctx, err)
		return
	}
	if removed {
		invalidatePostLists(ctx, authorID, true)
	}
	utils.Success(ctx, gin.H{"removed": removed})
}

// RenameTag is restricted to administrators.
func (t *TagController) RenameTag(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "invalid request payload")
		return
	}
	tag, err := t.tags.Rename(ctx.Request.Context(), id, req.Name)
	if err != nil {
		fail(ctx, err)
		return
	}
	t.invalidateAll(ctx)
	utils.Success(ctx, gin.H{"tag": tag})
}

// DeleteTag is restricted to administrators.
func (t *TagController) DeleteTag(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	if err := t.tags.Delete(ctx.Request.Context(), id); err != nil {
		fail(ctx, err)
		return
	}
	t.invalidateAll(ctx)
	utils.Success(ctx, gin.H{"deleted": true})
}

// authorizePost resolves :id and checks the caller may change the post's tags.
func (t *TagController) authorizePost(ctx *gin.Context) (postID, authorID uint, ok bool) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return 0, 0, false
	}
	postID, ok = parseID(ctx, "id")
	if !ok {
		return 0, 0, false
	}
	post, err := t.posts.GetPost(ctx.Request.Context(), postID)
	if err != nil {
		fail(ctx, err)
		return 0, 0, false
	}
	if post.Author.ID != userID && !isAdmin(ctx) {
		fail(ctx, services.NewForbiddenError("only the author can change this post's tags"))
		return 0, 0, false
	}
	return postID, post.Author.ID, true
}

func (t *TagController) invalidateAll(ctx *gin.Context) {
	c := ctx.Request.Context()
	utils.CacheDelete(c, utils.CacheTagsList)
	utils.InvalidateByPrefix(c, utils.CachePostsListPrefix)
	utils.InvalidateByPrefix(c, "cache:user:")
}

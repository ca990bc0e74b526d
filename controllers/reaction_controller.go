package controllers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/reverence/services"
	"github.com/cppla/reverence/utils"
)

// ReactionController exposes likes, loves and dislikes on posts and comments.
// Routes address the target as /reactions/:target/:id with target one of post or comment.
type ReactionController struct {
	reactions *services.ReactionService
}

// NewReactionController creates a new ReactionController instance.
func NewReactionController(db *gorm.DB) *ReactionController {
	return &ReactionController{reactions: services.NewReactionService(db, retryPolicy())}
}

// SetReaction applies the caller's reaction. Repeating the current kind removes it.
func (r *ReactionController) SetReaction(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	targetID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	var req struct {
		Kind string `json:"kind" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "invalid request payload")
		return
	}

	change, err := r.reactions.SetReaction(ctx.Request.Context(), userID, ctx.Param("target"), targetID, req.Kind)
	if err != nil {
		fail(ctx, err)
		return
	}
	if change.ReputationDelta != 0 {
		utils.CacheDelete(ctx.Request.Context(), utils.CacheProfileKey(change.OwnerID))
	}
	utils.Success(ctx, gin.H{"change": change})
}

// RemoveReaction deletes the caller's reaction, whatever its kind.
func (r *ReactionController) RemoveReaction(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	targetID, ok := parseID(ctx, "id")
	if !ok {
		return
	}

	change, err := r.reactions.Withdraw(ctx.Request.Context(), userID, ctx.Param("target"), targetID)
	if err != nil {
		fail(ctx, err)
		return
	}
	if change.ReputationDelta != 0 {
		utils.CacheDelete(ctx.Request.Context(), utils.CacheProfileKey(change.OwnerID))
	}
	utils.Success(ctx, gin.H{"removed": change.Action == services.ActionRemoved, "change": change})
}

// GetReactions returns the counts on a target and, for authenticated callers, their own reaction.
func (r *ReactionController) GetReactions(ctx *gin.Context) {
	targetID, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	target := ctx.Param("target")
	stats, err := r.reactions.StatsFor(ctx.Request.Context(), target, targetID)
	if err != nil {
		fail(ctx, err)
		return
	}

	payload := gin.H{"stats": stats}
	if userID, ok := getUserID(ctx); ok {
		mine, err := r.reactions.ReactionOf(ctx.Request.Context(), userID, target, targetID)
		if err != nil {
			fail(ctx, err)
			return
		}
		payload["mine"] = mine
	}
	utils.Success(ctx, payload)
}

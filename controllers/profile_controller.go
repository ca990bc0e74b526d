package controllers

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/reverence/services"
	"github.com/cppla/reverence/utils"
)

// ProfileController serves public profiles and lets users edit their own.
type ProfileController struct {
	profiles *services.ProfileService
}

// NewProfileController creates a new ProfileController instance.
func NewProfileController(db *gorm.DB) *ProfileController {
	return &ProfileController{profiles: services.NewProfileService(db, retryPolicy())}
}

// GetPublic returns a user's profile, creating an empty one on first access.
func (p *ProfileController) GetPublic(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	key := utils.CacheProfileKey(id)
	if utils.ServeCached(ctx, key) {
		return
	}
	profile, err := p.profiles.Get(ctx.Request.Context(), id)
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.SuccessCached(ctx, key, gin.H{"profile": profile})
}

// GetMine returns the authenticated user's profile, uncached.
func (p *ProfileController) GetMine(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	profile, err := p.profiles.Get(ctx.Request.Context(), userID)
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"profile": profile})
}

// UpdateMine changes bio or avatar. Bios longer than the limit are rejected, never truncated.
func (p *ProfileController) UpdateMine(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	var req struct {
		Bio       *string `json:"bio"`
		AvatarURL *string `json:"avatar_url"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "invalid request payload")
		return
	}
	if req.Bio != nil {
		bio := utils.SanitizeText(*req.Bio)
		req.Bio = &bio
	}

	profile, err := p.profiles.Update(ctx.Request.Context(), userID, services.ProfileUpdate{
		Bio:       req.Bio,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.CacheDelete(ctx.Request.Context(), utils.CacheProfileKey(userID))
	utils.Success(ctx, gin.H{"profile": profile})
}

package controllers

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/reverence/middleware"
	"github.com/cppla/reverence/models"
	"github.com/cppla/reverence/services"
	"github.com/cppla/reverence/utils"
)

// AuthController handles registration, login and account settings.
type AuthController struct {
	accounts *services.AccountService
}

// NewAuthController creates a new AuthController instance.
func NewAuthController(db *gorm.DB) *AuthController {
	return &AuthController{accounts: services.NewAccountService(db, retryPolicy())}
}

// Register creates an account and returns a token for it.
func (a *AuthController) Register(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "invalid request payload")
		return
	}

	user, err := a.accounts.Register(ctx.Request.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.L().Info("user registered", zap.Uint("user_id", user.ID), zap.String("username", user.Username))
	a.issueToken(ctx, user)
}

// Login exchanges a username and password for a token.
func (a *AuthController) Login(ctx *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "invalid request payload")
		return
	}

	user, err := a.accounts.Authenticate(ctx.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(ctx, err)
		return
	}
	a.issueToken(ctx, user)
}

func (a *AuthController) issueToken(ctx *gin.Context, user *models.User) {
	token, claims, err := utils.GenerateToken(user.ID, user.Username, 0)
	if err != nil {
		internal(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{
		"token":      token,
		"expires_at": claims.ExpiresAt.Time,
		"user":       user,
	})
}

// Logout revokes the presented token until it expires.
func (a *AuthController) Logout(ctx *gin.Context) {
	value, _ := ctx.Get(middleware.ContextClaimsKey)
	if claims, ok := value.(*utils.Claims); ok && claims.ExpiresAt != nil {
		utils.BlacklistToken(ctx.Request.Context(), claims.ID, claims.ExpiresAt.Time)
	}
	utils.Success(ctx, gin.H{"logged_out": true})
}

// Me returns the authenticated user's account.
func (a *AuthController) Me(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	user, err := a.accounts.GetUser(ctx.Request.Context(), userID)
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"user": user, "is_admin": isAdmin(ctx)})
}

// DeleteUser removes another account and everything it owns. Administrators only.
func (a *AuthController) DeleteUser(ctx *gin.Context) {
	actorID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	if id == actorID {
		badRequest(ctx, "administrators cannot delete their own account here")
		return
	}
	if err := a.accounts.DeleteUser(ctx.Request.Context(), actorID, id); err != nil {
		fail(ctx, err)
		return
	}

	utils.L().Info("user deleted", zap.Uint("user_id", id), zap.Uint("by", actorID))
	c := ctx.Request.Context()
	utils.InvalidateByPrefix(c, utils.CachePostsListPrefix)
	utils.InvalidateByPrefix(c, utils.CacheUserPostsPrefix(id))
	utils.InvalidateByPrefix(c, utils.CacheProfilePrefix)
	utils.CacheDelete(c, utils.CacheTagsList)
	utils.Success(ctx, gin.H{"deleted": true})
}

// UpdateAccount changes username, email or password of the authenticated user.
func (a *AuthController) UpdateAccount(ctx *gin.Context) {
	userID, ok := requireUserID(ctx)
	if !ok {
		return
	}
	var req struct {
		Username *string `json:"username"`
		Email    *string `json:"email"`
		Password *string `json:"password"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "invalid request payload")
		return
	}

	user, err := a.accounts.UpdateAccount(ctx.Request.Context(), userID, services.AccountUpdate{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		fail(ctx, err)
		return
	}
	if req.Username != nil {
		// author names are embedded in cached lists and the public profile
		utils.InvalidateByPrefix(ctx.Request.Context(), utils.CachePostsListPrefix)
		utils.InvalidateByPrefix(ctx.Request.Context(), utils.CacheUserPostsPrefix(userID))
		utils.CacheDelete(ctx.Request.Context(), utils.CacheProfileKey(userID))
	}
	utils.Success(ctx, gin.H{"user": user})
}

package routes

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/reverence/config"
	"github.com/cppla/reverence/controllers"
	"github.com/cppla/reverence/middleware"
	"github.com/cppla/reverence/services"
	"github.com/cppla/reverence/utils"
)

// SetupRouter wires routes, middlewares, and controllers.
func SetupRouter(db *gorm.DB) *gin.Engine {
	// Load config and set Gin mode from configuration
	cfg := config.Get()
	switch strings.ToLower(cfg.GinMode) {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(middleware.RequestID())
	useAccessLog(r, cfg)

	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders:    []string{"Content-Length", middleware.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowedOrigins) == 0 || (len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*") {
		corsCfg.AllowAllOrigins = true
		corsCfg.AllowCredentials = false
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	if cfg.MetricsEnabled {
		r.Use(utils.PrometheusMiddleware())
		r.GET("/metrics", utils.MetricsHandler())
	}

	r.GET("/health", func(ctx *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(ctx.Request.Context())
		}
		if err != nil {
			utils.Error(ctx, http.StatusServiceUnavailable, 50310, "database unreachable")
			return
		}
		utils.Success(ctx, gin.H{"status": "ok"})
	})

	authController := controllers.NewAuthController(db)
	postController := controllers.NewPostController(db)
	commentController := controllers.NewCommentController(db)
	reactionController := controllers.NewReactionController(db)
	tagController := controllers.NewTagController(db)
	statsController := controllers.NewStatsController(db)
	profileController := controllers.NewProfileController(db)

	accounts := services.NewAccountService(db, services.RetryPolicyFromConfig(cfg))
	currentUser := middleware.CurrentUser(func(c context.Context, id uint) (string, error) {
		u, err := accounts.GetUser(c, id)
		if err != nil {
			return "", err
		}
		return u.Username, nil
	})

	api := r.Group("/api/v1")
	api.Use(middleware.StoreTimeout(cfg.StatementTimeout()))

	authGroup := api.Group("/auth")
	authGroup.Use(middleware.RateLimitMiddleware())
	authGroup.POST("/register", authController.Register)
	authGroup.POST("/login", authController.Login)
	authGroup.POST("/logout", middleware.AuthRequired(), authController.Logout)
	authGroup.GET("/me", middleware.AuthRequired(), currentUser, authController.Me)
	authGroup.PATCH("/account", middleware.AuthRequired(), currentUser, authController.UpdateAccount)

	// Public reads
	api.GET("/posts", postController.ListPosts)
	api.GET("/posts/search", postController.Search)
	api.GET("/posts/:id", postController.GetPost)
	api.GET("/posts/:id/comments", commentController.ListComments)
	api.GET("/posts/:id/stats", statsController.GetPostStats)
	api.GET("/comments/:id", commentController.GetComment)
	api.GET("/reactions/:target/:id", middleware.OptionalAuth(), reactionController.GetReactions)
	api.GET("/tags", tagController.ListTags)
	api.GET("/tags/:name/posts", postController.ListTagPosts)
	api.GET("/users/:id/profile", profileController.GetPublic)
	api.GET("/users/:id/activity", statsController.UserActivity)
	api.GET("/users/:id/posts", postController.ListUserPosts)

	stats := api.Group("/stats")
	stats.GET("/posts", statsController.ListPostStats)
	stats.GET("/posts/top", statsController.TopPosts)
	stats.GET("/leaderboard", statsController.Leaderboard)
	stats.GET("/most-active", statsController.MostActive)
	stats.GET("/users", statsController.ListUsers)

	protected := api.Group("")
	protected.Use(middleware.AuthRequired(), currentUser, middleware.RateLimitMiddleware())
	protected.POST("/posts", postController.CreatePost)
	protected.PUT("/posts/:id", postController.UpdatePost)
	protected.DELETE("/posts/:id", postController.DeletePost)
	protected.POST("/posts/:id/tags", tagController.AttachTag)
	protected.DELETE("/posts/:id/tags/:name", tagController.DetachTag)
	protected.POST("/posts/:id/comments", commentController.CreateComment)
	protected.DELETE("/comments/:id", commentController.DeleteComment)
	protected.PUT("/reactions/:target/:id", reactionController.SetReaction)
	protected.DELETE("/reactions/:target/:id", reactionController.RemoveReaction)
	protected.GET("/profile", profileController.GetMine)
	protected.PATCH("/profile", profileController.UpdateMine)

	admin := protected.Group("")
	admin.Use(middleware.AdminRequired())
	admin.PUT("/tags/:id", tagController.RenameTag)
	admin.DELETE("/tags/:id", tagController.DeleteTag)
	admin.GET("/admin/deleted-posts", postController.DeletedPosts)
	admin.DELETE("/admin/users/:id", authController.DeleteUser)

	r.NoRoute(func(ctx *gin.Context) {
		utils.Error(ctx, http.StatusNotFound, 40400, "route not found")
	})

	return r
}

// useAccessLog writes the access log and recovered panics to their own rolling file when gin.log_path is set.
func useAccessLog(r *gin.Engine, cfg config.AppConfig) {
	logger := utils.L()
	if cfg.GinPath != "" {
		gl, err := utils.NewRollingFileLogger(cfg.GinPath, cfg.LogLevel, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogMaxAgeDays, cfg.LogCompress)
		if err != nil {
			utils.L().Warn("access log falls back to the app logger", zap.Error(err))
		} else {
			logger = gl
		}
	}
	r.Use(utils.Ginzap(logger, time.RFC3339, true))
	r.Use(utils.RecoveryWithZap(logger, false))
}

package controllers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/cppla/reverence/services"
	"github.com/cppla/reverence/utils"
)

// StatsController serves the aggregation views. They are computed per request and never cached.
type StatsController struct {
	stats *services.StatsService
}

// NewStatsController creates a new StatsController instance.
func NewStatsController(db *gorm.DB) *StatsController {
	return &StatsController{stats: services.NewStatsService(db)}
}

// GetPostStats returns counts and engagement for one post.
func (s *StatsController) GetPostStats(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	stats, err := s.stats.PostStats(ctx.Request.Context(), id)
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, stats)
}

// ListPostStats pages through post stats, newest first. ?tag= narrows to one tag.
func (s *StatsController) ListPostStats(ctx *gin.Context) {
	page := parsePagination(ctx)
	var (
		result *services.PostStatsPage
		err    error
	)
	if tag := strings.TrimSpace(ctx.Query("tag")); tag != "" {
		result, err = s.stats.PostStatsByTag(ctx.Request.Context(), tag, page)
	} else {
		result, err = s.stats.ListPostStats(ctx.Request.Context(), page)
	}
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, result)
}

// TopPosts ranks posts by engagement score.
func (s *StatsController) TopPosts(ctx *gin.Context) {
	items, err := s.stats.TopPostsByEngagement(ctx.Request.Context(), parseLimit(ctx))
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}

// Leaderboard ranks users by reputation.
func (s *StatsController) Leaderboard(ctx *gin.Context) {
	items, err := s.stats.Leaderboard(ctx.Request.Context(), parseLimit(ctx))
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}

// MostActive ranks users by posts plus comments written.
func (s *StatsController) MostActive(ctx *gin.Context) {
	items, err := s.stats.MostActive(ctx.Request.Context(), parseLimit(ctx))
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, gin.H{"items": items})
}

// ListUsers pages through every user's activity summary.
func (s *StatsController) ListUsers(ctx *gin.Context) {
	result, err := s.stats.ListUserActivity(ctx.Request.Context(), parsePagination(ctx))
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, result)
}

// UserActivity returns one user's activity summary.
func (s *StatsController) UserActivity(ctx *gin.Context) {
	id, ok := parseID(ctx, "id")
	if !ok {
		return
	}
	activity, err := s.stats.UserActivity(ctx.Request.Context(), id)
	if err != nil {
		fail(ctx, err)
		return
	}
	utils.Success(ctx, activity)
}

package services

import (
	"context"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/cppla/reverence/models"
)

// PostStats is the engagement summary of one post.
type PostStats struct {
	PostID          uint      `json:"post_id"`
	Title           string    `json:"title"`
	AuthorID        uint      `json:"author_id"`
	AuthorUsername  string    `json:"author_username"`
	CreatedAt       time.Time `json:"created_at"`
	CommentCount    int64     `json:"comment_count"`
	TagCount        int64     `json:"tag_count"`
	TagList         string    `json:"tag_list" gorm:"-"`
	Tags            []string  `json:"tags" gorm:"-"`
	Likes           int64     `json:"likes"`
	Loves           int64     `json:"loves"`
	Dislikes        int64     `json:"dislikes"`
	TotalReactions  int64     `json:"total_reactions"`
	EngagementScore int64     `json:"engagement_score"`
}

// PostStatsPage is one page of post stats.
type PostStatsPage struct {
	Items      []PostStats `json:"items"`
	Pagination Pagination  `json:"pagination"`
}

// UserActivity summarizes what a user has written, given and received.
type UserActivity struct {
	UserID                    uint       `json:"user_id"`
	Username                  string     `json:"username"`
	Email                     string     `json:"-"`
	JoinedAt                  time.Time  `json:"joined_at"`
	AvatarURL                 string     `json:"avatar_url"`
	Bio                       string     `json:"bio"`
	Reputation                int        `json:"reputation"`
	PostCount                 int64      `json:"post_count"`
	CommentCount              int64      `json:"comment_count"`
	ContributionCount         int64      `json:"contribution_count"`
	ReactionsGiven            int64      `json:"reactions_given"`
	ReactionsReceivedPosts    int64      `json:"reactions_received_posts"`
	ReactionsReceivedComments int64      `json:"reactions_received_comments"`
	ReactionsReceived         int64      `json:"reactions_received"`
	LastActivityAt            *time.Time `json:"last_activity_at"`
}

// UserActivityPage is one page of user activity.
type UserActivityPage struct {
	Items      []UserActivity `json:"items"`
	Pagination Pagination     `json:"pagination"`
}

type activityRow struct {
	UserID                    uint
	Username                  string
	Email                     string
	JoinedAt                  time.Time
	AvatarURL                 string
	Bio                       string
	Reputation                int
	PostCount                 int64
	CommentCount              int64
	ContributionCount         int64
	ReactionsGiven            int64
	ReactionsReceivedPosts    int64
	ReactionsReceivedComments int64
	LastPostAt                nullTime
	LastCommentAt             nullTime
	LastReactionAt            nullTime
}

const (
	defaultRankingLimit = 20
	maxRankingLimit     = 100
)

var postStatsColumns = strings.Join([]string{
	"p.id AS post_id",
	"p.title",
	"p.user_id AS author_id",
	"u.username AS author_username",
	"p.created_at",
	"(SELECT COUNT(*) FROM comments c WHERE c.post_id = p.id) AS comment_count",
	"(SELECT COUNT(DISTINCT pt.tag_id) FROM post_tags pt WHERE pt.post_id = p.id) AS tag_count",
	reactionCount(models.ReactionLike) + " AS likes",
	reactionCount(models.ReactionLove) + " AS loves",
	reactionCount(models.ReactionDislike) + " AS dislikes",
	reactionCount("") + " AS total_reactions",
	fmt.Sprintf("(SELECT COALESCE(SUM(CASE r.kind WHEN '%s' THEN 1 WHEN '%s' THEN 2 WHEN '%s' THEN -1 ELSE 0 END), 0) "+
		"FROM reactions r WHERE r.target_kind = '%s' AND r.target_id = p.id) AS engagement_score",
		models.ReactionLike, models.ReactionLove, models.ReactionDislike, models.TargetPost),
}, ", ")

func reactionCount(kind string) string {
	q := fmt.Sprintf("SELECT COUNT(*) FROM reactions r WHERE r.target_kind = '%s' AND r.target_id = p.id", models.TargetPost)
	if kind != "" {
		q += fmt.Sprintf(" AND r.kind = '%s'", kind)
	}
	return "(" + q + ")"
}

const (
	postCountSQL    = "(SELECT COUNT(*) FROM posts p WHERE p.user_id = u.id)"
	commentCountSQL = "(SELECT COUNT(*) FROM comments c WHERE c.user_id = u.id)"
)

var userActivityColumns = strings.Join([]string{
	"u.id AS user_id",
	"u.username",
	"u.email",
	"u.created_at AS joined_at",
	"COALESCE(pr.avatar_url, '') AS avatar_url",
	"COALESCE(pr.bio, '') AS bio",
	"COALESCE(pr.reputation, 0) AS reputation",
	postCountSQL + " AS post_count",
	commentCountSQL + " AS comment_count",
	"(" + postCountSQL + " + " + commentCountSQL + ") AS contribution_count",
	"(SELECT COUNT(*) FROM reactions r WHERE r.user_id = u.id) AS reactions_given",
	fmt.Sprintf("(SELECT COUNT(*) FROM reactions r JOIN posts p ON p.id = r.target_id "+
		"WHERE r.target_kind = '%s' AND p.user_id = u.id AND r.user_id <> u.id) AS reactions_received_posts", models.TargetPost),
	fmt.Sprintf("(SELECT COUNT(*) FROM reactions r JOIN comments c ON c.id = r.target_id "+
		"WHERE r.target_kind = '%s' AND c.user_id = u.id AND r.user_id <> u.id) AS reactions_received_comments", models.TargetComment),
	"(SELECT MAX(p.created_at) FROM posts p WHERE p.user_id = u.id) AS last_post_at",
	"(SELECT MAX(c.created_at) FROM comments c WHERE c.user_id = u.id) AS last_comment_at",
	"(SELECT MAX(r.updated_at) FROM reactions r WHERE r.user_id = u.id) AS last_reaction_at",
}, ", ")

// StatsService computes read-time aggregates. Nothing here is cached or materialized.
type StatsService struct {
	db *gorm.DB
}

// NewStatsService creates a StatsService.
func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{db: db}
}

// PostStats returns the stats of one post.
func (s *StatsService) PostStats(ctx context.Context, postID uint) (*PostStats, error) {
	db := s.db.WithContext(ctx)
	var rows []PostStats
	if err := postStatsQuery(db).Where("p.id = ?", postID).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NewNotFoundError("post", postID)
	}
	if err := fillTags(db, rows); err != nil {
		return nil, err
	}
	return &rows[0], nil
}

// ListPostStats pages through post stats, newest post first.
func (s *StatsService) ListPostStats(ctx context.Context, page Page) (*PostStatsPage, error) {
	return s.listPostStats(ctx, page, nil)
}

// PostStatsByTag pages through the stats of posts carrying the tag, newest first.
func (s *StatsService) PostStatsByTag(ctx context.Context, tag string, page Page) (*PostStatsPage, error) {
	name, err := NormalizeTagName(tag)
	if err != nil {
		return nil, err
	}
	return s.listPostStats(ctx, page, func(q *gorm.DB) *gorm.DB { return q.Where(taggedWith, name) })
}

// TopPostsByEngagement ranks posts by engagement score, ties broken by newer id.
func (s *StatsService) TopPostsByEngagement(ctx context.Context, limit int) ([]PostStats, error) {
	db := s.db.WithContext(ctx)
	rows := []PostStats{}
	err := postStatsQuery(db).Order("engagement_score DESC, p.id DESC").Limit(rankingLimit(limit)).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if err := fillTags(db, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (s *StatsService) listPostStats(ctx context.Context, page Page, scope func(*gorm.DB) *gorm.DB) (*PostStatsPage, error) {
	db := s.db.WithContext(ctx)
	if scope == nil {
		scope = func(q *gorm.DB) *gorm.DB { return q }
	}
	var total int64
	if err := scope(db.Table("posts AS p")).Count(&total).Error; err != nil {
		return nil, err
	}
	rows := []PostStats{}
	if err := scope(postStatsQuery(db)).Order("p.created_at DESC, p.id DESC").
		Offset(page.Offset()).Limit(page.Limit()).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if err := fillTags(db, rows); err != nil {
		return nil, err
	}
	return &PostStatsPage{Items: rows, Pagination: paginate(page, total)}, nil
}

// UserActivity returns one user's activity summary.
func (s *StatsService) UserActivity(ctx context.Context, userID uint) (*UserActivity, error) {
	var rows []activityRow
	if err := userActivityQuery(s.db.WithContext(ctx)).Where("u.id = ?", userID).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NewNotFoundError("user", userID)
	}
	a := rows[0].activity()
	return &a, nil
}

// Leaderboard ranks users by reputation; users without a profile rank at zero.
func (s *StatsService) Leaderboard(ctx context.Context, limit int) ([]UserActivity, error) {
	return s.rankUsers(ctx, "COALESCE(pr.reputation, 0) DESC, u.id ASC", limit)
}

// MostActive ranks users by posts plus comments written.
func (s *StatsService) MostActive(ctx context.Context, limit int) ([]UserActivity, error) {
	return s.rankUsers(ctx, "contribution_count DESC, u.id ASC", limit)
}

// ListUserActivity pages through every user's activity in id order.
func (s *StatsService) ListUserActivity(ctx context.Context, page Page) (*UserActivityPage, error) {
	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Model(&models.User{}).Count(&total).Error; err != nil {
		return nil, err
	}
	var rows []activityRow
	if err := userActivityQuery(db).Order("u.id ASC").Offset(page.Offset()).Limit(page.Limit()).
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	return &UserActivityPage{Items: activities(rows), Pagination: paginate(page, total)}, nil
}

func (s *StatsService) rankUsers(ctx context.Context, order string, limit int) ([]UserActivity, error) {
	var rows []activityRow
	err := userActivityQuery(s.db.WithContext(ctx)).Order(order).Limit(rankingLimit(limit)).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return activities(rows), nil
}

func postStatsQuery(db *gorm.DB) *gorm.DB {
	return db.Table("posts AS p").Select(postStatsColumns).Joins("JOIN users u ON u.id = p.user_id")
}

func userActivityQuery(db *gorm.DB) *gorm.DB {
	return db.Table("users AS u").Select(userActivityColumns).Joins("LEFT JOIN profiles pr ON pr.user_id = u.id")
}

func fillTags(db *gorm.DB, rows []PostStats) error {
	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.PostID)
	}
	tags, err := tagsFor(db, ids)
	if err != nil {
		return err
	}
	for i := range rows {
		names := tags[rows[i].PostID]
		if names == nil {
			names = []string{}
		}
		rows[i].Tags = names
		rows[i].TagList = strings.Join(names, ", ")
	}
	return nil
}

func activities(rows []activityRow) []UserActivity {
	out := make([]UserActivity, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.activity())
	}
	return out
}

func (r activityRow) activity() UserActivity {
	a := UserActivity{
		UserID:                    r.UserID,
		Username:                  r.Username,
		Email:                     r.Email,
		JoinedAt:                  r.JoinedAt,
		AvatarURL:                 r.AvatarURL,
		Bio:                       r.Bio,
		Reputation:                r.Reputation,
		PostCount:                 r.PostCount,
		CommentCount:              r.CommentCount,
		ContributionCount:         r.ContributionCount,
		ReactionsGiven:            r.ReactionsGiven,
		ReactionsReceivedPosts:    r.ReactionsReceivedPosts,
		ReactionsReceivedComments: r.ReactionsReceivedComments,
		ReactionsReceived:         r.ReactionsReceivedPosts + r.ReactionsReceivedComments,
	}
	for _, t := range []nullTime{r.LastPostAt, r.LastCommentAt, r.LastReactionAt} {
		if t.Valid && (a.LastActivityAt == nil || t.Time.After(*a.LastActivityAt)) {
			latest := t.Time
			a.LastActivityAt = &latest
		}
	}
	return a
}

func rankingLimit(limit int) int {
	if limit < 1 {
		return defaultRankingLimit
	}
	if limit > maxRankingLimit {
		return maxRankingLimit
	}
	return limit
}

// nullTime scans aggregate timestamps. SQLite returns MAX() over datetime columns as text,
// the other drivers as time.Time.
type nullTime struct {
	Time  time.Time
	Valid bool
}

var nullTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
}

func (t *nullTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("cannot scan %T into a timestamp", value)
}

func (t nullTime) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time, nil
}

func (t *nullTime) parse(s string) error {
	s = strings.TrimSuffix(s, "Z")
	for _, layout := range nullTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

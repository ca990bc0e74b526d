// Package seed fills a database with demo users, posts, comments, tags and reactions.
// Everything goes through the services so reputation stays consistent with the reactions written.
package seed

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/brianvoe/gofakeit/v6"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cppla/reverence/models"
	"github.com/cppla/reverence/services"
	"github.com/cppla/reverence/utils"
)

// DemoPassword is the password of every seeded account.
const DemoPassword = "password123"

var usernameJunk = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// Options sizes a seeding run. A zero Seed picks a random one.
type Options struct {
	Users     int
	Posts     int
	Comments  int
	Reactions int
	Tags      []string
	Seed      int64
}

// DefaultTags are used when Options.Tags is empty.
var DefaultTags = []string{"go", "databases", "announcements", "help", "showcase", "off-topic"}

// Summary reports what a run created.
type Summary struct {
	Users     int
	Posts     int
	Comments  int
	Reactions int
}

// Seeder builds demo data with gofakeit.
type Seeder struct {
	faker     *gofakeit.Faker
	accounts  *services.AccountService
	posts     *services.PostService
	comments  *services.CommentService
	reactions *services.ReactionService
	profiles  *services.ProfileService
}

// NewSeeder creates a Seeder bound to db.
func NewSeeder(db *gorm.DB, retry services.RetryPolicy, seed int64) *Seeder {
	return &Seeder{
		faker:     gofakeit.New(seed),
		accounts:  services.NewAccountService(db, retry),
		posts:     services.NewPostService(db, retry),
		comments:  services.NewCommentService(db, retry),
		reactions: services.NewReactionService(db, retry),
		profiles:  services.NewProfileService(db, retry),
	}
}

// Run creates opts.Users users, then posts, comments and reactions among them.
func (s *Seeder) Run(ctx context.Context, opts Options) (Summary, error) {
	var sum Summary
	if opts.Users < 1 {
		return sum, fmt.Errorf("at least one user is required")
	}
	tags := opts.Tags
	if len(tags) == 0 {
		tags = DefaultTags
	}

	users := make([]uint, 0, opts.Users)
	for i := 0; i < opts.Users; i++ {
		u, err := s.accounts.Register(ctx, s.username(i), fmt.Sprintf("user%d.%s", i, s.faker.Email()), DemoPassword)
		if err != nil {
			return sum, fmt.Errorf("user %d: %w", i, err)
		}
		bio := s.faker.Sentence(12)
		if _, err := s.profiles.Update(ctx, u.ID, services.ProfileUpdate{Bio: &bio}); err != nil {
			return sum, fmt.Errorf("profile of user %d: %w", u.ID, err)
		}
		users = append(users, u.ID)
		sum.Users++
	}

	posts := make([]uint, 0, opts.Posts)
	for i := 0; i < opts.Posts; i++ {
		p, err := s.posts.CreatePost(ctx, s.pick(users),
			strings.TrimSuffix(s.faker.Sentence(6), "."),
			s.faker.Paragraph(2, 3, 12, "\n\n"),
			s.pickTags(tags))
		if err != nil {
			return sum, fmt.Errorf("post %d: %w", i, err)
		}
		posts = append(posts, p.ID)
		sum.Posts++
	}
	if len(posts) == 0 {
		return sum, nil
	}

	byPost := map[uint][]uint{}
	var comments []uint
	for i := 0; i < opts.Comments; i++ {
		postID := s.pick(posts)
		var parent *uint
		if siblings := byPost[postID]; len(siblings) > 0 && s.faker.Number(1, 10) <= 4 {
			id := s.pick(siblings)
			parent = &id
		}
		c, err := s.comments.CreateComment(ctx, s.pick(users), postID, parent, s.faker.Sentence(s.faker.Number(4, 18)))
		if err != nil {
			return sum, fmt.Errorf("comment %d: %w", i, err)
		}
		byPost[postID] = append(byPost[postID], c.ID)
		comments = append(comments, c.ID)
		sum.Comments++
	}

	kinds := []string{models.ReactionLike, models.ReactionLike, models.ReactionLove, models.ReactionDislike}
	for i := 0; i < opts.Reactions; i++ {
		target, targetID := models.TargetPost, s.pick(posts)
		if len(comments) > 0 && s.faker.Bool() {
			target, targetID = models.TargetComment, s.pick(comments)
		}
		change, err := s.reactions.SetReaction(ctx, s.pick(users), target, targetID, kinds[s.faker.Number(0, len(kinds)-1)])
		if err != nil {
			return sum, fmt.Errorf("reaction %d: %w", i, err)
		}
		if change.Action == services.ActionCreated {
			sum.Reactions++
		} else if change.Action == services.ActionRemoved {
			sum.Reactions--
		}
	}

	utils.L().Info("seeding finished",
		zap.Int("users", sum.Users), zap.Int("posts", sum.Posts),
		zap.Int("comments", sum.Comments), zap.Int("reactions", sum.Reactions))
	return sum, nil
}

// username derives a valid, unique username from a fake one.
func (s *Seeder) username(i int) string {
	base := usernameJunk.ReplaceAllString(s.faker.Username(), "")
	if len(base) > 24 {
		base = base[:24]
	}
	if base == "" {
		base = "user"
	}
	return fmt.Sprintf("%s_%d", base, i)
}

func (s *Seeder) pick(ids []uint) uint {
	return ids[s.faker.Number(0, len(ids)-1)]
}

func (s *Seeder) pickTags(tags []string) []string {
	n := s.faker.Number(0, min(3, len(tags)))
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, tags[s.faker.Number(0, len(tags)-1)])
	}
	return out
}

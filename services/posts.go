package services

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"gorm.io/gorm"

	"github.com/cppla/reverence/models"
)

// PostView is a post with its author and sorted tag names.
type PostView struct {
	ID        uint          `json:"id"`
	Title     string        `json:"title"`
	Content   string        `json:"content"`
	Author    models.Author `json:"author"`
	Tags      []string      `json:"tags"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// PostPage is one page of posts.
type PostPage struct {
	Items      []PostView `json:"items"`
	Pagination Pagination `json:"pagination"`
}

// DeletedPostPage is one page of the deletion audit log.
type DeletedPostPage struct {
	Items      []models.DeletedPost `json:"items"`
	Pagination Pagination           `json:"pagination"`
}

// PostUpdate carries the fields to change; nil fields keep their value.
type PostUpdate struct {
	Title   *string
	Content *string
}

type postRow struct {
	ID        uint
	Title     string
	Content   string
	UserID    uint
	Username  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PostService manages posts and their tag set.
type PostService struct {
	db    *gorm.DB
	retry RetryPolicy
}

// NewPostService creates a PostService.
func NewPostService(db *gorm.DB, retry RetryPolicy) *PostService {
	return &PostService{db: db, retry: retry}
}

// CreatePost stores a post and attaches its tags in one transaction.
func (s *PostService) CreatePost(ctx context.Context, authorID uint, title, content string, tags []string) (*PostView, error) {
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if err := checkTitle(title); err != nil {
		return nil, err
	}
	if err := checkText("content", content); err != nil {
		return nil, err
	}
	names, err := normalizeTagNames(tags)
	if err != nil {
		return nil, err
	}

	var post models.Post
	err = transact(ctx, s.db, s.retry, "create_post", func(tx *gorm.DB) error {
		if err := requireUser(tx, authorID); err != nil {
			return err
		}
		post = models.Post{UserID: authorID, Title: title, Content: content}
		if err := tx.Create(&post).Error; err != nil {
			return err
		}
		for _, name := range names {
			if _, err := attachTx(tx, post.ID, name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetPost(ctx, post.ID)
}

// GetPost returns one post with author and tags.
func (s *PostService) GetPost(ctx context.Context, id uint) (*PostView, error) {
	db := s.db.WithContext(ctx)
	var rows []postRow
	if err := postQuery(db).Where("p.id = ?", id).Scan(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, NewNotFoundError("post", id)
	}
	views, err := withTags(db, rows)
	if err != nil {
		return nil, err
	}
	return &views[0], nil
}

// UpdatePost edits title and content. Only the author may edit.
func (s *PostService) UpdatePost(ctx context.Context, actorID, id uint, upd PostUpdate) (*PostView, error) {
	changes := map[string]interface{}{}
	if upd.Title != nil {
		title := strings.TrimSpace(*upd.Title)
		if err := checkTitle(title); err != nil {
			return nil, err
		}
		changes["title"] = title
	}
	if upd.Content != nil {
		content := strings.TrimSpace(*upd.Content)
		if err := checkText("content", content); err != nil {
			return nil, err
		}
		changes["content"] = content
	}

	err := transact(ctx, s.db, s.retry, "update_post", func(tx *gorm.DB) error {
		var p models.Post
		if err := forUpdate(tx).Select("id", "user_id").Take(&p, id).Error; err != nil {
			return notFoundOr(err, "post", id)
		}
		if p.UserID != actorID {
			return NewForbiddenError("only the author can edit this post")
		}
		if len(changes) == 0 {
			return nil
		}
		changes["updated_at"] = time.Now()
		return tx.Model(&models.Post{}).Where("id = ?", id).Updates(changes).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetPost(ctx, id)
}

// DeletePost removes a post with its comments, tag links and reactions. The reputation those reactions
// carried is reversed and an audit row is written, all in one transaction.
func (s *PostService) DeletePost(ctx context.Context, actorID uint, isAdmin bool, id uint) error {
	return transact(ctx, s.db, s.retry, "delete_post", func(tx *gorm.DB) error {
		var p models.Post
		if err := forUpdate(tx).Select("id", "user_id", "title").Take(&p, id).Error; err != nil {
			return notFoundOr(err, "post", id)
		}
		if !isAdmin && p.UserID != actorID {
			return NewForbiddenError("only the author or an administrator can delete this post")
		}

		var commentIDs []uint
		if err := tx.Model(&models.Comment{}).Where("post_id = ?", id).Pluck("id", &commentIDs).Error; err != nil {
			return err
		}
		if err := settleReactions(tx, []uint{id}, commentIDs); err != nil {
			return err
		}

		audit := models.DeletedPost{
			PostID:    p.ID,
			UserID:    p.UserID,
			Title:     p.Title,
			DeletedBy: actorID,
			DeletedAt: time.Now(),
		}
		if err := tx.Create(&audit).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&models.Comment{}).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id = ?", id).Delete(&models.PostTag{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Post{}, id).Error
	})
}

// ListPosts pages through all posts, newest first.
func (s *PostService) ListPosts(ctx context.Context, page Page) (*PostPage, error) {
	return s.list(ctx, page, nil)
}

// ListByAuthor pages through one user's posts, newest first.
func (s *PostService) ListByAuthor(ctx context.Context, authorID uint, page Page) (*PostPage, error) {
	if err := requireUser(s.db.WithContext(ctx), authorID); err != nil {
		return nil, err
	}
	return s.list(ctx, page, func(q *gorm.DB) *gorm.DB {
		return q.Where("p.user_id = ?", authorID)
	})
}

// ListByTag pages through the posts carrying the tag, newest first.
func (s *PostService) ListByTag(ctx context.Context, tag string, page Page) (*PostPage, error) {
	name, err := NormalizeTagName(tag)
	if err != nil {
		return nil, err
	}
	return s.list(ctx, page, func(q *gorm.DB) *gorm.DB {
		return q.Where(taggedWith, name)
	})
}

// Search matches the query against titles and bodies, case-insensitively.
func (s *PostService) Search(ctx context.Context, query string, page Page) (*PostPage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, NewValidationError("search query cannot be empty")
	}
	pattern := "%" + strings.ToLower(query) + "%"
	return s.list(ctx, page, func(q *gorm.DB) *gorm.DB {
		return q.Where("(LOWER(p.title) LIKE ? OR LOWER(p.content) LIKE ?)", pattern, pattern)
	})
}

// DeletedPosts pages through the deletion audit log, most recent first.
func (s *PostService) DeletedPosts(ctx context.Context, page Page) (*DeletedPostPage, error) {
	db := s.db.WithContext(ctx)
	var total int64
	if err := db.Model(&models.DeletedPost{}).Count(&total).Error; err != nil {
		return nil, err
	}
	items := []models.DeletedPost{}
	if err := db.Order("deleted_at DESC, id DESC").Offset(page.Offset()).Limit(page.Limit()).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return &DeletedPostPage{Items: items, Pagination: paginate(page, total)}, nil
}

// taggedWith filters posts aliased as p to those linked to the named tag.
const taggedWith = "EXISTS (SELECT 1 FROM post_tags pt JOIN tags t ON t.id = pt.tag_id WHERE pt.post_id = p.id AND t.name = ?)"

func (s *PostService) list(ctx context.Context, page Page, scope func(*gorm.DB) *gorm.DB) (*PostPage, error) {
	db := s.db.WithContext(ctx)
	if scope == nil {
		scope = func(q *gorm.DB) *gorm.DB { return q }
	}

	var total int64
	if err := scope(db.Table("posts AS p")).Count(&total).Error; err != nil {
		return nil, err
	}
	var rows []postRow
	if err := scope(postQuery(db)).Order("p.created_at DESC, p.id DESC").
		Offset(page.Offset()).Limit(page.Limit()).Scan(&rows).Error; err != nil {
		return nil, err
	}
	views, err := withTags(db, rows)
	if err != nil {
		return nil, err
	}
	return &PostPage{Items: views, Pagination: paginate(page, total)}, nil
}

func postQuery(db *gorm.DB) *gorm.DB {
	return db.Table("posts AS p").
		Select("p.id, p.title, p.content, p.user_id, u.username, p.created_at, p.updated_at").
		Joins("JOIN users u ON u.id = p.user_id")
}

func withTags(db *gorm.DB, rows []postRow) ([]PostView, error) {
	ids := make([]uint, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	tags, err := tagsFor(db, ids)
	if err != nil {
		return nil, err
	}
	views := make([]PostView, 0, len(rows))
	for _, r := range rows {
		names := tags[r.ID]
		if names == nil {
			names = []string{}
		}
		views = append(views, PostView{
			ID:        r.ID,
			Title:     r.Title,
			Content:   r.Content,
			Author:    models.Author{ID: r.UserID, Username: r.Username},
			Tags:      names,
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		})
	}
	return views, nil
}

func checkTitle(title string) error {
	if title == "" {
		return NewValidationError("title cannot be empty")
	}
	if n := utf8.RuneCountInString(title); n > models.PostTitleMaxLength {
		return NewValidationError("title is %d characters, the limit is %d", n, models.PostTitleMaxLength)
	}
	return nil
}

// checkText validates a TEXT column value, which is bounded in bytes.
func checkText(field, text string) error {
	if text == "" {
		return NewValidationError("%s cannot be empty", field)
	}
	if len(text) > models.TextMaxBytes {
		return NewValidationError("%s is %d bytes, the limit is %d", field, len(text), models.TextMaxBytes)
	}
	return nil
}

// normalizeTagNames validates and de-duplicates tag names, keeping first-seen order.
func normalizeTagNames(raw []string) ([]string, error) {
	seen := make(map[string]bool, len(raw))
	names := make([]string, 0, len(raw))
	for _, r := range raw {
		name, err := NormalizeTagName(r)
		if err != nil {
			return nil, err
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, nil
}

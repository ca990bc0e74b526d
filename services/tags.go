package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/reverence/models"
)

// TagCount is a tag with the number of posts carrying it.
type TagCount struct {
	ID        uint   `json:"id"`
	Name      string `json:"name"`
	PostCount int64  `json:"post_count"`
}

// TagLink is the result of attaching a tag. Linked is false when the post already carried the tag.
type TagLink struct {
	PostID uint       `json:"post_id"`
	Tag    models.Tag `json:"tag"`
	Linked bool       `json:"linked"`
}

// TagService manages tags and their links to posts.
type TagService struct {
	db    *gorm.DB
	retry RetryPolicy
}

// NewTagService creates a TagService.
func NewTagService(db *gorm.DB, retry RetryPolicy) *TagService {
	return &TagService{db: db, retry: retry}
}

// NormalizeTagName trims and NFC-normalizes a tag name. Case is kept as given.
func NormalizeTagName(name string) (string, error) {
	name = norm.NFC.String(strings.TrimSpace(name))
	if name == "" {
		return "", NewValidationError("tag name cannot be empty")
	}
	if utf8.RuneCountInString(name) > models.TagNameMaxLength {
		return "", NewValidationError("tag name exceeds %d characters", models.TagNameMaxLength)
	}
	return name, nil
}

// Attach links the named tag to the post, creating the tag when needed. Repeated calls are no-ops.
func (s *TagService) Attach(ctx context.Context, postID uint, name string) (*TagLink, error) {
	name, err := NormalizeTagName(name)
	if err != nil {
		return nil, err
	}

	var link TagLink
	err = transact(ctx, s.db, s.retry, "attach_tag", func(tx *gorm.DB) error {
		var p models.Post
		if err := forShare(tx).Select("id").Take(&p, postID).Error; err != nil {
			return notFoundOr(err, "post", postID)
		}
		l, err := attachTx(tx, postID, name)
		if err != nil {
			return err
		}
		link = l
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// attachTx links an already normalized tag name to a post inside the caller's transaction.
func attachTx(tx *gorm.DB, postID uint, name string) (TagLink, error) {
	tag, err := findOrCreateTag(tx, name)
	if err != nil {
		return TagLink{}, err
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.PostTag{PostID: postID, TagID: tag.ID})
	if res.Error != nil {
		return TagLink{}, res.Error
	}
	return TagLink{PostID: postID, Tag: tag, Linked: res.RowsAffected > 0}, nil
}

func findOrCreateTag(tx *gorm.DB, name string) (models.Tag, error) {
	candidate := models.Tag{Name: name}
	if err := tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}).
		Create(&candidate).Error; err != nil {
		return models.Tag{}, err
	}
	var tag models.Tag
	if err := tx.Where("name = ?", name).Take(&tag).Error; err != nil {
		return models.Tag{}, err
	}
	return tag, nil
}

// Detach removes the named tag from the post and reports whether a link existed.
func (s *TagService) Detach(ctx context.Context, postID uint, name string) (bool, error) {
	name, err := NormalizeTagName(name)
	if err != nil {
		return false, err
	}
	db := s.db.WithContext(ctx)
	if err := requirePost(db, postID); err != nil {
		return false, err
	}

	var tag models.Tag
	err = db.Where("name = ?", name).Take(&tag).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	res := db.Where("post_id = ? AND tag_id = ?", postID, tag.ID).Delete(&models.PostTag{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListAll returns every tag with its post count, ordered by name.
func (s *TagService) ListAll(ctx context.Context) ([]TagCount, error) {
	tags := []TagCount{}
	err := tagCountQuery(s.db.WithContext(ctx)).Order("t.name ASC, t.id ASC").Scan(&tags).Error
	return tags, err
}

// Get returns one tag by name with its post count.
func (s *TagService) Get(ctx context.Context, name string) (*TagCount, error) {
	name, err := NormalizeTagName(name)
	if err != nil {
		return nil, err
	}
	var tags []TagCount
	if err := tagCountQuery(s.db.WithContext(ctx)).Where("t.name = ?", name).Scan(&tags).Error; err != nil {
		return nil, err
	}
	if len(tags) == 0 {
		return nil, NewNotFoundError("tag", name)
	}
	return &tags[0], nil
}

// Rename changes a tag's name. The new name must not belong to another tag.
func (s *TagService) Rename(ctx context.Context, id uint, newName string) (*models.Tag, error) {
	newName, err := NormalizeTagName(newName)
	if err != nil {
		return nil, err
	}

	var tag models.Tag
	err = transact(ctx, s.db, s.retry, "rename_tag", func(tx *gorm.DB) error {
		if err := forUpdate(tx).Take(&tag, id).Error; err != nil {
			return notFoundOr(err, "tag", id)
		}
		if tag.Name == newName {
			return nil
		}
		var taken int64
		if err := tx.Model(&models.Tag{}).Where("name = ? AND id <> ?", newName, id).Count(&taken).Error; err != nil {
			return err
		}
		if taken > 0 {
			return NewConflictError("tag name already in use")
		}
		if err := tx.Model(&tag).Update("name", newName).Error; err != nil {
			if isUniqueViolation(err) {
				return NewConflictError("tag name already in use")
			}
			return err
		}
		tag.Name = newName
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tag, nil
}

// Delete removes a tag and its links.
func (s *TagService) Delete(ctx context.Context, id uint) error {
	return transact(ctx, s.db, s.retry, "delete_tag", func(tx *gorm.DB) error {
		var tag models.Tag
		if err := forUpdate(tx).Take(&tag, id).Error; err != nil {
			return notFoundOr(err, "tag", id)
		}
		if err := tx.Where("tag_id = ?", id).Delete(&models.PostTag{}).Error; err != nil {
			return err
		}
		return tx.Delete(&tag).Error
	})
}

func tagCountQuery(db *gorm.DB) *gorm.DB {
	return db.Table("tags AS t").
		Select("t.id, t.name, (SELECT COUNT(*) FROM post_tags pt WHERE pt.tag_id = t.id) AS post_count")
}

// tagsFor returns the sorted tag names of each post.
func tagsFor(db *gorm.DB, postIDs []uint) (map[uint][]string, error) {
	out := make(map[uint][]string, len(postIDs))
	if len(postIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		PostID uint
		Name   string
	}
	err := db.Table("post_tags AS pt").
		Select("pt.post_id, t.name").
		Joins("JOIN tags t ON t.id = pt.tag_id").
		Where("pt.post_id IN ?", postIDs).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		out[r.PostID] = append(out[r.PostID], r.Name)
	}
	for id := range out {
		sort.Strings(out[id])
	}
	return out, nil
}

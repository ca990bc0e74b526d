package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/reverence/models"
	"github.com/cppla/reverence/utils"
)

// Outcomes of SetReaction.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionRemoved = "removed"
)

var reactionWeights = map[string]int{
	models.ReactionLike:    1,
	models.ReactionLove:    2,
	models.ReactionDislike: -1,
}

// Weight is the reputation a reaction kind is worth to the target owner.
func Weight(kind string) int {
	return reactionWeights[kind]
}

// ReactionChange describes what SetReaction did.
type ReactionChange struct {
	Action          string `json:"action"`
	TargetKind      string `json:"target_kind"`
	TargetID        uint   `json:"target_id"`
	Previous        string `json:"previous,omitempty"`
	Current         string `json:"current,omitempty"`
	OwnerID         uint   `json:"owner_id"`
	ReputationDelta int    `json:"reputation_delta"`
}

// ReactionStats counts the reactions on one target.
type ReactionStats struct {
	Likes    int64 `json:"likes"`
	Loves    int64 `json:"loves"`
	Dislikes int64 `json:"dislikes"`
	Total    int64 `json:"total"`
}

func (s *ReactionStats) add(kind string, n int64) {
	switch kind {
	case models.ReactionLike:
		s.Likes += n
	case models.ReactionLove:
		s.Loves += n
	case models.ReactionDislike:
		s.Dislikes += n
	}
	s.Total += n
}

// ReactionService owns reaction rows and the reputation they transfer to content owners.
type ReactionService struct {
	db    *gorm.DB
	retry RetryPolicy
}

// NewReactionService creates a ReactionService.
func NewReactionService(db *gorm.DB, retry RetryPolicy) *ReactionService {
	return &ReactionService{db: db, retry: retry}
}

// SetReaction applies kind from userID to the target: insert when absent, toggle off when the same kind
// is held, switch kinds otherwise. The reaction row and the owner's reputation change commit together.
func (s *ReactionService) SetReaction(ctx context.Context, userID uint, targetKind string, targetID uint, kind string) (*ReactionChange, error) {
	if err := validateTargetKind(targetKind); err != nil {
		return nil, err
	}
	if err := validateReactionKind(kind); err != nil {
		return nil, err
	}

	var change ReactionChange
	err := transact(ctx, s.db, s.retry, "set_reaction", func(tx *gorm.DB) error {
		change = ReactionChange{TargetKind: targetKind, TargetID: targetID}

		if err := requireUser(tx, userID); err != nil {
			return err
		}
		ownerID, err := lockTarget(tx, targetKind, targetID)
		if err != nil {
			return err
		}
		change.OwnerID = ownerID

		existing, err := lockReaction(tx, userID, targetKind, targetID)
		if err != nil {
			return err
		}

		var delta int
		switch {
		case existing == nil:
			row := models.Reaction{UserID: userID, TargetKind: targetKind, TargetID: targetID, Kind: kind}
			if err := tx.Create(&row).Error; err != nil {
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %v", errLostInsertRace, err)
				}
				return err
			}
			change.Action = ActionCreated
			change.Current = kind
			delta = Weight(kind)
		case existing.Kind == kind:
			if err := tx.Delete(&models.Reaction{}, existing.ID).Error; err != nil {
				return err
			}
			change.Action = ActionRemoved
			change.Previous = kind
			delta = -Weight(kind)
		default:
			if err := tx.Model(&models.Reaction{}).Where("id = ?", existing.ID).
				Updates(map[string]interface{}{"kind": kind, "updated_at": time.Now()}).Error; err != nil {
				return err
			}
			change.Action = ActionUpdated
			change.Previous = existing.Kind
			change.Current = kind
			delta = Weight(kind) - Weight(existing.Kind)
		}

		if ownerID != userID && delta != 0 {
			if err := adjustReputation(tx, ownerID, delta); err != nil {
				return err
			}
			change.ReputationDelta = delta
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	utils.ReactionOperations.WithLabelValues(change.Action).Inc()
	return &change, nil
}

// RemoveReaction deletes userID's reaction on the target and reverses its weight.
// It reports false when there was nothing to remove.
func (s *ReactionService) RemoveReaction(ctx context.Context, userID uint, targetKind string, targetID uint) (bool, error) {
	change, err := s.Withdraw(ctx, userID, targetKind, targetID)
	if err != nil {
		return false, err
	}
	return change.Action == ActionRemoved, nil
}

// Withdraw is RemoveReaction reporting the full change, including the owner whose reputation moved.
// Action is empty when there was nothing to remove.
func (s *ReactionService) Withdraw(ctx context.Context, userID uint, targetKind string, targetID uint) (*ReactionChange, error) {
	if err := validateTargetKind(targetKind); err != nil {
		return nil, err
	}

	var change ReactionChange
	err := transact(ctx, s.db, s.retry, "remove_reaction", func(tx *gorm.DB) error {
		change = ReactionChange{TargetKind: targetKind, TargetID: targetID}
		ownerID, err := lockTarget(tx, targetKind, targetID)
		if err != nil {
			return err
		}
		change.OwnerID = ownerID
		existing, err := lockReaction(tx, userID, targetKind, targetID)
		if err != nil || existing == nil {
			return err
		}
		if err := tx.Delete(&models.Reaction{}, existing.ID).Error; err != nil {
			return err
		}
		change.Action = ActionRemoved
		change.Previous = existing.Kind
		if ownerID != userID {
			change.ReputationDelta = -Weight(existing.Kind)
			return adjustReputation(tx, ownerID, change.ReputationDelta)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if change.Action == ActionRemoved {
		utils.ReactionOperations.WithLabelValues(ActionRemoved).Inc()
	}
	return &change, nil
}

// StatsFor counts the reactions on an existing target.
func (s *ReactionService) StatsFor(ctx context.Context, targetKind string, targetID uint) (*ReactionStats, error) {
	if err := validateTargetKind(targetKind); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	if _, _, err := targetOwner(db, targetKind, targetID); err != nil {
		return nil, err
	}

	all, err := reactionStatsFor(db, targetKind, []uint{targetID})
	if err != nil {
		return nil, err
	}
	stats := all[targetID]
	return &stats, nil
}

// StatsForMany counts reactions for several targets of one kind. Targets without reactions get zero stats.
func (s *ReactionService) StatsForMany(ctx context.Context, targetKind string, targetIDs []uint) (map[uint]ReactionStats, error) {
	if err := validateTargetKind(targetKind); err != nil {
		return nil, err
	}
	return reactionStatsFor(s.db.WithContext(ctx), targetKind, targetIDs)
}

// ReactionOf returns userID's current reaction kind on the target, or "" when none.
func (s *ReactionService) ReactionOf(ctx context.Context, userID uint, targetKind string, targetID uint) (string, error) {
	if err := validateTargetKind(targetKind); err != nil {
		return "", err
	}
	var r models.Reaction
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND target_kind = ? AND target_id = ?", userID, targetKind, targetID).
		Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return r.Kind, nil
}

func reactionStatsFor(db *gorm.DB, targetKind string, targetIDs []uint) (map[uint]ReactionStats, error) {
	out := make(map[uint]ReactionStats, len(targetIDs))
	for _, id := range targetIDs {
		out[id] = ReactionStats{}
	}
	if len(targetIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		TargetID uint
		Kind     string
		N        int64
	}
	err := db.Model(&models.Reaction{}).
		Select("target_id, kind, COUNT(*) AS n").
		Where("target_kind = ? AND target_id IN ?", targetKind, targetIDs).
		Group("target_id, kind").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		st := out[r.TargetID]
		st.add(r.Kind, r.N)
		out[r.TargetID] = st
	}
	return out, nil
}

func validateTargetKind(kind string) error {
	switch kind {
	case models.TargetPost, models.TargetComment:
		return nil
	}
	return NewValidationError("invalid target kind %q, expected post or comment", kind)
}

func validateReactionKind(kind string) error {
	if _, ok := reactionWeights[kind]; ok {
		return nil
	}
	return NewValidationError("invalid reaction kind %q, expected like, love or dislike", kind)
}

func requireUser(tx *gorm.DB, userID uint) error {
	var n int64
	if err := tx.Model(&models.User{}).Where("id = ?", userID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return NewNotFoundError("user", userID)
	}
	return nil
}

// targetOwner returns the owner and the post of a reactable without locking it.
func targetOwner(tx *gorm.DB, targetKind string, targetID uint) (ownerID, postID uint, err error) {
	switch targetKind {
	case models.TargetPost:
		var p models.Post
		if err := tx.Select("id", "user_id").Take(&p, targetID).Error; err != nil {
			return 0, 0, notFoundOr(err, "post", targetID)
		}
		return p.UserID, p.ID, nil
	default:
		var c models.Comment
		if err := tx.Select("id", "user_id", "post_id").Take(&c, targetID).Error; err != nil {
			return 0, 0, notFoundOr(err, "comment", targetID)
		}
		return c.UserID, c.PostID, nil
	}
}

// lockTarget share-locks the target's post (and the comment itself for comment targets) so the content
// cannot be deleted and settled while a reaction on it is in flight. Posts are always locked before comments.
func lockTarget(tx *gorm.DB, targetKind string, targetID uint) (uint, error) {
	ownerID, postID, err := targetOwner(tx, targetKind, targetID)
	if err != nil {
		return 0, err
	}
	var p models.Post
	if err := forShare(tx).Select("id", "user_id").Take(&p, postID).Error; err != nil {
		return 0, notFoundOr(err, targetKind, targetID)
	}
	if targetKind == models.TargetPost {
		return p.UserID, nil
	}
	var c models.Comment
	if err := forShare(tx).Select("id", "user_id").Take(&c, targetID).Error; err != nil {
		return 0, notFoundOr(err, "comment", targetID)
	}
	return ownerID, nil
}

// lockReaction returns the user's reaction on the target locked for update, or nil.
func lockReaction(tx *gorm.DB, userID uint, targetKind string, targetID uint) (*models.Reaction, error) {
	var r models.Reaction
	err := forUpdate(tx).
		Where("user_id = ? AND target_kind = ? AND target_id = ?", userID, targetKind, targetID).
		Take(&r).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ensureProfile creates the user's profile row when missing; an existing row is left alone.
func ensureProfile(tx *gorm.DB, userID uint) error {
	p := models.Profile{UserID: userID}
	return tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).
		Create(&p).Error
}

// adjustReputation adds delta to the owner's reputation: read-modify-write under a row lock on the profile.
func adjustReputation(tx *gorm.DB, ownerID uint, delta int) error {
	if delta == 0 {
		return nil
	}
	if err := ensureProfile(tx, ownerID); err != nil {
		return err
	}
	var p models.Profile
	if err := forUpdate(tx).Where("user_id = ?", ownerID).Take(&p).Error; err != nil {
		return err
	}
	return tx.Model(&models.Profile{}).Where("id = ?", p.ID).
		Updates(map[string]interface{}{"reputation": p.Reputation + delta, "updated_at": time.Now()}).Error
}

// settleReactions reverses the reputation carried by every reaction on the given posts and comments and
// deletes those reactions. Callers hold an exclusive lock on the owning post, which blocks new reactions.
func settleReactions(tx *gorm.DB, postIDs, commentIDs []uint) error {
	var rows []contribution

	if len(postIDs) > 0 {
		var part []contribution
		err := tx.Table("reactions AS r").
			Select("r.user_id, r.kind, p.user_id AS owner_id").
			Joins("JOIN posts p ON p.id = r.target_id").
			Where("r.target_kind = ? AND r.target_id IN ?", models.TargetPost, postIDs).
			Scan(&part).Error
		if err != nil {
			return err
		}
		rows = append(rows, part...)
	}
	if len(commentIDs) > 0 {
		var part []contribution
		err := tx.Table("reactions AS r").
			Select("r.user_id, r.kind, c.user_id AS owner_id").
			Joins("JOIN comments c ON c.id = r.target_id").
			Where("r.target_kind = ? AND r.target_id IN ?", models.TargetComment, commentIDs).
			Scan(&part).Error
		if err != nil {
			return err
		}
		rows = append(rows, part...)
	}

	if err := reverseContributions(tx, rows); err != nil {
		return err
	}

	if len(postIDs) > 0 {
		if err := tx.Where("target_kind = ? AND target_id IN ?", models.TargetPost, postIDs).
			Delete(&models.Reaction{}).Error; err != nil {
			return err
		}
	}
	if len(commentIDs) > 0 {
		if err := tx.Where("target_kind = ? AND target_id IN ?", models.TargetComment, commentIDs).
			Delete(&models.Reaction{}).Error; err != nil {
			return err
		}
	}
	return nil
}

// settleGivenReactions reverses and deletes every reaction userID has given, wherever it points.
func settleGivenReactions(tx *gorm.DB, userID uint) error {
	var rows []contribution
	for _, q := range []struct {
		kind string
		join string
	}{
		{models.TargetPost, "JOIN posts o ON o.id = r.target_id"},
		{models.TargetComment, "JOIN comments o ON o.id = r.target_id"},
	} {
		var part []contribution
		err := tx.Table("reactions AS r").
			Select("r.user_id, r.kind, o.user_id AS owner_id").
			Joins(q.join).
			Where("r.user_id = ? AND r.target_kind = ?", userID, q.kind).
			Scan(&part).Error
		if err != nil {
			return err
		}
		rows = append(rows, part...)
	}
	if err := reverseContributions(tx, rows); err != nil {
		return err
	}
	return tx.Where("user_id = ?", userID).Delete(&models.Reaction{}).Error
}

// contribution is one reaction's weight flowing from UserID to OwnerID.
type contribution struct {
	UserID  uint
	Kind    string
	OwnerID uint
}

// reverseContributions subtracts the weight of each non-self contribution from its owner's reputation.
func reverseContributions(tx *gorm.DB, rows []contribution) error {
	deltas := map[uint]int{}
	for _, r := range rows {
		if r.UserID != r.OwnerID {
			deltas[r.OwnerID] -= Weight(r.Kind)
		}
	}
	owners := make([]uint, 0, len(deltas))
	for id := range deltas {
		owners = append(owners, id)
	}
	// ascending owner order keeps profile locks acquired in one global order
	sort.Slice(owners, func(i, j int) bool { return owners[i] < owners[j] })
	for _, id := range owners {
		if err := adjustReputation(tx, id, deltas[id]); err != nil {
			return err
		}
	}
	return nil
}

func notFoundOr(err error, resource string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NewNotFoundError(resource, id)
	}
	return err
}

package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/tubematch/internal/db"
)

// MatchRepository provides data access methods for confirmed matches.
type MatchRepository struct {
	db *gorm.DB
}

// NewMatchRepository creates a new repository bound to the given DB connection.
func NewMatchRepository(database *gorm.DB) *MatchRepository {
	return &MatchRepository{db: database}
}

// ConfirmMatch turns the prematch user → match into a confirmed match.
//
// Behavior:
//   - Runs in one transaction.
//   - Fails with gorm.ErrRecordNotFound if user → match is not a prematch.
//   - Inserts the undirected match with the prematch's relevancy score.
//   - Deletes both prematch directions for the pair.
//
// Example:
//
//	repo.ConfirmMatch(ctx, 1, 2) // user 1 accepted candidate 2
func (r *MatchRepository) ConfirmMatch(ctx context.Context, userID, matchUserID uint64) (*db.Match, error) {
	var match db.Match
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p db.Prematch
		if err := tx.Where("user_id = ? AND match_user_id = ?", userID, matchUserID).First(&p).Error; err != nil {
			return err
		}

		match = db.Match{
			User1ID:        userID,
			User2ID:        matchUserID,
			RelevancyScore: p.RelevancyScore,
		}
		if err := tx.Create(&match).Error; err != nil {
			return err
		}

		return tx.
			Where("(user_id = ? AND match_user_id = ?) OR (user_id = ? AND match_user_id = ?)",
				userID, matchUserID, matchUserID, userID).
			Delete(&db.Prematch{}).Error
	})
	if err != nil {
		return nil, err
	}
	return &match, nil
}

// CountMatchesSince counts matches created at or after since.
func (r *MatchRepository) CountMatchesSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Match{}).
		Where("created_at >= ?", since).
		Count(&count).Error
	return count, err
}

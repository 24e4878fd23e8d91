package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/oggyb/tubematch/internal/db"
)

const prematchBatchSize = 500

// PrematchRepository provides data access methods for the Prematch model.
// It covers both the batch writes of the matching pass and the per-user
// review cursor (skip / unskip).
type PrematchRepository struct {
	db *gorm.DB
}

// NewPrematchRepository creates a new repository bound to the given DB connection.
func NewPrematchRepository(database *gorm.DB) *PrematchRepository {
	return &PrematchRepository{db: database}
}

// ListPrematchPairs returns the set of existing (user_id, match_user_id) edges.
func (r *PrematchRepository) ListPrematchPairs(ctx context.Context) (map[Pair]struct{}, error) {
	var rows []Pair
	err := r.db.WithContext(ctx).
		Model(&db.Prematch{}).
		Select("user_id, match_user_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	pairs := make(map[Pair]struct{}, len(rows))
	for _, p := range rows {
		pairs[p] = struct{}{}
	}
	return pairs, nil
}

// InsertPrematches writes candidate edges and returns how many rows were created.
//
// Behavior:
//   - Rows are inserted in batches of 500.
//   - A row whose (user_id, match_user_id) already exists is silently skipped
//     (unique index + ON CONFLICT DO NOTHING), so two passes racing on the same
//     pair never produce a duplicate or an error.
//
// Example:
//
//	n, err := repo.InsertPrematches(ctx, []db.Prematch{{UserID: 1, MatchUserID: 2, RelevancyScore: 4}})
func (r *PrematchRepository) InsertPrematches(ctx context.Context, rows []db.Prematch) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "match_user_id"}},
			DoNothing: true,
		}).
		CreateInBatches(&rows, prematchBatchSize)
	return res.RowsAffected, res.Error
}

func (r *PrematchRepository) CountPrematches(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.Prematch{}).Count(&count).Error
	return count, err
}

// RelevancyDistribution counts prematches per relevancy score.
func (r *PrematchRepository) RelevancyDistribution(ctx context.Context) (map[int]int64, error) {
	var rows []bucketRow
	err := r.db.WithContext(ctx).
		Model(&db.Prematch{}).
		Select("relevancy_score AS bucket, COUNT(*) AS total").
		Group("relevancy_score").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDistribution(rows), nil
}

// CountSkippedPrematchesSince counts skipped prematches created at or after since.
func (r *PrematchRepository) CountSkippedPrematchesSince(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Prematch{}).
		Where("skipped = ? AND created_at >= ?", true, since).
		Count(&count).Error
	return count, err
}

func (r *PrematchRepository) CountPrematchesForUser(ctx context.Context, userID uint64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&db.Prematch{}).
		Where("user_id = ?", userID).
		Count(&count).Error
	return count, err
}

// HasUnskippedPrematch reports whether the user still has candidates to review.
func (r *PrematchRepository) HasUnskippedPrematch(ctx context.Context, userID uint64) (bool, error) {
	var ids []uint64
	err := r.db.WithContext(ctx).
		Model(&db.Prematch{}).
		Where("user_id = ? AND skipped = ?", userID, false).
		Limit(1).
		Pluck("id", &ids).Error
	return len(ids) > 0, err
}

// UnskipAll resets the review cursor for every prematch of the user.
func (r *PrematchRepository) UnskipAll(ctx context.Context, userID uint64) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&db.Prematch{}).
		Where("user_id = ? AND skipped = ?", userID, true).
		Update("skipped", false)
	return res.RowsAffected, res.Error
}

// NextPrematch returns the user's best candidate: unskipped first, then by
// relevancy score descending. Returns gorm.ErrRecordNotFound when the user
// has no prematches at all.
func (r *PrematchRepository) NextPrematch(ctx context.Context, userID uint64) (*db.Prematch, error) {
	var p db.Prematch
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("skipped ASC, relevancy_score DESC, id ASC").
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPrematch loads the directed edge user → match.
func (r *PrematchRepository) GetPrematch(ctx context.Context, userID, matchUserID uint64) (*db.Prematch, error) {
	var p db.Prematch
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND match_user_id = ?", userID, matchUserID).
		First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SkipPrematch marks user → match as skipped.
// Returns gorm.ErrRecordNotFound if the edge does not exist.
func (r *PrematchRepository) SkipPrematch(ctx context.Context, userID, matchUserID uint64) error {
	res := r.db.WithContext(ctx).
		Model(&db.Prematch{}).
		Where("user_id = ? AND match_user_id = ?", userID, matchUserID).
		Update("skipped", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// some drivers report 0 for rows that were already skipped
		_, err := r.GetPrematch(ctx, userID, matchUserID)
		return err
	}
	return nil
}

// PrematchDetail is a prematch edge with both user names resolved.
type PrematchDetail struct {
	ID             uint64 `json:"id"`
	UserID         uint64 `json:"user_id"`
	MatchUserID    uint64 `json:"match_user_id"`
	RelevancyScore int    `json:"relevancy_score"`
	UserName       string `json:"user_name"`
	MatchUserName  string `json:"match_user_name"`
}

// ListPrematchDetails returns up to limit prematches, best scores first.
func (r *PrematchRepository) ListPrematchDetails(ctx context.Context, limit int) ([]PrematchDetail, error) {
	var rows []PrematchDetail
	err := r.db.WithContext(ctx).
		Table("prematches AS p").
		Select("p.id, p.user_id, p.match_user_id, p.relevancy_score, u.name AS user_name, m.name AS match_user_name").
		Joins("JOIN users u ON u.id = p.user_id").
		Joins("JOIN users m ON m.id = p.match_user_id").
		Order("p.relevancy_score DESC, p.id ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

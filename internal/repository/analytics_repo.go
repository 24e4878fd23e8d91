package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/tubematch/internal/db"
	svcErr "github.com/oggyb/tubematch/internal/errors"
	"github.com/oggyb/tubematch/internal/utils/pagination"
)

// AnalyticsRepository stores analytics snapshots. Snapshots form an
// append-only time series: the repository can create and read them but
// deliberately has no update or delete methods.
type AnalyticsRepository struct {
	db *gorm.DB
}

// NewAnalyticsRepository creates a new repository bound to the given DB connection.
func NewAnalyticsRepository(database *gorm.DB) *AnalyticsRepository {
	return &AnalyticsRepository{db: database}
}

// CreateSnapshot appends one snapshot.
func (r *AnalyticsRepository) CreateSnapshot(ctx context.Context, s *db.AnalyticsSnapshot) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *AnalyticsRepository) CountSnapshots(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.AnalyticsSnapshot{}).Count(&count).Error
	return count, err
}

// LatestSnapshot returns the most recent snapshot or gorm.ErrRecordNotFound.
func (r *AnalyticsRepository) LatestSnapshot(ctx context.Context) (*db.AnalyticsSnapshot, error) {
	var s db.AnalyticsSnapshot
	err := r.db.WithContext(ctx).
		Order("timestamp DESC, id DESC").
		First(&s).Error
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListSnapshots returns snapshots newest first.
//
// Behavior:
//   - Ordered by timestamp DESC, id DESC.
//   - Supports cursor-based pagination via paginationToken.
//   - The returned token is nil on the last page.
//   - limit < 1 → InvalidArgument.
//
// Example:
//
//	repo.ListSnapshots(ctx, nil, 31) // current snapshot + 30 historical ones
func (r *AnalyticsRepository) ListSnapshots(
	ctx context.Context,
	paginationToken *string,
	limit int,
) ([]db.AnalyticsSnapshot, *string, error) {
	if limit < 1 {
		return nil, nil, svcErr.InvalidArgument("limit must be at least 1")
	}

	var snapshots []db.AnalyticsSnapshot

	cursor, err := pagination.Decode(getString(paginationToken))
	if err != nil {
		return nil, nil, err
	}

	query := r.db.WithContext(ctx).
		Order("timestamp DESC, id DESC").
		Limit(limit + 1)

	// apply cursor
	if !cursor.IsZero() {
		ts := time.UnixMilli(cursor.TimestampUnix).UTC()
		query = query.Where(
			"(timestamp < ? OR (timestamp = ? AND id < ?))",
			ts, ts, cursor.ID,
		)
	}

	if err := query.Find(&snapshots).Error; err != nil {
		return nil, nil, err
	}

	// pagination: build next cursor if needed
	var nextToken *string
	if len(snapshots) > limit {
		last := snapshots[limit-1]
		token, _ := pagination.Encode(pagination.Cursor{
			ID:            last.ID,
			TimestampUnix: last.Timestamp.UnixMilli(),
		})
		nextToken = &token
		snapshots = snapshots[:limit]
	}

	return snapshots, nextToken, nil
}

// getString safely dereferences a string pointer for pagination tokens.
func getString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

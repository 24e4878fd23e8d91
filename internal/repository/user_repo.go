package repository

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/oggyb/tubematch/internal/db"
)

// UserRepository provides data access methods for the User model.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new repository bound to the given DB connection.
func NewUserRepository(database *gorm.DB) *UserRepository {
	return &UserRepository{db: database}
}

// ListUsers returns every user with the fields the matching pass needs,
// ordered by id.
func (r *UserRepository) ListUsers(ctx context.Context) ([]db.User, error) {
	var users []db.User
	err := r.db.WithContext(ctx).
		Select("id", "name", "matching_param").
		Order("id ASC").
		Find(&users).Error
	return users, err
}

// GetUser loads a single user. Returns gorm.ErrRecordNotFound when absent.
func (r *UserRepository) GetUser(ctx context.Context, id uint64) (*db.User, error) {
	var user db.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *UserRepository) CountUsers(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&db.User{}).Count(&count).Error
	return count, err
}

// UpdateMatchingParam changes the user's minimum common-subscription count.
// Returns gorm.ErrRecordNotFound if the user does not exist.
func (r *UserRepository) UpdateMatchingParam(ctx context.Context, id uint64, param int) error {
	res := r.db.WithContext(ctx).
		Model(&db.User{}).
		Where("id = ?", id).
		Update("matching_param", param)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MatchingParamDistribution counts users per matching_param value.
func (r *UserRepository) MatchingParamDistribution(ctx context.Context) (map[int]int64, error) {
	var rows []bucketRow
	err := r.db.WithContext(ctx).
		Model(&db.User{}).
		Select("matching_param AS bucket, COUNT(*) AS total").
		Group("matching_param").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return toDistribution(rows), nil
}

// CountActiveUsersSince counts distinct users that sent a chat message or
// took part in a match created at or after since.
//
// Behavior:
//   - chats.sender_id, matches.user_1_id and matches.user_2_id are unioned.
//   - A user present in several sources is counted once.
//
// Example:
//
//	repo.CountActiveUsersSince(ctx, time.Now().Add(-24*time.Hour))
func (r *UserRepository) CountActiveUsersSince(ctx context.Context, since time.Time) (int64, error) {
	active := make(map[uint64]struct{})

	sources := []struct {
		model  any
		column string
	}{
		{&db.Chat{}, "sender_id"},
		{&db.Match{}, "user_1_id"},
		{&db.Match{}, "user_2_id"},
	}
	for _, src := range sources {
		var ids []uint64
		err := r.db.WithContext(ctx).
			Model(src.model).
			Where("created_at >= ?", since).
			Distinct().
			Pluck(src.column, &ids).Error
		if err != nil {
			return 0, err
		}
		for _, id := range ids {
			active[id] = struct{}{}
		}
	}
	return int64(len(active)), nil
}

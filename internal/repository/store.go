package repository

import (
	"gorm.io/gorm"
)

// Store is the relationship store adapter used by the workers and the
// explore service. It bundles one repository per table; method names are
// unique across them so the embedded methods can be promoted.
type Store struct {
	*UserRepository
	*SubscriptionRepository
	*PrematchRepository
	*MatchRepository
	*AnalyticsRepository

	db *gorm.DB
}

// NewStore binds every repository to the same DB connection.
func NewStore(database *gorm.DB) *Store {
	return &Store{
		UserRepository:         NewUserRepository(database),
		SubscriptionRepository: NewSubscriptionRepository(database),
		PrematchRepository:     NewPrematchRepository(database),
		MatchRepository:        NewMatchRepository(database),
		AnalyticsRepository:    NewAnalyticsRepository(database),
		db:                     database,
	}
}

// DB exposes the underlying connection, e.g. for health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// Pair identifies a directed prematch edge.
type Pair struct {
	UserID      uint64
	MatchUserID uint64
}

// bucketRow is the scan target for GROUP BY distributions.
type bucketRow struct {
	Bucket int
	Total  int64
}

func toDistribution(rows []bucketRow) map[int]int64 {
	dist := make(map[int]int64, len(rows))
	for _, r := range rows {
		dist[r.Bucket] = r.Total
	}
	return dist
}

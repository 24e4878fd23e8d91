package db

import (
	"time"

	"gorm.io/datatypes"
)

// User table. MatchingParam is the minimum number of shared channels a
// candidate needs before a prematch is created for this user.
type User struct {
	ID            uint64    `gorm:"primaryKey;autoIncrement"`
	Name          string    `gorm:"size:128;not null"`
	Email         string    `gorm:"uniqueIndex;size:128;not null"`
	PasswordHash  string    `gorm:"size:255"`
	City          string    `gorm:"size:128"`
	MatchingParam int       `gorm:"not null;default:3"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime"`
}

// Subscription is one channel a user follows. The same channel appears
// once per subscribed user; overlap is computed on ChannelID.
type Subscription struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement"`
	UserID      uint64    `gorm:"not null;index:idx_subscriptions_user_channel,priority:1"`
	ChannelID   string    `gorm:"size:64;not null;index:idx_subscriptions_user_channel,priority:2;index"`
	ChannelName string    `gorm:"size:255;not null"`
	Category    string    `gorm:"size:64"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

// Prematch is a directed candidate edge UserID → MatchUserID.
//
// Indexes:
//   - idx_prematch_pair(user_id, match_user_id) UNIQUE
//     Concurrent passes racing on the same pair collapse into one row.
//   - idx_prematch_user_skipped_score(user_id, skipped, relevancy_score)
//     Serves the "next candidate" lookup.
//
// Skipped is a review cursor, not a deletion flag.
type Prematch struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	UserID         uint64    `gorm:"not null;uniqueIndex:idx_prematch_pair,priority:1;index:idx_prematch_user_skipped_score,priority:1"`
	MatchUserID    uint64    `gorm:"not null;uniqueIndex:idx_prematch_pair,priority:2"`
	RelevancyScore int       `gorm:"not null;index:idx_prematch_user_skipped_score,priority:3"`
	Skipped        bool      `gorm:"not null;default:false;index:idx_prematch_user_skipped_score,priority:2"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index"`
}

// Match is a confirmed, undirected connection between two users.
type Match struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	User1ID        uint64    `gorm:"column:user_1_id;not null;index"`
	User2ID        uint64    `gorm:"column:user_2_id;not null;index"`
	RelevancyScore int       `gorm:"not null"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index"`
}

// Chat is a message exchanged inside a match. Only read here, to derive
// the active-user count.
type Chat struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	MatchID   uint64    `gorm:"not null;index"`
	SenderID  uint64    `gorm:"not null;index"`
	Message   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime;index"`
}

// PopularChannel is one entry of the snapshot's top-channel ranking.
type PopularChannel struct {
	ChannelID   string `json:"channel_id"`
	ChannelName string `json:"channel_name"`
	Count       int64  `json:"count"`
}

// AnalyticsSnapshot is an append-only, timestamped aggregate of the
// matching system. Rows are inserted once and never updated.
type AnalyticsSnapshot struct {
	ID                        uint64                               `gorm:"primaryKey;autoIncrement"`
	Timestamp                 time.Time                            `gorm:"not null;index"`
	TotalUsers                int64                                `gorm:"not null"`
	ActiveUsers24h            int64                                `gorm:"column:active_users_24h;not null"`
	AvgSubscriptionsPerUser   float64                              `gorm:"not null"`
	TotalPrematches           int64                                `gorm:"not null"`
	AvgPrematchesPerUser      float64                              `gorm:"not null"`
	AvgRelevancyScore         float64                              `gorm:"not null"`
	PrematchDistribution      datatypes.JSONType[map[int]int64]    `gorm:"column:prematch_distribution"`
	CalculationTimeMs         int64                                `gorm:"not null"`
	CacheHitRatio             float64                              `gorm:"not null"`
	QueueLength               int64                                `gorm:"not null"`
	SuccessfulMatches24h      int64                                `gorm:"column:successful_matches_24h;not null"`
	SkipRatio24h              float64                              `gorm:"column:skip_ratio_24h;not null"`
	PopularChannels           datatypes.JSONType[[]PopularChannel] `gorm:"column:popular_channels"`
	MatchingParamDistribution datatypes.JSONType[map[int]int64]    `gorm:"column:matching_param_distribution"`
}

// Models lists every table managed by AutoMigrate, in dependency order.
func Models() []any {
	return []any{
		&User{},
		&Subscription{},
		&Prematch{},
		&Match{},
		&Chat{},
		&AnalyticsSnapshot{},
	}
}

package analytics

import (
	"time"

	"github.com/oggyb/tubematch/internal/db"
)

// Snapshot is the JSON shape of an analytics snapshot, used as the job
// return value and by the snapshot history endpoint.
type Snapshot struct {
	ID                        uint64              `json:"id,omitempty"`
	Timestamp                 time.Time           `json:"timestamp"`
	TotalUsers                int64               `json:"total_users"`
	ActiveUsers24h            int64               `json:"active_users_24h"`
	AvgSubscriptionsPerUser   float64             `json:"avg_subscriptions_per_user"`
	TotalPrematches           int64               `json:"total_prematches"`
	AvgPrematchesPerUser      float64             `json:"avg_prematches_per_user"`
	AvgRelevancyScore         float64             `json:"avg_relevancy_score"`
	PrematchDistribution      map[int]int64       `json:"prematch_distribution"`
	CalculationTimeMs         int64               `json:"calculation_time_ms"`
	CacheHitRatio             float64             `json:"cache_hit_ratio"`
	QueueLength               int64               `json:"queue_length"`
	SuccessfulMatches24h      int64               `json:"successful_matches_24h"`
	SkipRatio24h              float64             `json:"skip_ratio_24h"`
	PopularChannels           []db.PopularChannel `json:"popular_channels"`
	MatchingParamDistribution map[int]int64       `json:"matching_param_distribution"`
}

func ToView(s *db.AnalyticsSnapshot) Snapshot {
	return Snapshot{
		ID:                        s.ID,
		Timestamp:                 s.Timestamp,
		TotalUsers:                s.TotalUsers,
		ActiveUsers24h:            s.ActiveUsers24h,
		AvgSubscriptionsPerUser:   s.AvgSubscriptionsPerUser,
		TotalPrematches:           s.TotalPrematches,
		AvgPrematchesPerUser:      s.AvgPrematchesPerUser,
		AvgRelevancyScore:         s.AvgRelevancyScore,
		PrematchDistribution:      s.PrematchDistribution.Data(),
		CalculationTimeMs:         s.CalculationTimeMs,
		CacheHitRatio:             s.CacheHitRatio,
		QueueLength:               s.QueueLength,
		SuccessfulMatches24h:      s.SuccessfulMatches24h,
		SkipRatio24h:              s.SkipRatio24h,
		PopularChannels:           s.PopularChannels.Data(),
		MatchingParamDistribution: s.MatchingParamDistribution.Data(),
	}
}

package scheduler

import (
	"sort"
	"time"

	"github.com/mkovalv/pvewatch/internal/model"
)

// appendSample adds one live sample and evicts everything older than the
// trailing window
func appendSample(samples []model.Sample, s model.Sample, window time.Duration) []model.Sample {
	samples = append(samples, s)
	return evictBefore(samples, s.Time.Add(-window))
}

// mergeSamples combines a historical backfill with whatever live samples are
// already retained, sorted by time with duplicates (same second) collapsed in
// favor of the later-arriving value
func mergeSamples(live, history []model.Sample, window time.Duration) []model.Sample {
	byTime := make(map[int64]model.Sample, len(live)+len(history))
	for _, s := range history {
		byTime[s.Time.Unix()] = s
	}
	for _, s := range live {
		byTime[s.Time.Unix()] = s
	}

	merged := make([]model.Sample, 0, len(byTime))
	for _, s := range byTime {
		merged = append(merged, s)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Time.Before(merged[j].Time)
	})

	if len(merged) == 0 {
		return merged
	}
	cutoff := merged[len(merged)-1].Time.Add(-window)
	return evictBefore(merged, cutoff)
}

// evictBefore drops samples older than cutoff, assuming ascending order
func evictBefore(samples []model.Sample, cutoff time.Time) []model.Sample {
	idx := sort.Search(len(samples), func(i int) bool {
		return !samples[i].Time.Before(cutoff)
	})
	if idx == 0 {
		return samples
	}
	kept := make([]model.Sample, len(samples)-idx)
	copy(kept, samples[idx:])
	return kept
}

package storage

import (
	"sort"

	"broadcast-engine/internal/models"
)

// tally accumulates one attribute distribution.
type tally map[string]int64

func (t tally) add(key string, n int64) {
	if key == "" {
		key = models.UnknownBucket
	}
	t[key] += n
}

// ranked orders buckets by count descending, then key.
func (t tally) ranked() []models.Bucket {
	out := make([]models.Bucket, 0, len(t))
	for k, n := range t {
		out = append(out, models.Bucket{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// bracketed orders age buckets youngest first with unknown last.
func (t tally) bracketed() []models.Bucket {
	out := make([]models.Bucket, 0, len(t))
	for _, lower := range models.AgeBrackets[:len(models.AgeBrackets)-1] {
		label := models.BracketLabelFor(lower)
		if n := t[label]; n > 0 {
			out = append(out, models.Bucket{Key: label, Count: n})
		}
	}
	if n := t[models.UnknownBucket]; n > 0 {
		out = append(out, models.Bucket{Key: models.UnknownBucket, Count: n})
	}
	return out
}

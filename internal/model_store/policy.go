package model_store

// DefaultStaleThreshold is the number of new messages an artifact tolerates
// before it is retrained.
const DefaultStaleThreshold int64 = 5000

// Policy decides when a stored artifact must be retrained.
type Policy struct {
	Threshold int64
}

func NewPolicy(threshold int64) Policy {
	if threshold < 0 {
		threshold = 0
	}
	return Policy{Threshold: threshold}
}

// IsStale reports whether newCount messages since the watermark exceed the
// threshold. It is false for zero and non-decreasing in newCount.
func (p Policy) IsStale(newCount int64) bool {
	return newCount > p.Threshold
}

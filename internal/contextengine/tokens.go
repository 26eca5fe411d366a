package contextengine

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator estimates a segment's token_count when it has no
// authoritative count, grounded on teradata-labs-loom's cl100k_base
// tiktoken wrapper (a reasonable Claude-compatible approximation).
type TokenEstimator struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

var (
	defaultEstimator     *TokenEstimator
	defaultEstimatorOnce sync.Once
)

// DefaultTokenEstimator returns a process-wide estimator, lazily
// initialized on first use.
func DefaultTokenEstimator() *TokenEstimator {
	defaultEstimatorOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			defaultEstimator = &TokenEstimator{}
			return
		}
		defaultEstimator = &TokenEstimator{encoder: enc}
	})
	return defaultEstimator
}

// Estimate returns the estimated token count for text, falling back to a
// 4-chars-per-token heuristic if the encoder failed to initialize.
func (e *TokenEstimator) Estimate(text string) int {
	if e == nil || e.encoder == nil {
		return len(text) / 4
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.encoder.Encode(text, nil, nil))
}

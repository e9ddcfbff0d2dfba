// Package velocity counts recent credit enquiries per applicant.
package velocity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Namespace is the cache namespace enquiry counters live under. It is
// independent of the model bundle so counts survive a bundle switch.
const Namespace = "enquiries"

// DefaultWindow is used when the configured window is not positive.
const DefaultWindow = 24 * time.Hour

// Service counts scoring requests per applicant inside a rolling window.
// The count feeds policy rules only; it is never a model feature.
type Service struct {
	cache  domain.Cache
	window time.Duration
}

// NewService creates a new velocity service.
func NewService(cache domain.Cache, window time.Duration) *Service {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Service{cache: cache, window: window}
}

// Record registers one enquiry for applicantID and returns the number of
// enquiries in the current window, this one included.
func (s *Service) Record(ctx context.Context, applicantID string) (int64, error) {
	if applicantID == "" {
		return 0, fmt.Errorf("applicant id is required")
	}

	count, err := s.cache.IncrementCounter(ctx, Namespace, applicantKey(applicantID), s.window)
	if err != nil {
		return 0, fmt.Errorf("failed to count enquiries: %w", err)
	}
	return count, nil
}

// Window returns the counting window.
func (s *Service) Window() time.Duration {
	return s.window
}

// applicantKey keeps raw applicant identifiers out of the cache.
func applicantKey(applicantID string) string {
	sum := sha256.Sum256([]byte(applicantID))
	return hex.EncodeToString(sum[:16])
}

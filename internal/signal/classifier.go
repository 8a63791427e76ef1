package signal

import (
	"math"

	"github.com/sawpanic/hashsignal/internal/domain"
)

// Classifier labels a composite value. Stateless and total: NaN is Neutral/Weak.
type Classifier struct {
	cfg ClassifierConfig
}

// NewClassifier creates a classifier
func NewClassifier(cfg ClassifierConfig) Classifier {
	return Classifier{cfg: cfg}
}

// Classify maps value to direction and strength
func (c Classifier) Classify(value float64) (domain.Direction, domain.Strength) {
	if math.IsNaN(value) {
		return domain.Neutral, domain.Weak
	}
	direction := domain.Neutral
	switch {
	case value > c.cfg.Deadband:
		direction = domain.Bullish
	case value < -c.cfg.Deadband:
		direction = domain.Bearish
	}
	strength := domain.Weak
	if math.Abs(value) >= c.cfg.StrongThreshold {
		strength = domain.Strong
	}
	return direction, strength
}

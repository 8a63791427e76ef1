package signal

import (
	"fmt"
	"math"
)

// Weights are the composite coefficients; they must sum to 1.0
type Weights struct {
	Textual    float64 `yaml:"textual"`
	Sentiment  float64 `yaml:"sentiment"`
	Engagement float64 `yaml:"engagement"`
}

// DefaultWeights returns 0.60 textual, 0.30 sentiment, 0.10 engagement
func DefaultWeights() Weights {
	return Weights{Textual: 0.60, Sentiment: 0.30, Engagement: 0.10}
}

// Validate ensures weights are non-negative and sum to approximately 1.0
func (w Weights) Validate() error {
	if w.Textual < 0 || w.Sentiment < 0 || w.Engagement < 0 {
		return fmt.Errorf("weights must be non-negative: %+v", w)
	}
	sum := w.Textual + w.Sentiment + w.Engagement
	if math.Abs(sum-1.0) > 0.001 {
		return fmt.Errorf("weights sum to %.3f, expected 1.0", sum)
	}
	return nil
}

// ConfidenceConfig shapes the dispersion-to-confidence mapping
type ConfidenceConfig struct {
	MaxDispersion float64 `yaml:"max_dispersion"` // 1.0 - std at or above which confidence is zero
	Prior         float64 `yaml:"prior"`          // 2 - pseudo-count shrinking small samples
}

// ClassifierConfig holds the direction deadband and strength threshold
type ClassifierConfig struct {
	Deadband        float64 `yaml:"deadband"`         // 0.05
	StrongThreshold float64 `yaml:"strong_threshold"` // 0.5
}

// Config bundles composer and classifier settings
type Config struct {
	Weights    Weights          `yaml:"weights"`
	Confidence ConfidenceConfig `yaml:"confidence"`
	Classifier ClassifierConfig `yaml:"classifier"`
}

// DefaultConfig returns production signal settings
func DefaultConfig() Config {
	return Config{
		Weights: DefaultWeights(),
		Confidence: ConfidenceConfig{
			MaxDispersion: 1.0,
			Prior:         2,
		},
		Classifier: ClassifierConfig{
			Deadband:        0.05,
			StrongThreshold: 0.5,
		},
	}
}

// Validate checks every section
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return fmt.Errorf("weights: %w", err)
	}
	if c.Confidence.MaxDispersion <= 0 {
		return fmt.Errorf("confidence.max_dispersion must be positive, got %f", c.Confidence.MaxDispersion)
	}
	if c.Confidence.Prior < 0 {
		return fmt.Errorf("confidence.prior must be non-negative, got %f", c.Confidence.Prior)
	}
	if c.Classifier.Deadband < 0 || c.Classifier.Deadband >= 1 {
		return fmt.Errorf("classifier.deadband must be within [0,1), got %f", c.Classifier.Deadband)
	}
	if c.Classifier.StrongThreshold <= c.Classifier.Deadband || c.Classifier.StrongThreshold > 1 {
		return fmt.Errorf("classifier.strong_threshold must be within (deadband,1], got %f", c.Classifier.StrongThreshold)
	}
	return nil
}

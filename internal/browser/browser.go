// Package browser is the automation capability a collection session drives.
// Sessions depend only on this surface, never on a concrete driver.
package browser

import "context"

// Direction of a scroll
type Direction int

const (
	Down Direction = iota
	Up
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}

// Record is one DOM-derived item keyed by field name
type Record map[string]string

// SelectorSet tells ReadVisible how to find items and pull fields out of them.
// A field selector of the form "sel@attr" reads an attribute instead of text;
// "@attr" reads the attribute from the item element itself.
type SelectorSet struct {
	Item   string            `yaml:"item"`
	Fields map[string]string `yaml:"fields"`
}

// KeystrokePacer blocks before each typed rune
type KeystrokePacer interface {
	Keystroke(ctx context.Context, r rune, index int) error
}

// NoDelay types as fast as the driver allows
type NoDelay struct{}

func (NoDelay) Keystroke(context.Context, rune, int) error { return nil }

// Browser is the capability surface. Target arguments are CSS selectors.
type Browser interface {
	OpenPage(ctx context.Context, url string) error
	TypeText(ctx context.Context, target, text string, pacer KeystrokePacer) error
	Click(ctx context.Context, target string) error
	Scroll(ctx context.Context, dir Direction, amount int) error
	ReadVisible(ctx context.Context, sel SelectorSet) ([]Record, error)
	// Present reports whether any element matches selector on the current page
	Present(ctx context.Context, selector string) (bool, error)
	// PageText is the visible text of the current page, used to spot challenge pages
	PageText(ctx context.Context) (string, error)
	Close() error
}

// Factory opens a fresh browser; each session owns the one it gets
type Factory func(ctx context.Context) (Browser, error)

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/licensewatch/internal/license"
)

// ErrNotFound is returned when nothing has been published yet.
var ErrNotFound = errors.New("storage: record not found")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Inventory() InventoryStore
}

// InventoryStore holds the most recent parse pass of the watched directory. Publish
// replaces the previous pass as a whole; passes are never merged.
type InventoryStore interface {
	Publish(ctx context.Context, pass Pass) error
	Latest(ctx context.Context) (*Pass, error)
	Tool(ctx context.Context, tool string) ([]license.Feature, error)
}

// Pass is the result of parsing every file of the watched directory once.
type Pass struct {
	ID       string            `json:"id"`
	ParsedAt time.Time         `json:"parsed_at"`
	Tools    []string          `json:"tools"`
	Features []license.Feature `json:"features"`
}

// ByTool groups the pass's features by tool, preserving order within each tool.
func (p *Pass) ByTool() map[string][]license.Feature {
	out := make(map[string][]license.Feature, len(p.Tools))
	for _, tool := range p.Tools {
		out[tool] = []license.Feature{}
	}
	for _, f := range p.Features {
		out[f.Tool] = append(out[f.Tool], f)
	}
	return out
}

package redis

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/goodtune/licensewatch/internal/storage"
)

// keyspace builds every key the inventory store touches.
type keyspace struct {
	prefix string
}

func (k keyspace) pass() string {
	return k.prefix + ":pass"
}

func (k keyspace) tools() string {
	return k.prefix + ":tools"
}

// toolBase is the key prefix of the per-tool feature documents; the publish script appends
// the tool id itself.
func (k keyspace) toolBase() string {
	return k.prefix + ":tool:"
}

func (k keyspace) tool(tool string) string {
	return k.toolBase() + tool
}

// parsePass converts the pass hash to a Pass without features
func parsePass(data map[string]string) (*storage.Pass, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	parsedAt, err := time.Parse(time.RFC3339Nano, data["parsed_at"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse parsed_at: %w", err)
	}

	tools := []string{}
	if raw := data["tools"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &tools); err != nil {
			return nil, fmt.Errorf("failed to parse tools: %w", err)
		}
	}

	return &storage.Pass{
		ID:       data["id"],
		ParsedAt: parsedAt,
		Tools:    tools,
	}, nil
}

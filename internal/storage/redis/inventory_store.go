package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/licensewatch/internal/license"
	"github.com/goodtune/licensewatch/internal/storage"
	"github.com/redis/go-redis/v9"
)

var publishScript = redis.NewScript(publishInventoryScript)

type inventoryStore struct {
	client *redis.Client
	keys   keyspace
	ttl    time.Duration
}

// Publish replaces the stored pass with pass
func (s *inventoryStore) Publish(ctx context.Context, pass storage.Pass) error {
	tools := pass.Tools
	if tools == nil {
		tools = []string{}
	}
	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		return fmt.Errorf("failed to marshal tools: %w", err)
	}

	args := []interface{}{
		s.keys.toolBase(),
		int64(s.ttl / time.Second),
		pass.ID,
		pass.ParsedAt.Format(time.RFC3339Nano),
		string(toolsJSON),
	}

	grouped := pass.ByTool()
	for _, tool := range tools {
		features, err := json.Marshal(grouped[tool])
		if err != nil {
			return fmt.Errorf("failed to marshal features of %s: %w", tool, err)
		}
		args = append(args, tool, string(features))
	}

	keys := []string{s.keys.pass(), s.keys.tools()}
	if err := publishScript.Run(ctx, s.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("failed to publish pass %s: %w", pass.ID, err)
	}
	return nil
}

// Latest returns the most recently published pass with its features in tool order
func (s *inventoryStore) Latest(ctx context.Context) (*storage.Pass, error) {
	data, err := s.client.HGetAll(ctx, s.keys.pass()).Result()
	if err != nil {
		return nil, err
	}

	pass, err := parsePass(data)
	if err != nil {
		return nil, err
	}

	pass.Features = []license.Feature{}
	if len(pass.Tools) == 0 {
		return pass, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringCmd, len(pass.Tools))
	for i, tool := range pass.Tools {
		cmds[i] = pipe.Get(ctx, s.keys.tool(tool))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	for i, cmd := range cmds {
		features, err := decodeFeatures(cmd)
		if err != nil {
			return nil, fmt.Errorf("tool %s: %w", pass.Tools[i], err)
		}
		pass.Features = append(pass.Features, features...)
	}

	return pass, nil
}

// Tool returns the features of one tool from the latest pass
func (s *inventoryStore) Tool(ctx context.Context, tool string) ([]license.Feature, error) {
	exists, err := s.client.Exists(ctx, s.keys.pass()).Result()
	if err != nil {
		return nil, err
	}
	if exists == 0 {
		return nil, storage.ErrNotFound
	}

	return decodeFeatures(s.client.Get(ctx, s.keys.tool(tool)))
}

// decodeFeatures treats a missing per-tool document as a tool without features
func decodeFeatures(cmd *redis.StringCmd) ([]license.Feature, error) {
	raw, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return []license.Feature{}, nil
	}
	if err != nil {
		return nil, err
	}

	features := []license.Feature{}
	if err := json.Unmarshal([]byte(raw), &features); err != nil {
		return nil, fmt.Errorf("failed to decode features: %w", err)
	}
	return features, nil
}

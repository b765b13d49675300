package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/licensewatch/internal/config"
	"github.com/goodtune/licensewatch/internal/license"
	"github.com/goodtune/licensewatch/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, ttl string) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port", so Port stays 0
	cfg := config.RedisConfig{
		Host:         mr.Addr(),
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
		KeyPrefix:    "lw",
		TTL:          ttl,
	}

	store, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store, mr
}

var parsedAt = time.Date(2025, 6, 26, 16, 30, 0, 0, time.UTC)

func samplePass(id string) storage.Pass {
	return storage.Pass{
		ID:       id,
		ParsedAt: parsedAt,
		Tools:    []string{"cadence", "synopsys"},
		Features: []license.Feature{
			{
				Name: "Virtuoso", Tool: "cadence", TotalLicenses: 5, InUse: 1, Available: 4,
				Version: "2023.09", Expiry: "permanent",
				Users: []string{"jdoe"},
				Sessions: []license.UserSession{{
					Username: "jdoe", Host: "ws01", Port: "ws01:0", Version: "2023.09",
					ProcessID: "5678", StartTime: "Thu 6/26 14:30", ObservedAt: parsedAt,
				}},
			},
			{Name: "VCS", Tool: "synopsys", TotalLicenses: 10, Users: []string{}, Sessions: []license.UserSession{}},
			{Name: "Verdi", Tool: "synopsys", TotalLicenses: 2, Users: []string{}, Sessions: []license.UserSession{}},
		},
	}
}

func TestInventoryStore_PublishAndLatest(t *testing.T) {
	store, _ := setupTestStore(t, "24h")
	ctx := context.Background()
	inv := store.Inventory()

	_, err := inv.Latest(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	pass := samplePass("pass-1")
	require.NoError(t, inv.Publish(ctx, pass))

	latest, err := inv.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pass-1", latest.ID)
	assert.True(t, parsedAt.Equal(latest.ParsedAt))
	assert.Equal(t, pass.Tools, latest.Tools)
	assert.Equal(t, pass.Features, latest.Features)
}

func TestInventoryStore_Tool(t *testing.T) {
	store, _ := setupTestStore(t, "24h")
	ctx := context.Background()
	inv := store.Inventory()

	_, err := inv.Tool(ctx, "synopsys")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, inv.Publish(ctx, samplePass("pass-1")))

	features, err := inv.Tool(ctx, "synopsys")
	require.NoError(t, err)
	require.Len(t, features, 2)
	assert.Equal(t, "VCS", features[0].Name)
	assert.Equal(t, "Verdi", features[1].Name)

	features, err = inv.Tool(ctx, "mentor")
	require.NoError(t, err)
	assert.Empty(t, features)
}

func TestInventoryStore_PublishReplacesPreviousPass(t *testing.T) {
	store, mr := setupTestStore(t, "24h")
	ctx := context.Background()
	inv := store.Inventory()

	require.NoError(t, inv.Publish(ctx, samplePass("pass-1")))
	assert.True(t, mr.Exists("lw:tool:cadence"))

	next := storage.Pass{
		ID:       "pass-2",
		ParsedAt: parsedAt.Add(time.Minute),
		Tools:    []string{"synopsys"},
		Features: []license.Feature{{Name: "VCS", Tool: "synopsys", Users: []string{}, Sessions: []license.UserSession{}}},
	}
	require.NoError(t, inv.Publish(ctx, next))

	assert.False(t, mr.Exists("lw:tool:cadence"), "tools absent from the new pass must be dropped")

	latest, err := inv.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pass-2", latest.ID)
	assert.Equal(t, []string{"synopsys"}, latest.Tools)
	require.Len(t, latest.Features, 1)

	members, err := mr.SMembers("lw:tools")
	require.NoError(t, err)
	assert.Equal(t, []string{"synopsys"}, members)
}

func TestInventoryStore_EmptyPass(t *testing.T) {
	store, _ := setupTestStore(t, "24h")
	ctx := context.Background()
	inv := store.Inventory()

	require.NoError(t, inv.Publish(ctx, storage.Pass{ID: "empty", ParsedAt: parsedAt}))

	latest, err := inv.Latest(ctx)
	require.NoError(t, err)
	assert.Equal(t, "empty", latest.ID)
	assert.Empty(t, latest.Tools)
	assert.Empty(t, latest.Features)
}

func TestInventoryStore_TTL(t *testing.T) {
	store, mr := setupTestStore(t, "1h")
	ctx := context.Background()

	require.NoError(t, store.Inventory().Publish(ctx, samplePass("pass-1")))

	assert.Equal(t, time.Hour, mr.TTL("lw:pass"))
	assert.Equal(t, time.Hour, mr.TTL("lw:tool:synopsys"))

	mr.FastForward(2 * time.Hour)

	_, err := store.Inventory().Latest(ctx)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInventoryStore_NoTTL(t *testing.T) {
	store, mr := setupTestStore(t, "0")
	ctx := context.Background()

	require.NoError(t, store.Inventory().Publish(ctx, samplePass("pass-1")))
	assert.Equal(t, time.Duration(0), mr.TTL("lw:pass"))
}

func TestOpen_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.RedisConfig
	}{
		{"bad dial timeout", config.RedisConfig{DialTimeout: "x", ReadTimeout: "1s", WriteTimeout: "1s"}},
		{"bad ttl", config.RedisConfig{DialTimeout: "1s", ReadTimeout: "1s", WriteTimeout: "1s", TTL: "forever"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Open(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestOpen_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := Open(config.RedisConfig{
		Host:         addr,
		DialTimeout:  "200ms",
		ReadTimeout:  "200ms",
		WriteTimeout: "200ms",
	})
	assert.Error(t, err)
}

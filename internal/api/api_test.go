package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goodtune/licensewatch/internal/inventory"
	"github.com/goodtune/licensewatch/internal/license"
	"github.com/goodtune/licensewatch/internal/storage"
	"github.com/goodtune/licensewatch/internal/storage/memory"
)

const synopsysDump = `Users of VCS:  (Total of 10 licenses issued;  Total of 2 licenses in use)

  "VCS" v2023.09, vendor: snpslmd, expiry: 31-dec-2025

    jdoe flexhost /dev/pts/1 (v2023.09) (flexhost/27000 5678), start Thu 6/26 16:12
    jdoe flexhost /dev/pts/2 (v2023.09) (flexhost/27000 5702), start Thu 6/26 16:15

Users of Verdi:  (Total of 2 licenses issued;  Total of 0 licenses in use)
`

const cadenceDump = `Users of Virtuoso:  (Total of 5 licenses issued;  Total of 0 licenses in use)
`

type stubChecker struct {
	changed bool
	err     error
	calls   int
}

func (s *stubChecker) CheckNow(context.Context) (bool, error) {
	s.calls++
	return s.changed, s.err
}

func newTestServer(t *testing.T, checker ChangeChecker, feed *Broadcaster) (*Server, *inventory.Service) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Synopsys"), []byte(synopsysDump), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cadence"), []byte(cadenceDump), 0644))

	svc, err := inventory.NewService(inventory.Config{Dir: dir, Workers: 2}, memory.New().Inventory(), zerolog.Nop())
	require.NoError(t, err)

	if checker == nil {
		checker = &stubChecker{}
	}
	return NewServer(Config{ListenAddr: "127.0.0.1:0"}, svc, checker, feed, zerolog.Nop()), svc
}

func doRequest(t *testing.T, s *Server, method, path string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	rec, body := doRequest(t, s, "GET", "/api/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, "true", string(body["success"]))
}

func TestTools(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	rec, body := doRequest(t, s, "GET", "/api/tools")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `["synopsys","cadence"]`, string(body["tools"]))
}

func TestLicenses(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	tests := []struct {
		path string
		want []string
	}{
		{"/api/licenses", []string{"VCS", "Verdi", "Virtuoso"}},
		{"/api/licenses?tool=all", []string{"VCS", "Verdi", "Virtuoso"}},
		{"/api/licenses?tool=CADENCE", []string{"Virtuoso"}},
		{"/api/licenses/synopsys", []string{"VCS", "Verdi"}},
		{"/api/licenses/mentor", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec, body := doRequest(t, s, "GET", tt.path)
			require.Equal(t, http.StatusOK, rec.Code)

			var features []license.Feature
			require.NoError(t, json.Unmarshal(body["data"], &features))
			names := []string{}
			for _, f := range features {
				names = append(names, f.Name)
			}
			assert.Equal(t, tt.want, names)
		})
	}
}

func TestLicenses_PayloadShape(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	_, body := doRequest(t, s, "GET", "/api/licenses/synopsys")

	var features []map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body["data"], &features))
	require.NotEmpty(t, features)
	for _, key := range []string{"feature", "totalLicenses", "inUse", "available", "version", "expiry", "tool", "users", "userDetails"} {
		assert.Contains(t, features[0], key)
	}
	assert.JSONEq(t, `["jdoe"]`, string(features[0]["users"]))
	assert.JSONEq(t, "8", string(features[0]["available"]))
}

func TestFeature(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)

	rec, body := doRequest(t, s, "GET", "/api/feature/synopsys/VCS")
	require.Equal(t, http.StatusOK, rec.Code)

	var detail license.FeatureDetail
	require.NoError(t, json.Unmarshal(body["data"], &detail))
	assert.Equal(t, "VCS", detail.Feature)
	assert.Equal(t, map[string]int{"jdoe": 2}, detail.UserUsageCount)
	require.Len(t, detail.UserDetails, 2)
	assert.Equal(t, 2, detail.UserDetails[0].UsageCount)

	rec, body = doRequest(t, s, "GET", "/api/feature/synopsys/Missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, "false", string(body["success"]))
	assert.JSONEq(t, `"Feature not found"`, string(body["error"]))
}

func TestCheckChangesAndRefresh(t *testing.T) {
	checker := &stubChecker{changed: true}
	s, _ := newTestServer(t, checker, nil)

	rec, body := doRequest(t, s, "GET", "/api/check-changes")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "true", string(body["hasChanges"]))

	checker.changed = false
	rec, body = doRequest(t, s, "POST", "/api/licenses/refresh")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "false", string(body["hasChanges"]))
	assert.Equal(t, 2, checker.calls)
}

func TestCheckChanges_Error(t *testing.T) {
	s, _ := newTestServer(t, &stubChecker{err: errors.New("watcher: not running")}, nil)

	rec, body := doRequest(t, s, "GET", "/api/check-changes")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, "false", string(body["success"]))
}

func TestNotFound(t *testing.T) {
	s, _ := newTestServer(t, nil, nil)
	rec, body := doRequest(t, s, "GET", "/api/nope/at/all")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, "false", string(body["success"]))
}

func dialFeed(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFeed(t *testing.T, conn *websocket.Conn) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestFeed(t *testing.T) {
	feed := NewBroadcaster(zerolog.Nop())
	s, svc := newTestServer(t, nil, feed)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialFeed(t, ts)

	msg := readFeed(t, conn)
	assert.JSONEq(t, `"snapshot"`, string(msg["type"]))
	var snapshot storage.Pass
	require.NoError(t, json.Unmarshal(msg["payload"], &snapshot))
	assert.Len(t, snapshot.Features, 3)

	require.Eventually(t, func() bool { return feed.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	pass, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	feed.NotifyChanged(pass)

	msg = readFeed(t, conn)
	assert.JSONEq(t, `"changed"`, string(msg["type"]))
	var changed ChangedPayload
	require.NoError(t, json.Unmarshal(msg["payload"], &changed))
	assert.Equal(t, pass.ID, changed.PassID)
}

func TestFeed_ClientDisconnect(t *testing.T) {
	feed := NewBroadcaster(zerolog.Nop())
	s, _ := newTestServer(t, nil, feed)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialFeed(t, ts)
	readFeed(t, conn)
	require.Eventually(t, func() bool { return feed.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return feed.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestFeed_Close(t *testing.T) {
	feed := NewBroadcaster(zerolog.Nop())
	s, _ := newTestServer(t, nil, feed)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	conn := dialFeed(t, ts)
	readFeed(t, conn)

	feed.Close()
	assert.Equal(t, 0, feed.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err, "server side closes the connection")

	// Closed broadcasters reject new clients
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	late, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer late.Close()
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = late.ReadMessage()
	assert.Error(t, err)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2025, 6, 26, 16, 30, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.1"))
	assert.False(t, rl.Allow("10.0.0.1"))
	assert.True(t, rl.Allow("10.0.0.2"), "clients are limited independently")

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("10.0.0.1"), "a new window restores the budget")

	now = now.Add(5 * time.Minute)
	rl.Allow("10.0.0.3")
	assert.Len(t, rl.requests, 1, "idle buckets are swept")
}

func TestCheckChanges_RateLimited(t *testing.T) {
	dir := t.TempDir()
	svc, err := inventory.NewService(inventory.Config{Dir: dir}, memory.New().Inventory(), zerolog.Nop())
	require.NoError(t, err)
	s := NewServer(Config{CheckRateLimit: 1}, svc, &stubChecker{}, nil, zerolog.Nop())

	rec, _ := doRequest(t, s, "GET", "/api/check-changes")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := doRequest(t, s, "POST", "/api/licenses/refresh")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, "false", string(body["success"]))

	// Read endpoints are not limited
	rec, _ = doRequest(t, s, "GET", "/api/licenses")
	assert.Equal(t, http.StatusOK, rec.Code)
}

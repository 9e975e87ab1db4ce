package server

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/npezzotti/go-typerace/internal/metrics"
	"github.com/npezzotti/go-typerace/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRoomRegistry(t *testing.T) {
	su := &metrics.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", metrics.NumActiveRooms).Return().Once()
	su.On("RegisterMetric", metrics.NumConnectedClients).Return().Once()

	logger := testutil.TestLogger(t)
	opts := DefaultOptions()
	rr := NewRoomRegistry(logger, su, nil, opts)

	assert.NotNil(t, rr, "expected RoomRegistry to be non-nil")
	assert.Equal(t, logger, rr.log, "expected logger to be set")
	assert.Equal(t, opts, rr.opts, "expected options to be set")
	assert.NotNil(t, rr.rooms, "expected rooms map to be initialized")
	assert.NotNil(t, rr.clients, "expected clients map to be initialized")
}

func TestRoomRegistry_addClient_removeClient(t *testing.T) {
	su := &metrics.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", metrics.NumActiveRooms).Return()
	su.On("RegisterMetric", metrics.NumConnectedClients).Return()
	su.On("Incr", metrics.NumConnectedClients).Return().Once()
	su.On("Decr", metrics.NumConnectedClients).Return().Once()

	rr := NewRoomRegistry(testutil.TestLogger(t), su, nil, DefaultOptions())
	c := &Client{}

	rr.addClient(c)
	assert.Contains(t, rr.clients, c, "expected client to be registered")

	rr.removeClient(c)
	rr.removeClient(c)
	assert.NotContains(t, rr.clients, c, "expected client to be removed")
}

func TestRoomRegistry_removeRoom(t *testing.T) {
	su := &metrics.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	su.On("RegisterMetric", metrics.NumActiveRooms).Return()
	su.On("RegisterMetric", metrics.NumConnectedClients).Return()
	su.On("Incr", metrics.NumActiveRooms).Return().Once()
	su.On("Decr", metrics.NumActiveRooms).Return().Once()

	rr := NewRoomRegistry(testutil.TestLogger(t), su, nil, DefaultOptions())
	r, err := rr.CreateRoom(newFakePeer("host"), nil)
	require.NoError(t, err)

	rr.removeRoom(r.code)
	rr.removeRoom(r.code)

	_, ok := rr.Room(r.code)
	assert.False(t, ok, "expected room to be removed")

	close(r.exit)
	select {
	case <-r.done:
	case <-time.After(time.Second):
		t.Error("timeout: expected room to exit")
	}
}

func TestRoomRegistry_ShutdownStopsClients(t *testing.T) {
	rr := newTestRegistry(t, DefaultOptions())
	c := &Client{stop: make(chan struct{})}
	rr.clients[c] = struct{}{}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, rr.Shutdown(ctx))

	select {
	case <-c.stop:
	default:
		t.Error("expected client to be stopped")
	}
}

func TestSanitizeName(t *testing.T) {
	tcs := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Ann", "Ann"},
		{"trimmed", "  Ann  ", "Ann"},
		{"control characters", "A\x00n\tn\n", "Ann"},
		{"empty", "", "Anonymous"},
		{"only whitespace", " \t ", "Anonymous"},
		{"capped", "abcdefghijklmnopqrstuvwxyz0123456789", "abcdefghijklmnopqrstuvwxyz012345"},
		{"multibyte capped by rune", strings.Repeat("é", 40), strings.Repeat("é", 32)},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeName(tc.input))
		})
	}
}

func TestSettingsMerge(t *testing.T) {
	base := defaultSettings()
	merged := base.merge(Settings{"duration": 60, "punctuation": true})

	assert.Equal(t, 60, merged["duration"])
	assert.Equal(t, true, merged["punctuation"])
	assert.Equal(t, "medium", merged["difficulty"])
	assert.Equal(t, 30, base["duration"], "expected merge not to mutate the receiver")
}

func TestGenerateCode(t *testing.T) {
	seen := make(map[string]struct{})
	for range 50 {
		code, err := generateCode()
		require.NoError(t, err)
		require.Len(t, code, codeLength)
		assert.Equal(t, NormalizeCode(code), code, "expected an upper-case code")
		seen[code] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "expected codes to vary")
}

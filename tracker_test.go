package trackpost

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestTracker(t *testing.T, cfg Config, logger zerolog.Logger) *Tracker {
	t.Helper()

	if cfg.QueuePath == "" {
		cfg.QueuePath = filepath.Join(t.TempDir(), "queue.db")
	}
	tr, err := New(cfg, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = tr.Close()
	})
	return tr
}

// collectServer counts requests and answers with a configurable status.
type collectServer struct {
	requests atomic.Int32
	status   atomic.Int32
	*httptest.Server
}

func newCollectServer(t *testing.T) *collectServer {
	t.Helper()

	cs := &collectServer{}
	cs.status.Store(http.StatusOK)
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cs.requests.Add(1)
		w.WriteHeader(int(cs.status.Load()))
		_, _ = w.Write([]byte(`{"status":"success"}`))
	}))
	t.Cleanup(cs.Close)
	return cs
}

func waitForEmptyQueue(t *testing.T, tr *Tracker) {
	t.Helper()
	require.Eventually(t, func() bool {
		n, err := tr.QueuedEvents()
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestTracker_AcceptsAllKinds(t *testing.T) {
	srv := newCollectServer(t)
	tr := newTestTracker(t, Config{
		BaseURL:          srv.URL,
		SiteID:           "42",
		DispatchInterval: Duration(-1),
	}, zerolog.Nop())

	hits := 7
	require.True(t, tr.SendView("settings", "profile"))
	require.True(t, tr.SendEvent("media", "play", "intro"))
	require.True(t, tr.SendException("minor hiccup", false))
	require.True(t, tr.SendSocialInteraction("like", "photo", "facebook"))
	require.True(t, tr.SendGoal("7", 100))
	require.True(t, tr.SendSearch("espresso", "drinks", &hits))

	count, err := tr.QueuedEvents()
	require.NoError(t, err)
	require.Equal(t, 6, count)

	require.False(t, tr.SendView(), "a view needs at least one segment")
}

func TestTracker_DispatchDrains25EventsInOneCycle(t *testing.T) {
	srv := newCollectServer(t)
	tr := newTestTracker(t, Config{
		BaseURL:             srv.URL,
		SiteID:              "42",
		AuthenticationToken: "secret",
		EventsPerRequest:    20,
		DispatchInterval:    Duration(-1),
	}, zerolog.Nop())

	for i := 0; i < 25; i++ {
		require.True(t, tr.SendEvent("load", "burst", ""))
	}

	require.True(t, tr.Dispatch())
	waitForEmptyQueue(t, tr)

	// 20 in the first bulk request, the remaining 5 in a second one within
	// the same cycle
	require.Equal(t, int32(2), srv.requests.Load())
}

func TestTracker_TransportFailureLeavesQueueIntact(t *testing.T) {
	srv := newCollectServer(t)
	srv.status.Store(http.StatusInternalServerError)
	tr := newTestTracker(t, Config{
		BaseURL:             srv.URL,
		SiteID:              "42",
		AuthenticationToken: "secret",
		DispatchInterval:    Duration(-1),
	}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		require.True(t, tr.SendEvent("cat", "act", ""))
	}

	require.True(t, tr.Dispatch())
	require.Eventually(t, func() bool {
		return srv.requests.Load() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	count, err := tr.QueuedEvents()
	require.NoError(t, err)
	require.Equal(t, 5, count)

	// recovery: the same events go out on the next cycle
	srv.status.Store(http.StatusOK)
	require.Eventually(t, func() bool {
		return tr.Dispatch()
	}, 2*time.Second, 10*time.Millisecond)
	waitForEmptyQueue(t, tr)
}

func TestTracker_DebugModeLogsInsteadOfSending(t *testing.T) {
	var buf bytes.Buffer
	tr := newTestTracker(t, Config{
		Debug:            true,
		DispatchInterval: Duration(-1),
	}, zerolog.New(&buf))

	require.True(t, tr.SendView("home"))
	require.True(t, tr.SendEvent("media", "play", ""))
	require.True(t, tr.SendGoal("3", 0))

	require.True(t, tr.Dispatch())
	waitForEmptyQueue(t, tr)

	lines := 0
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, "debug dispatch") {
			lines++
		}
	}
	require.Equal(t, 3, lines)
}

func TestTracker_ImmediateDispatchAfterEnqueue(t *testing.T) {
	srv := newCollectServer(t)
	tr := newTestTracker(t, Config{
		BaseURL:          srv.URL,
		SiteID:           "42",
		DispatchInterval: Duration(0),
	}, zerolog.Nop())

	require.True(t, tr.SendView("home"))
	waitForEmptyQueue(t, tr)
	require.GreaterOrEqual(t, srv.requests.Load(), int32(1))
}

func TestTracker_ManualOnlyNeverDispatchesOnItsOwn(t *testing.T) {
	srv := newCollectServer(t)
	tr := newTestTracker(t, Config{
		BaseURL:          srv.URL,
		SiteID:           "42",
		DispatchInterval: Duration(-time.Second),
	}, zerolog.Nop())

	require.True(t, tr.SendView("home"))
	time.Sleep(150 * time.Millisecond)

	require.Equal(t, int32(0), srv.requests.Load())
	count, err := tr.QueuedEvents()
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestTracker_OptOutPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	cfg := Config{Debug: true, QueuePath: path, DispatchInterval: Duration(-1)}

	tr, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	require.NoError(t, tr.SetOptOut(true))
	require.False(t, tr.SendView("home"))

	count, err := tr.QueuedEvents()
	require.NoError(t, err)
	require.Equal(t, 0, count)
	require.NoError(t, tr.Close())

	tr, err = New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer tr.Close()

	require.True(t, tr.OptOut())
	require.False(t, tr.SendEvent("cat", "act", ""))
}

func TestTracker_VisitorIDSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.db")
	cfg := Config{Debug: true, QueuePath: path, DispatchInterval: Duration(-1)}

	tr, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)

	first, err := tr.VisitorID()
	require.NoError(t, err)
	require.Len(t, first, 16)
	require.NoError(t, tr.Close())

	tr, err = New(cfg, zerolog.Nop())
	require.NoError(t, err)
	defer tr.Close()

	second, err := tr.VisitorID()
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestTracker_SessionRollsAfterInactivityGap(t *testing.T) {
	tr := newTestTracker(t, Config{
		Debug:            true,
		SessionTimeout:   2 * time.Minute,
		DispatchInterval: Duration(-1),
	}, zerolog.Nop())

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	require.True(t, tr.SendView("one"))
	now = now.Add(time.Minute)
	require.True(t, tr.SendView("two"))
	now = now.Add(3 * time.Minute)
	require.True(t, tr.SendView("three"))

	batch, err := tr.queue.PeekBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	require.Equal(t, batch[0].Event.SessionID, batch[1].Event.SessionID)
	require.NotEqual(t, batch[1].Event.SessionID, batch[2].Event.SessionID)

	require.True(t, batch[0].Event.NewVisit, "first event starts a session")
	require.False(t, batch[1].Event.NewVisit)
	require.True(t, batch[2].Event.NewVisit, "gap beyond timeout starts a session")
}

func TestTracker_StartNewSessionIsOneShot(t *testing.T) {
	tr := newTestTracker(t, Config{
		Debug:            true,
		DispatchInterval: Duration(-1),
	}, zerolog.Nop())

	require.True(t, tr.SendView("one"))
	tr.StartNewSession()
	require.True(t, tr.SendView("two"))
	require.True(t, tr.SendView("three"))

	batch, err := tr.queue.PeekBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	require.NotEqual(t, batch[0].Event.SessionID, batch[1].Event.SessionID)
	require.Equal(t, batch[1].Event.SessionID, batch[2].Event.SessionID)
}

func TestTracker_CapacityBoundRejects(t *testing.T) {
	tr := newTestTracker(t, Config{
		Debug:            true,
		MaxQueuedEvents:  3,
		DispatchInterval: Duration(-1),
	}, zerolog.Nop())

	for i := 0; i < 3; i++ {
		require.True(t, tr.SendEvent("cat", "act", ""))
	}
	require.False(t, tr.SendEvent("cat", "overflow", ""))

	count, err := tr.QueuedEvents()
	require.NoError(t, err)
	require.Equal(t, 3, count)
}

func TestTracker_ExceptionDescriptionTruncation(t *testing.T) {
	tr := newTestTracker(t, Config{
		Debug:            true,
		DispatchInterval: Duration(-1),
	}, zerolog.Nop())

	// multi-byte runes: truncation must land on a rune boundary, not a byte
	// offset inside one
	require.True(t, tr.SendException(strings.Repeat("é", 60), false))
	require.True(t, tr.SendException("short", true))

	batch, err := tr.queue.PeekBatch(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, batch, 2)

	long := batch[0].Event.Description
	require.True(t, utf8.ValidString(long))
	require.Equal(t, strings.Repeat("é", 50), long)
	require.Equal(t, "short", batch[1].Event.Description)
	require.True(t, batch[1].Event.Fatal)
}

func TestTracker_DeleteQueuedEvents(t *testing.T) {
	tr := newTestTracker(t, Config{
		Debug:            true,
		DispatchInterval: Duration(-1),
	}, zerolog.Nop())

	require.True(t, tr.SendView("home"))
	require.True(t, tr.SendView("away"))

	require.NoError(t, tr.DeleteQueuedEvents())

	count, err := tr.QueuedEvents()
	require.NoError(t, err)
	require.Equal(t, 0, count)
}

func TestTracker_ConfigValidation(t *testing.T) {
	cases := map[string]Config{
		"missing queue path": {BaseURL: "http://example.com", SiteID: "1"},
		"missing base url":   {QueuePath: "q.db", SiteID: "1"},
		"missing site id":    {QueuePath: "q.db", BaseURL: "http://example.com"},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(cfg, zerolog.Nop())
			require.Error(t, err)
		})
	}
}

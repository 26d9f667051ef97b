package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tiltlevel/internal/level"
	"tiltlevel/internal/report"
	"tiltlevel/internal/settings"
)

type readOnlyStore struct{ *settings.MemoryStore }

func (readOnlyStore) Set(string, string) error { return errors.New("read-only") }

type fixture struct {
	svc *level.Service
	srv *Server
	ts  *httptest.Server
	st  settings.Store
}

func newFixture(t *testing.T, st settings.Store) *fixture {
	t.Helper()
	if st == nil {
		st = settings.NewMemoryStore()
	}
	svc := level.New(level.Config{Clock: clock.NewMock()}, st, nil)
	srv := NewServer(svc, Options{Logs: NewLogBuffer(10)})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Run(ctx)
	}()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-done
		svc.Close()
	})
	return &fixture{svc: svc, srv: srv, ts: ts, st: st}
}

func (f *fixture) tilt(s report.Sample) {
	buf := report.Encode(s)
	for i := 0; i < 200; i++ {
		f.svc.HandleReport(buf)
	}
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func postJSON(t *testing.T, url, body string, out any) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode == http.StatusOK {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestOrientation_BeforeAndAfterTick(t *testing.T) {
	f := newFixture(t, nil)

	var snap level.Snapshot
	resp := getJSON(t, f.ts.URL+"/api/orientation", &snap)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Zero(t, snap.Seq)
	assert.False(t, snap.IsLevel)

	f.tilt(report.Sample{X: 0.1, Z: 0.995})
	f.svc.Tick()
	getJSON(t, f.ts.URL+"/api/orientation", &snap)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.InDelta(t, 5.74, snap.RollDeg, 0.01)
	assert.False(t, snap.IsLevel)
}

func TestCalibrateAndReset(t *testing.T) {
	f := newFixture(t, nil)
	f.tilt(report.Sample{X: 0.1, Z: 0.995})
	f.svc.Tick()

	var set SettingsResponse
	resp := postJSON(t, f.ts.URL+"/api/calibrate", "", &set)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.InDelta(t, 5.74, set.OffsetRollDeg, 0.01)
	assert.Empty(t, set.PersistError)

	snap, _ := f.svc.Tick()
	assert.InDelta(t, 0, snap.RollDeg, 1e-9)
	assert.True(t, snap.IsLevel)

	resp = postJSON(t, f.ts.URL+"/api/calibration/reset", "", &set)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Zero(t, set.OffsetRollDeg)
	assert.Zero(t, set.OffsetPitchDeg)

	resp = getJSON(t, f.ts.URL+"/api/calibrate", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, http.MethodPost, resp.Header.Get("Allow"))
}

func TestSettings_GetAndStrictPost(t *testing.T) {
	f := newFixture(t, nil)

	var set SettingsResponse
	getJSON(t, f.ts.URL+"/api/settings", &set)
	assert.True(t, set.HapticEnabled)
	assert.True(t, set.BackgroundUpdateEnabled)

	resp := postJSON(t, f.ts.URL+"/api/settings", `{"haptic_enabled":false,"background_update_enabled":false}`, &set)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, set.HapticEnabled)
	assert.False(t, set.BackgroundUpdateEnabled)

	stored := settings.Load(f.st, nil)
	assert.False(t, stored.HapticEnabled)
	assert.False(t, stored.BackgroundUpdateEnabled)

	for _, body := range []string{
		`{"haptic_enabled":true}`,
		`{"haptic_enabled":true,"background_update_enabled":true,"extra":1}`,
		`{"haptic_enabled":true,"haptic_enabled":false,"background_update_enabled":true}`,
		`{"haptic_enabled":null,"background_update_enabled":true}`,
		`{"haptic_enabled":"yes","background_update_enabled":true}`,
		`{"haptic_enabled":true,"background_update_enabled":true} {}`,
		`[]`,
	} {
		resp := postJSON(t, f.ts.URL+"/api/settings", body, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
	}

	resp, err := http.Post(f.ts.URL+"/api/settings", "text/plain", strings.NewReader(`{}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	// Rejected bodies changed nothing.
	assert.False(t, f.svc.Settings().HapticEnabled)
}

func TestSettings_PersistFailureKeepsValue(t *testing.T) {
	f := newFixture(t, readOnlyStore{settings.NewMemoryStore()})

	var set SettingsResponse
	resp := postJSON(t, f.ts.URL+"/api/settings", `{"haptic_enabled":false,"background_update_enabled":true}`, &set)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, set.HapticEnabled)
	assert.Contains(t, set.PersistError, "read-only")
	assert.False(t, f.svc.Settings().HapticEnabled)
}

func TestVisibility_ExplicitFlagGatesTicks(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.SetBackgroundUpdateEnabled(false)
	require.NoError(t, err)

	_, ok := f.svc.Tick()
	assert.False(t, ok)

	var st VisibilityState
	resp := postJSON(t, f.ts.URL+"/api/visibility", `{"visible":true}`, &st)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, st.Visible)
	assert.True(t, f.svc.Visible())
	_, ok = f.svc.Tick()
	assert.True(t, ok)

	postJSON(t, f.ts.URL+"/api/visibility", `{"visible":false}`, &st)
	assert.False(t, st.Visible)
	assert.False(t, f.svc.Visible())

	resp = postJSON(t, f.ts.URL+"/api/visibility", `{"visible":1}`, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatusAndLogs(t *testing.T) {
	f := newFixture(t, nil)
	f.svc.Tick()
	_, _ = f.srv.opts.Logs.Write([]byte("level=INFO msg=hello\npartial"))

	var st StatusResponse
	resp := getJSON(t, f.ts.URL+"/api/status", &st)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "tiltlevel", st.Service)
	assert.Equal(t, uint64(1), st.Level.Ticks)
	assert.Equal(t, uint64(1), st.Latest.Seq)

	var logs LogsResponse
	getJSON(t, f.ts.URL+"/api/logs?tail=5", &logs)
	assert.Equal(t, []string{"level=INFO msg=hello"}, logs.Lines)

	resp = getJSON(t, f.ts.URL+"/api/logs?tail=0", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRootPageAndUnknownPaths(t *testing.T) {
	f := newFixture(t, nil)
	resp := getJSON(t, f.ts.URL+"/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = getJSON(t, f.ts.URL+"/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServe_StopsOnCancel(t *testing.T) {
	svc := level.New(level.Config{Clock: clock.NewMock()}, nil, nil)
	defer svc.Close()
	srv := NewServer(svc, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- Serve(ctx, "127.0.0.1:0", srv) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/gorilla/websocket"
	"github.com/normanking/speechsync/internal/audio"
	"github.com/normanking/speechsync/internal/bus"
	"github.com/normanking/speechsync/internal/frameloop"
	"github.com/normanking/speechsync/internal/lipsync"
	"github.com/normanking/speechsync/internal/logging"
	"github.com/normanking/speechsync/internal/rig"
	"github.com/normanking/speechsync/internal/speech"
	"github.com/normanking/speechsync/internal/tts"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pendingFetcher never answers, so accepted requests stay in Requesting.
type pendingFetcher struct{}

func (pendingFetcher) FetchAudio(ctx context.Context, _ tts.Utterance) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (pendingFetcher) FetchTiming(ctx context.Context, _ tts.Utterance) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type fakeLister struct {
	voices []tts.Voice
	err    error
}

func (f fakeLister) ListVoices(context.Context) ([]tts.Voice, error) { return f.voices, f.err }

type fakeLogs []logging.LogEntry

func (f fakeLogs) History(limit int) []logging.LogEntry {
	if limit <= 0 || limit > len(f) {
		return f
	}
	return f[len(f)-limit:]
}

type fakeDeltas struct {
	scales []float32
}

func (f *fakeDeltas) Deltas(fullScale float32) []mgl32.Vec3 {
	f.scales = append(f.scales, fullScale)
	return []mgl32.Vec3{{0, 0.5, 0}, {0, 0, 0}}
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	rig    *rig.Rig
	bus    *bus.EventBus
}

func newTestEnv(t *testing.T, opts Options) *testEnv {
	t.Helper()

	seq, err := lipsync.NewSequencer(nil)
	require.NoError(t, err)
	r := rig.New(seq.Visemes())
	eventBus := bus.NewEventBus()

	driver, err := speech.NewDriver(nil, speech.Dependencies{
		Engine:  seq,
		Fetcher: pendingFetcher{},
		Output:  audio.NewNullOutput(),
		Targets: r,
		Bus:     eventBus,
	}, zerolog.Nop())
	require.NoError(t, err)

	loop := frameloop.New(120, driver.Update, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		driver.Close()
	})

	opts.Driver = driver
	opts.Runner = loop
	opts.Catalog = tts.DefaultCatalog()
	opts.Weights = r
	opts.Bus = eventBus

	s, err := New(opts, zerolog.Nop())
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: s, http: ts, rig: r, bus: eventBus}
}

func (e *testEnv) post(t *testing.T, path, body string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(e.http.URL+path, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) get(t *testing.T, path string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(e.http.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestServer_SpeakStatusStop(t *testing.T) {
	env := newTestEnv(t, Options{})

	resp, body := env.post(t, "/speak", `{"text":"hello","voice":"dfki-spike-hsmm"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, float64(1), body["generation"])
	assert.Equal(t, "dfki-spike-hsmm", body["voice"])

	var status speech.Status
	env.get(t, "/status", &status)
	assert.Equal(t, speech.StateRequesting, status.State)
	assert.False(t, status.Speaking)
	assert.Equal(t, "hello", status.Text)

	resp, body = env.post(t, "/stop", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "idle", body["state"])
	assert.Equal(t, float64(2), body["generation"])
}

func TestServer_SpeakValidation(t *testing.T) {
	env := newTestEnv(t, Options{})

	tests := []struct {
		name string
		body string
	}{
		{"empty text", `{"text":"  "}`},
		{"unknown voice", `{"text":"hi","voice":"nobody"}`},
		{"bad json", `{"text":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.post(t, "/speak", tt.body)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestServer_Voices(t *testing.T) {
	remote := []tts.Voice{{Name: "cmu-slt-hsmm", Locale: "en_US"}}

	env := newTestEnv(t, Options{Voices: fakeLister{voices: remote}})
	var out struct {
		Source string      `json:"source"`
		Voices []tts.Voice `json:"voices"`
	}
	env.get(t, "/voices", &out)
	assert.Equal(t, "server", out.Source)
	assert.Equal(t, remote, out.Voices)

	env.get(t, "/voices?source=catalog", &out)
	assert.Equal(t, "catalog", out.Source)
	assert.Len(t, out.Voices, 15)

	down := newTestEnv(t, Options{Voices: fakeLister{err: errors.New("connection refused")}})
	down.get(t, "/voices", &out)
	assert.Equal(t, "catalog", out.Source)
}

func TestServer_LogsWeightsMetrics(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics\n"))
	})
	env := newTestEnv(t, Options{
		Logs:    fakeLogs{{Message: "a"}, {Message: "b"}, {Message: "c"}},
		Metrics: metrics,
	})

	var entries []logging.LogEntry
	env.get(t, "/logs?limit=2", &entries)
	require.Len(t, entries, 2)
	assert.Equal(t, "b", entries[0].Message)

	resp := env.get(t, "/logs?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	i, ok := env.rig.ResolveIndex(lipsync.VisemeAA)
	require.True(t, ok)
	env.rig.SetWeight(i, 0.75)
	var weights map[string]float32
	env.get(t, "/weights", &weights)
	assert.Equal(t, float32(0.75), weights[lipsync.VisemeAA])

	resp = env.get(t, "/metrics", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Deltas(t *testing.T) {
	deltas := &fakeDeltas{}
	env := newTestEnv(t, Options{Deltas: deltas, DeltaScale: 100})

	var out struct {
		Scale    float32      `json:"scale"`
		Vertices int          `json:"vertices"`
		Deltas   []mgl32.Vec3 `json:"deltas"`
	}
	resp := env.get(t, "/deltas", &out)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float32(100), out.Scale)
	assert.Equal(t, 2, out.Vertices)
	assert.Equal(t, mgl32.Vec3{0, 0.5, 0}, out.Deltas[0])
	assert.Equal(t, []float32{100}, deltas.scales)

	bare := newTestEnv(t, Options{})
	bare.get(t, "/deltas", &out)
	assert.Equal(t, float32(1), out.Scale)
	assert.Zero(t, out.Vertices)
	assert.Empty(t, out.Deltas)
}

func TestNew_RequiresDriver(t *testing.T) {
	_, err := New(Options{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestHub_StreamsEventsAndWeights(t *testing.T) {
	env := newTestEnv(t, Options{StreamInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = env.server.Hub().Run(ctx) }()

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.server.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	env.bus.Publish(bus.NewEvent(bus.EventTypeSpeechStarted, map[string]any{"utterance": "u1"}))

	var sawEvent, sawWeights bool
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for !(sawEvent && sawWeights) {
		var msg StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Kind {
		case "event":
			require.NotNil(t, msg.Event)
			if msg.Event.Type == bus.EventTypeSpeechStarted {
				sawEvent = true
			}
		case "weights":
			assert.Contains(t, msg.Weights, lipsync.VisemeSil)
			sawWeights = true
		}
	}

	env.server.Hub().CloseAll()
	assert.Equal(t, 0, env.server.Hub().ClientCount())
}

func TestHub_StreamsLogs(t *testing.T) {
	env := newTestEnv(t, Options{})

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.server.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	env.server.Hub().BroadcastLog(logging.LogEntry{Level: "warn", Component: "tts", Message: "MaryTTS not reachable yet"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "log", msg.Kind)
	require.NotNil(t, msg.Log)
	assert.Equal(t, "tts", msg.Log.Component)
	assert.Equal(t, "MaryTTS not reachable yet", msg.Log.Message)
}

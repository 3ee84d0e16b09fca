package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/elijahnyp/traffic_controller/util"

	"github.com/elijahnyp/traffic_controller/engine"
	"github.com/elijahnyp/traffic_controller/protocol"
	"github.com/elijahnyp/traffic_controller/source"
	"github.com/elijahnyp/traffic_controller/state"
	"github.com/gorilla/websocket"
)

type fakeStatus struct {
	snap  state.Snapshot
	stats engine.Stats
}

func (f *fakeStatus) Latest() state.Snapshot { return f.snap }
func (f *fakeStatus) Stats() engine.Stats { return f.stats }

var testAt = time.Date(2024, 5, 1, 8, 30, 15, 0, time.UTC)

func road3Green(seconds int) state.Snapshot {
	s := state.Snapshot{At: testAt, Cycle: "c-1", Active: 3}
	s.Roads[2] = state.RoadState{Color: state.Green, Countdown: seconds}
	return s
}

func withModel(t *testing.T, m Model) {
	t.Helper()
	modelMu.Lock()
	prev := model
	model = m
	modelMu.Unlock()
	t.Cleanup(func() {
		modelMu.Lock()
		model = prev
		modelMu.Unlock()
	})
}

func TestEngineTiming(t *testing.T) {
	Config.Set("tick_interval_ms", 250)
	Config.Set("poll_interval_ms", 20)
	Config.Set("cycle_timeout_s", 30)
	Config.Set("source_backoff_s", 3)

	got := engineTiming()
	expected := engine.Timing{
		Tick:         250 * time.Millisecond,
		Poll:         20 * time.Millisecond,
		CycleTimeout: 30 * time.Second,
		Backoff:      3 * time.Second,
	}
	if got != expected {
		t.Errorf("engineTiming() = %+v, expected %+v", got, expected)
	}
}

func TestDeviceConfig(t *testing.T) {
	Config.Set("serial_port", "auto")
	Config.Set("baud_rate", 9600)
	Config.Set("read_timeout_ms", 100)
	Config.Set("settle_ms", 2000)

	cfg := deviceConfig()
	if cfg.Port != "auto" || cfg.BaudRate != 9600 {
		t.Errorf("unexpected device config %+v", cfg)
	}
	if cfg.ReadTimeout != 100*time.Millisecond || cfg.Settle != 2*time.Second {
		t.Errorf("unexpected device timings %+v", cfg)
	}
}

func TestCountSource(t *testing.T) {
	tests := []struct {
		name        string
		kind        string
		mqtt        bool
		expectError bool
		expectType  string
	}{
		{"file", "file", false, false, "file"},
		{"default", "", false, false, "file"},
		{"mqtt", "mqtt", true, false, "topic"},
		{"mqtt disabled", "mqtt", false, true, ""},
		{"unknown", "carrier-pigeon", false, true, ""},
	}

	Config.Set("counts_file", "carsCount.txt")
	Config.Set("counts_topic", "traffic/counts")
	defer RegisterMQTTSubscription("traffic/counts", nil)

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			Config.Set("count_source", tt.kind)
			Config.Set("mqtt_enabled", tt.mqtt)
			src, err := countSource()
			if tt.expectError {
				if err == nil {
					t.Error("expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("countSource() returned error: %v", err)
			}
			switch s := src.(type) {
			case *source.File:
				if tt.expectType != "file" || s.Path() != "carsCount.txt" {
					t.Errorf("unexpected file source %v", s.Path())
				}
			case *source.Topic:
				if tt.expectType != "topic" || s.Name() != "traffic/counts" {
					t.Errorf("unexpected topic source %v", s.Name())
				}
			default:
				t.Errorf("unexpected source type %T", src)
			}
		})
	}
	Config.Set("mqtt_enabled", false)
}

func TestPresentationSinks(t *testing.T) {
	Config.Set("console_display", false)
	if got := len(presentationSinks(nil)); got != 1 {
		t.Errorf("expected only the websocket hub, got %d sinks", got)
	}
	Config.Set("console_display", true)
	defer Config.Set("console_display", false)
	if got := len(presentationSinks(NewStatePublisher(nil))); got != 3 {
		t.Errorf("expected 3 sinks, got %d", got)
	}
}

func TestDescribe(t *testing.T) {
	doc := describe(road3Green(12), Model{Roads: []Road{{ID: 3, Name: "East"}}})
	if len(doc.Roads) != protocol.RoadCount {
		t.Fatalf("expected %d roads, got %d", protocol.RoadCount, len(doc.Roads))
	}
	east := doc.Roads[2]
	if east.Name != "East" || east.Color != state.Green || east.Countdown != 12 {
		t.Errorf("unexpected road 3 doc %+v", east)
	}
	if doc.Roads[0].Name != "Road 1" {
		t.Errorf("expected default name, got %s", doc.Roads[0].Name)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"color":"GREEN"`) {
		t.Errorf("color should marshal as text: %s", data)
	}
}

func TestConsoleBoard(t *testing.T) {
	withModel(t, Model{Roads: []Road{{ID: 1, Name: "North"}}})
	var out bytes.Buffer
	board := NewConsoleBoard(&out, false)

	board.Present(road3Green(7))

	text := out.String()
	for _, want := range []string{"08:30:15", "North:", "🔴", "Road 3:", "🟢", "7s", "cycle c-1"} {
		if !strings.Contains(text, want) {
			t.Errorf("board missing %q:\n%s", want, text)
		}
	}
	if strings.Contains(text, clearScreen) {
		t.Error("board should not clear when disabled")
	}
	if strings.Count(text, "\n") != 7 {
		t.Errorf("expected 7 lines, got:\n%s", text)
	}
	if n := strings.Count(text, "🔴   0s\n"); n != 3 {
		t.Errorf("expected 3 red rows showing 0s, got %d:\n%s", n, text)
	}
}

func TestConsoleBoard_Clear(t *testing.T) {
	var out bytes.Buffer
	NewConsoleBoard(&out, true).Present(state.Snapshot{At: testAt})
	if !strings.HasPrefix(out.String(), clearScreen) {
		t.Error("board should start with the clear sequence")
	}
}

type publishCall struct {
	topic    string
	retained bool
	payload  string
}

func recordPublishes(calls *[]publishCall, err error) publishFunc {
	return func(topic string, retained bool, payload interface{}) error {
		var p string
		switch v := payload.(type) {
		case []byte:
			p = string(v)
		case string:
			p = v
		}
		*calls = append(*calls, publishCall{topic, retained, p})
		return err
	}
}

func TestStatePublisher_Send(t *testing.T) {
	Config.Set("state_topic", "traffic/state")
	var calls []publishCall
	p := NewStatePublisher(recordPublishes(&calls, nil))

	p.send(state.Snapshot{At: testAt})
	// full state plus color and countdown for every road
	if len(calls) != 1+2*protocol.RoadCount {
		t.Fatalf("expected %d publishes on first send, got %d", 1+2*protocol.RoadCount, len(calls))
	}
	if calls[0].topic != "traffic/state" || !calls[0].retained {
		t.Errorf("unexpected state publish %+v", calls[0])
	}

	calls = nil
	p.send(road3Green(9))
	expected := []publishCall{
		{"traffic/state/road3/color", true, "GREEN"},
		{"traffic/state/road3/countdown", true, "9"},
	}
	if len(calls) != 3 {
		t.Fatalf("expected state plus 2 road publishes, got %+v", calls)
	}
	for i, e := range expected {
		if calls[i+1] != e {
			t.Errorf("publish %d = %+v, expected %+v", i+1, calls[i+1], e)
		}
	}
	var doc snapshotDoc
	if err := json.Unmarshal([]byte(calls[0].payload), &doc); err != nil {
		t.Fatalf("state payload is not JSON: %v", err)
	}
	if doc.Active != 3 || doc.Cycle != "c-1" {
		t.Errorf("unexpected state doc %+v", doc)
	}
}

func TestStatePublisher_BrokerDown(t *testing.T) {
	var calls []publishCall
	p := NewStatePublisher(recordPublishes(&calls, errors.New("mqtt not connected")))
	p.send(road3Green(4))
	if len(calls) != 1 {
		t.Errorf("road topics should be skipped when the state publish fails, got %d calls", len(calls))
	}
	if p.primed {
		t.Error("failed publish should not prime the change tracker")
	}
}

func TestStatePublisher_RunAndDrop(t *testing.T) {
	published := make(chan string, 64)
	p := NewStatePublisher(func(topic string, retained bool, payload interface{}) error {
		select {
		case published <- topic:
		default:
		}
		return nil
	})
	for i := 0; i < cap(p.queue)+5; i++ {
		p.Present(road3Green(i + 2)) // must not block once full
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()
	select {
	case topic := <-published:
		if topic != Config.GetString("state_topic") {
			t.Errorf("first publish went to %s", topic)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("publisher did not drain its queue")
	}
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestForwardSink(t *testing.T) {
	received := make(chan snapshotDoc, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var doc snapshotDoc
		if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
			t.Errorf("bad forward body: %v", err)
		}
		received <- doc
	}))
	defer server.Close()

	f := &Forwarder{Enabled: true, Workers: 1, URLs: []string{server.URL}}
	if err := f.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	defer f.Stop()

	forwardSink(f).Present(road3Green(5))
	select {
	case doc := <-received:
		if doc.Roads[2].Countdown != 5 {
			t.Errorf("unexpected forwarded doc %+v", doc)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("snapshot was not forwarded")
	}
}

func TestRenderBoard(t *testing.T) {
	img := RenderBoard(road3Green(20), Model{})
	bounds := img.Bounds()
	if bounds.Dx() != boardWidth || bounds.Dy() != boardHeader+protocol.RoadCount*rowHeight+margin {
		t.Errorf("unexpected board size %v", bounds)
	}

	lampCenter := func(id protocol.RoadID) (int, int) {
		return margin + lampSize/2, boardHeader + id.Index()*rowHeight + rowHeight/2
	}
	x, y := lampCenter(3)
	if r, g, _, _ := img.At(x, y).RGBA(); g < r {
		t.Errorf("road 3 lamp should be green, got r=%d g=%d", r, g)
	}
	x, y = lampCenter(1)
	if r, g, _, _ := img.At(x, y).RGBA(); r < g {
		t.Errorf("road 1 lamp should be red, got r=%d g=%d", r, g)
	}
}

func TestAPIStatus(t *testing.T) {
	p := &fakeStatus{snap: road3Green(8), stats: engine.Stats{CyclesStarted: 4, CyclesCompleted: 3}}
	handler := APIStatus(p)

	w := httptest.NewRecorder()
	handler(w, httptest.NewRequest("GET", "/api/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("unexpected content type %s", ct)
	}
	var status SystemStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("bad JSON: %v", err)
	}
	if status.Stats.CyclesStarted != 4 || status.Snapshot.Roads[2].Countdown != 8 {
		t.Errorf("unexpected status %+v", status)
	}

	w = httptest.NewRecorder()
	handler(w, httptest.NewRequest("POST", "/api/status", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for POST, got %d", w.Code)
	}
}

func TestStatusImage(t *testing.T) {
	w := httptest.NewRecorder()
	StatusImage(&fakeStatus{snap: road3Green(3)})(w, httptest.NewRequest("GET", "/status.png", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("unexpected content type %s", ct)
	}
	if _, err := png.Decode(bytes.NewReader(w.Body.Bytes())); err != nil {
		t.Errorf("response is not a PNG: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name     string
		running  bool
		expected int
	}{
		{"running", true, http.StatusOK},
		{"stopped", false, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			Healthz(func() bool { return tt.running })(w, httptest.NewRequest("GET", "/healthz", nil))
			if w.Code != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, w.Code)
			}
		})
	}
}

func TestHomeHandler(t *testing.T) {
	w := httptest.NewRecorder()
	HomeHandler(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "/status.png") {
		t.Errorf("unexpected home page: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	HomeHandler(w, httptest.NewRequest("GET", "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", w.Code)
	}
}

func TestServeWebSocket(t *testing.T) {
	hub := NewHub()
	go hub.Run()
	p := &fakeStatus{snap: state.Snapshot{At: testAt}}
	server := httptest.NewServer(ServeWebSocket(hub, p))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.Close() }() //nolint:errcheck // test cleanup
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first struct {
		Type string      `json:"type"`
		Data snapshotDoc `json:"data"`
	}
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read initial snapshot: %v", err)
	}
	if first.Type != "snapshot" || first.Data.Active != 0 {
		t.Errorf("unexpected initial message %+v", first)
	}

	hub.Present(road3Green(6))
	var update struct {
		Type string      `json:"type"`
		Data snapshotDoc `json:"data"`
	}
	if err := conn.ReadJSON(&update); err != nil {
		t.Fatalf("read update: %v", err)
	}
	if update.Data.Active != 3 || update.Data.Roads[2].Countdown != 6 {
		t.Errorf("unexpected update %+v", update)
	}
}

func TestOnlinePinger_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		OnlinePinger(ctx)
		HAAdvertiser(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("pingers should return once the context is cancelled")
	}
}

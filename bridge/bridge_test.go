package bridge

import (
	"errors"
	"testing"
	"time"

	"alertcore/config"
	"alertcore/geo"
)

type fakeTarget struct {
	frames  [][]byte
	states  []string
	dropped []uint64
	fixes   []geo.Fix
	reject  bool
}

func (f *fakeTarget) Deliver(frame []byte) error {
	if f.reject {
		return errors.New("bad frame")
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *fakeTarget) DeliverState(source, state string) {
	f.states = append(f.states, source+":"+state)
}

func (f *fakeTarget) ReportDropped(n uint64) { f.dropped = append(f.dropped, n) }

func (f *fakeTarget) SetFix(fix geo.Fix) bool {
	if !fix.Valid() {
		return false
	}
	f.fixes = append(f.fixes, fix)
	return true
}

type testMessage struct {
	topic   string
	payload []byte
}

func (m testMessage) Duplicate() bool   { return false }
func (m testMessage) Qos() byte         { return 0 }
func (m testMessage) Retained() bool    { return false }
func (m testMessage) Topic() string     { return m.topic }
func (m testMessage) MessageID() uint16 { return 0 }
func (m testMessage) Payload() []byte   { return m.payload }
func (m testMessage) Ack()              {}

func newTestBridge(t *testing.T, target *fakeTarget) *Bridge {
	t.Helper()
	cfg := config.MQTTConfig{FrameTopic: "d/frames", FixTopic: "d/fix", LinkTopic: "d/link"}
	b, err := New(cfg, target, "link")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	b.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return b
}

func TestNewRequiresTarget(t *testing.T) {
	if _, err := New(config.MQTTConfig{}, nil, "link"); err == nil {
		t.Fatalf("expected error for nil target")
	}
}

func TestRouteFrameCopiesPayload(t *testing.T) {
	target := &fakeTarget{}
	b := newTestBridge(t, target)

	payload := []byte{0xAA, 0x04, 0x0A, 0x43}
	b.route(nil, testMessage{topic: "d/frames", payload: payload})
	payload[0] = 0

	if len(target.frames) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(target.frames))
	}
	if target.frames[0][0] != 0xAA {
		t.Fatalf("expected frame to be copied before delivery")
	}
	if frames, rejected, _, _ := b.Counters(); frames != 1 || rejected != 0 {
		t.Fatalf("unexpected counters frames=%d rejected=%d", frames, rejected)
	}
}

func TestRouteFrameRejectsOversizeAndBad(t *testing.T) {
	target := &fakeTarget{}
	b := newTestBridge(t, target)

	b.route(nil, testMessage{topic: "d/frames", payload: make([]byte, maxFramePayload+1)})
	b.route(nil, testMessage{topic: "d/frames"})
	target.reject = true
	b.route(nil, testMessage{topic: "d/frames", payload: []byte{1, 2, 3}})

	if len(target.frames) != 0 {
		t.Fatalf("expected no frames delivered, got %d", len(target.frames))
	}
	if _, rejected, _, _ := b.Counters(); rejected != 3 {
		t.Fatalf("expected 3 rejected, got %d", rejected)
	}
}

func TestRouteFix(t *testing.T) {
	target := &fakeTarget{}
	b := newTestBridge(t, target)

	b.route(nil, testMessage{topic: "d/fix", payload: []byte(`{"lat":46.05,"lon":14.5,"heading":95,"ts":1772366400000}`)})
	b.route(nil, testMessage{topic: "d/fix", payload: []byte(`{"lat":46.05,"lon":14.5,"heading":95}`)})
	b.route(nil, testMessage{topic: "d/fix", payload: []byte(`{"lat":123,"lon":14.5}`)})
	b.route(nil, testMessage{topic: "d/fix", payload: []byte(`not json`)})

	if len(target.fixes) != 2 {
		t.Fatalf("expected 2 fixes, got %d", len(target.fixes))
	}
	if got := target.fixes[0].Time; !got.Equal(time.UnixMilli(1772366400000)) {
		t.Fatalf("expected payload timestamp, got %v", got)
	}
	if got := target.fixes[1].Time; !got.Equal(b.now()) {
		t.Fatalf("expected receipt time for missing ts, got %v", got)
	}
	if _, _, fixes, bad := b.Counters(); fixes != 2 || bad != 2 {
		t.Fatalf("unexpected fix counters accepted=%d bad=%d", fixes, bad)
	}
}

func TestRouteLinkStateAndDroppedDeltas(t *testing.T) {
	target := &fakeTarget{}
	b := newTestBridge(t, target)

	msgs := []string{
		`{"state":"connected","dropped":10}`,
		`{"dropped":14}`,
		`{"dropped":14}`,
		`{"state":"reconnecting","dropped":2}`,
	}
	for _, m := range msgs {
		b.route(nil, testMessage{topic: "d/link", payload: []byte(m)})
	}

	if len(target.states) != 2 || target.states[0] != "link:connected" || target.states[1] != "link:reconnecting" {
		t.Fatalf("unexpected states %v", target.states)
	}
	// The first sample is a baseline; a smaller value is a counter reset.
	if len(target.dropped) != 2 || target.dropped[0] != 4 || target.dropped[1] != 2 {
		t.Fatalf("unexpected dropped deltas %v", target.dropped)
	}
}

func TestConnectionLostPublishesState(t *testing.T) {
	target := &fakeTarget{}
	b := newTestBridge(t, target)
	b.onConnectionLost(nil, errors.New("eof"))
	if len(target.states) != 1 || target.states[0] != "link:"+StateBrokerLost {
		t.Fatalf("unexpected states %v", target.states)
	}
}

func TestUnknownTopicIgnored(t *testing.T) {
	target := &fakeTarget{}
	b := newTestBridge(t, target)
	b.route(nil, testMessage{topic: "other", payload: []byte("x")})
	if len(target.frames)+len(target.states)+len(target.fixes) != 0 {
		t.Fatalf("expected nothing routed")
	}
	b.Stop()
}

func TestHealthSnapshotTracksLastTraffic(t *testing.T) {
	target := &fakeTarget{}
	b := newTestBridge(t, target)
	if snap := b.HealthSnapshot(); snap.Connected || !snap.LastFrameAt.IsZero() || !snap.LastFixAt.IsZero() {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
	b.route(nil, testMessage{topic: "d/frames", payload: []byte{1}})
	b.route(nil, testMessage{topic: "d/fix", payload: []byte(`{"lat":46,"lon":14}`)})

	snap := b.HealthSnapshot()
	if !snap.LastFrameAt.Equal(b.now()) || !snap.LastFixAt.Equal(b.now()) {
		t.Fatalf("unexpected traffic times %+v", snap)
	}
	if snap.Frames != 1 || snap.Fixes != 1 {
		t.Fatalf("unexpected counters %+v", snap)
	}
}

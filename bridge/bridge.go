// Package bridge subscribes to the detector link over MQTT and feeds the
// pipeline.
//
// Topics:
//
//	frame topic  raw link frames, one per message, handed to Deliver
//	fix topic    JSON location samples {"lat","lon","heading","ts"}
//	link topic   JSON link state {"state","dropped"}
//
// The dropped field is the transport's cumulative count of frames it could
// not forward. The bridge turns it into deltas for ReportDropped and treats a
// smaller value as a counter reset.
package bridge

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"

	"alertcore/config"
	"alertcore/geo"
	"alertcore/internal/ratelimit"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	maxFramePayload = 512
	maxJSONPayload  = 4096
	rejectLogEvery  = time.Minute

	// StateBrokerLost is published as the link state while the broker
	// connection is down.
	StateBrokerLost = "broker lost"
)

// Target receives decoded traffic. *pipeline.Pipeline satisfies it.
type Target interface {
	Deliver(frame []byte) error
	DeliverState(source, state string)
	ReportDropped(n uint64)
	SetFix(f geo.Fix) bool
}

// FixMessage is the JSON body of the fix topic.
type FixMessage struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	Heading float64 `json:"heading"`
	TS      int64   `json:"ts"` // unix milliseconds; zero means receipt time
}

// LinkMessage is the JSON body of the link topic.
type LinkMessage struct {
	State   string  `json:"state"`
	Dropped *uint64 `json:"dropped,omitempty"`
}

// Bridge owns the MQTT session.
type Bridge struct {
	cfg        config.MQTTConfig
	target     Target
	linkSource string
	client     mqtt.Client
	now        func() time.Time

	mu          sync.Mutex
	lastDropped uint64
	haveDropped bool

	frames      atomic.Uint64
	rejected    *ratelimit.Counter
	fixes       atomic.Uint64
	badFixes    *ratelimit.Counter
	lastFrameAt atomic.Int64 // unix nanos
	lastFixAt   atomic.Int64
}

// HealthSnapshot is a point-in-time view for the link health monitor.
type HealthSnapshot struct {
	Connected   bool
	LastFrameAt time.Time
	LastFixAt   time.Time
	Frames      uint64
	Rejected    uint64
	Fixes       uint64
	BadFixes    uint64
}

// New builds a bridge. linkSource is the state source name used for link
// topic updates.
func New(cfg config.MQTTConfig, target Target, linkSource string) (*Bridge, error) {
	if target == nil {
		return nil, errors.New("bridge: target is required")
	}
	return &Bridge{
		cfg:        cfg,
		target:     target,
		linkSource: linkSource,
		now:        time.Now,
		rejected:   ratelimit.NewCounter(rejectLogEvery),
		badFixes:   ratelimit.NewCounter(rejectLogEvery),
	}, nil
}

// Connect opens the broker session. Subscriptions are (re)established from
// the on-connect handler so they survive reconnects.
func (b *Bridge) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(b.cfg.Broker)
	opts.SetClientID(fmt.Sprintf("%s-%d", b.cfg.ClientID, time.Now().Unix()))
	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
		opts.SetPassword(b.cfg.Password)
	}
	opts.SetKeepAlive(time.Duration(b.cfg.KeepAliveSeconds) * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetOrderMatters(true)
	opts.SetOnConnectHandler(b.onConnect)
	opts.SetConnectionLostHandler(b.onConnectionLost)

	b.client = mqtt.NewClient(opts)
	log.Printf("Bridge: connecting to %s", b.cfg.Broker)
	token := b.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("bridge: connect %s: %w", b.cfg.Broker, token.Error())
	}
	return nil
}

func (b *Bridge) onConnect(client mqtt.Client) {
	qos := byte(b.cfg.QoS)
	filters := map[string]byte{
		b.cfg.FrameTopic: qos,
		b.cfg.FixTopic:   qos,
		b.cfg.LinkTopic:  qos,
	}
	token := client.SubscribeMultiple(filters, b.route)
	if token.Wait() && token.Error() != nil {
		log.Printf("Bridge: subscribe failed: %v", token.Error())
		return
	}
	log.Printf("Bridge: subscribed to %s, %s, %s", b.cfg.FrameTopic, b.cfg.FixTopic, b.cfg.LinkTopic)
}

func (b *Bridge) onConnectionLost(_ mqtt.Client, err error) {
	log.Printf("Bridge: connection lost: %v", err)
	b.target.DeliverState(b.linkSource, StateBrokerLost)
}

// route dispatches by topic. Handlers run on paho's router goroutine, and
// order matters is set so frames reach the pipeline in arrival order.
func (b *Bridge) route(_ mqtt.Client, msg mqtt.Message) {
	switch msg.Topic() {
	case b.cfg.FrameTopic:
		b.handleFrame(msg.Payload())
	case b.cfg.FixTopic:
		b.handleFix(msg.Payload())
	case b.cfg.LinkTopic:
		b.handleLink(msg.Payload())
	}
}

func (b *Bridge) handleFrame(payload []byte) {
	if len(payload) == 0 || len(payload) > maxFramePayload {
		b.rejectFrame(fmt.Errorf("payload length %d", len(payload)))
		return
	}
	// Own the bytes; the payload slice belongs to paho.
	frame := append([]byte(nil), payload...)
	b.lastFrameAt.Store(b.now().UnixNano())
	if err := b.target.Deliver(frame); err != nil {
		b.rejectFrame(err)
		return
	}
	b.frames.Add(1)
}

func (b *Bridge) handleFix(payload []byte) {
	if len(payload) > maxJSONPayload {
		b.rejectFix(fmt.Errorf("payload length %d", len(payload)))
		return
	}
	var msg FixMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.rejectFix(err)
		return
	}
	ts := b.now().UTC()
	if msg.TS > 0 {
		ts = time.UnixMilli(msg.TS).UTC()
	}
	fix := geo.Fix{
		Point:   geo.Point{Lat: msg.Lat, Lon: msg.Lon},
		Heading: msg.Heading,
		Time:    ts,
	}
	if !b.target.SetFix(fix) {
		b.rejectFix(fmt.Errorf("invalid fix %.5f,%.5f", msg.Lat, msg.Lon))
		return
	}
	b.fixes.Add(1)
	b.lastFixAt.Store(b.now().UnixNano())
}

func (b *Bridge) rejectFrame(err error) {
	if total, ok := b.rejected.Inc(); ok {
		log.Printf("Bridge: rejected frame (%d total): %v", total, err)
	}
}

func (b *Bridge) rejectFix(err error) {
	if total, ok := b.badFixes.Inc(); ok {
		log.Printf("Bridge: bad fix (%d total): %v", total, err)
	}
}

func (b *Bridge) handleLink(payload []byte) {
	if len(payload) > maxJSONPayload {
		return
	}
	var msg LinkMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		log.Printf("Bridge: bad link payload: %v", err)
		return
	}
	if msg.State != "" {
		b.target.DeliverState(b.linkSource, msg.State)
	}
	if msg.Dropped != nil {
		if n := b.droppedDelta(*msg.Dropped); n > 0 {
			b.target.ReportDropped(n)
		}
	}
}

func (b *Bridge) droppedDelta(total uint64) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.haveDropped || total < b.lastDropped {
		// First sample or the transport restarted its counter.
		delta := uint64(0)
		if b.haveDropped {
			delta = total
		}
		b.lastDropped = total
		b.haveDropped = true
		return delta
	}
	delta := total - b.lastDropped
	b.lastDropped = total
	return delta
}

// Counters reports frames delivered, frames rejected, fixes accepted and
// fixes rejected.
func (b *Bridge) Counters() (frames, rejected, fixes, badFixes uint64) {
	return b.frames.Load(), b.rejected.Total(), b.fixes.Load(), b.badFixes.Total()
}

func (b *Bridge) HealthSnapshot() HealthSnapshot {
	frames, rejected, fixes, badFixes := b.Counters()
	return HealthSnapshot{
		Connected:   b.IsConnected(),
		LastFrameAt: unixNanoTime(b.lastFrameAt.Load()),
		LastFixAt:   unixNanoTime(b.lastFixAt.Load()),
		Frames:      frames,
		Rejected:    rejected,
		Fixes:       fixes,
		BadFixes:    badFixes,
	}
}

func unixNanoTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func (b *Bridge) IsConnected() bool {
	return b.client != nil && b.client.IsConnected()
}

// Stop unsubscribes and disconnects, waiting up to 250ms.
func (b *Bridge) Stop() {
	if b.client == nil {
		return
	}
	if b.client.IsConnected() {
		b.client.Unsubscribe(b.cfg.FrameTopic, b.cfg.FixTopic, b.cfg.LinkTopic).WaitTimeout(250 * time.Millisecond)
		b.client.Disconnect(250)
	}
	log.Println("Bridge: stopped")
}

package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/phuslu/log"

	"amzym.dev/livetrack/internal/metrics"
	"amzym.dev/livetrack/internal/registry"
	"amzym.dev/livetrack/internal/track"
	"amzym.dev/livetrack/internal/util"
)

const (
	PARTICIPANT_CONNECTED    string = "participant_connected"
	PARTICIPANT_DISCONNECTED string = "participant_disconnected"
	INVALID_EVENT            string = "invalid_event"
	UNKNOWN_EVENT            string = "unknown_event"
)

// Wire event names, shared with the browser clients.
const (
	EventSendLocation     = "send-location"
	EventRequestAll       = "request-all-locations"
	EventReceiveLocation  = "receive-location"
	EventUserDisconnected = "user-disconnected"
)

// Subscriber receives encoded frames fanned out by the gateway. Push must
// not block; it returns true when the subscriber is gone and should be
// detached.
type Subscriber interface {
	Push(data []byte) bool
}

// Discard is a Subscriber for participants that only feed positions in,
// such as the upstream poller bridge.
type Discard struct{}

func (Discard) Push([]byte) bool { return false }

// Envelope frames every message on the bidirectional channel.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type locationBroadcast struct {
	ID string `json:"id"`
	track.LocationEvent
}

// Gateway owns connection lifecycle and fan-out. It is the only writer to
// the registry; all participants, whatever their transport, go through
// Attach and the returned Session.
type Gateway struct {
	log   log.Logger
	reg   *registry.Registry
	mu    sync.Mutex
	conns map[string]*Session
	hooks []func(sid string, ev track.LocationEvent)
}

func New(reg *registry.Registry) *Gateway {
	g := &Gateway{}
	g.log = log.DefaultLogger
	g.log.Context = log.NewContext(nil).Str("module", "gateway").Value()
	g.reg = reg
	g.conns = make(map[string]*Session)
	return g
}

// OnLocation registers a hook invoked for every accepted location event,
// after the broadcast. Wire hooks before serving traffic.
func (g *Gateway) OnLocation(hook func(sid string, ev track.LocationEvent)) {
	g.hooks = append(g.hooks, hook)
}

// Attach registers a new participant and returns its session handle.
// Session ids are freshly assigned and never reused.
func (g *Gateway) Attach(sub Subscriber, role string) *Session {
	s := &Session{g: g, sub: sub, sid: util.GenUUID(), role: role}
	g.reg.Register(s.sid, role)
	g.mu.Lock()
	g.conns[s.sid] = s
	g.mu.Unlock()
	metrics.ConnectedParticipants.Inc()
	g.log.Info().Str("event", PARTICIPANT_CONNECTED).EmbedObject(s).Msg("")
	return s
}

// broadcast pushes an encoded frame to every session except the sender.
// The connection set is snapshotted first so a concurrently closing
// session never receives a push after teardown started on its transport.
func (g *Gateway) broadcast(sender string, data []byte) {
	g.mu.Lock()
	targets := make([]*Session, 0, len(g.conns))
	for sid, s := range g.conns {
		if sid != sender {
			targets = append(targets, s)
		}
	}
	g.mu.Unlock()
	for _, s := range targets {
		if s.sub.Push(data) {
			s.Close()
		}
	}
	metrics.BroadcastsSent.Add(float64(len(targets)))
}

// Session is one attached participant. Events from a single session are
// handled on its transport's read goroutine, so per-session ordering is
// the order received.
type Session struct {
	g      *Gateway
	sub    Subscriber
	sid    string
	role   string
	mu     sync.Mutex
	closed bool
}

func (s *Session) ID() string {
	return s.sid
}

func (s *Session) MarshalObject(e *log.Entry) {
	e.Str("sid", s.sid).Str("role", s.role)
}

// HandleRaw dispatches one inbound frame. Malformed frames are dropped
// with a warning; the session stays open.
func (s *Session) HandleRaw(data []byte) {
	env := Envelope{}
	err := json.Unmarshal(data, &env)
	if err != nil {
		s.g.log.Warn().Str("event", INVALID_EVENT).EmbedObject(s).Err(err).Msg("undecodable frame dropped")
		metrics.InvalidEvents.Inc()
		return
	}
	switch env.Event {
	case EventSendLocation:
		ev, err := track.ParseEvent(env.Data, time.Now().UTC())
		if err != nil {
			s.g.log.Warn().Str("event", INVALID_EVENT).EmbedObject(s).Err(err).Msg("location event dropped")
			metrics.InvalidEvents.Inc()
			return
		}
		s.Location(ev)
	case EventRequestAll:
		s.RequestAll()
	default:
		s.g.log.Warn().Str("event", UNKNOWN_EVENT).EmbedObject(s).Msgf("unknown event %q dropped", env.Event)
	}
}

// Location records an already-validated position and fans it out to every
// other participant. An update racing with disconnect is a no-op.
func (s *Session) Location(ev track.LocationEvent) {
	_, ok := s.g.reg.UpdatePosition(s.sid, ev)
	if !ok {
		return
	}
	metrics.LocationEvents.Inc()
	s.g.broadcast(s.sid, encodeLocation(s.sid, ev))
	for _, hook := range s.g.hooks {
		hook(s.sid, ev)
	}
}

// RequestAll backfills this participant with the last known position of
// every other connected participant, so late joiners need not wait for
// organic updates.
func (s *Session) RequestAll() {
	for _, p := range s.g.reg.List() {
		if p.ID == s.sid || p.LastLocation == nil {
			continue
		}
		s.sub.Push(encodeLocation(p.ID, *p.LastLocation))
	}
}

// Close tears the session down: one registry removal, exactly one
// user-disconnected broadcast. Idempotent, safe under a concurrent
// client close and server-detected timeout.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.g.mu.Lock()
	delete(s.g.conns, s.sid)
	s.g.mu.Unlock()
	s.g.reg.Remove(s.sid)
	metrics.ConnectedParticipants.Dec()
	s.g.log.Info().Str("event", PARTICIPANT_DISCONNECTED).EmbedObject(s).Msg("")
	s.g.broadcast(s.sid, encodeData(EventUserDisconnected, s.sid))
}

func encodeLocation(sid string, ev track.LocationEvent) []byte {
	return encodeData(EventReceiveLocation, locationBroadcast{ID: sid, LocationEvent: ev})
}

func encodeData(event string, v interface{}) []byte {
	payload, _ := json.Marshal(v)
	b, _ := json.Marshal(Envelope{Event: event, Data: payload})
	return b
}

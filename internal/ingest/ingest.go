package ingest

import (
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/phuslu/log"
	proxyproto "github.com/pires/go-proxyproto"

	"amzym.dev/livetrack/internal/gateway"
	"amzym.dev/livetrack/internal/track"
)

const (
	NEW_CONNECTION      string = "new_connection"
	LOGIN_MESSAGE       string = "login_message"
	LOGIN_MESSAGE_ERROR string = "login_message_error"
	FRAME_ERROR         string = "frame_error"
)

const (
	FrameLogin    = "login"
	FrameLocation = "location"
)

// Server accepts plain TCP feeds from dedicated trackers that cannot
// speak websocket. Frames are newline-delimited JSON; the first frame
// must be a login, every later one a location. Accepted locations enter
// the same gateway fan-out as websocket participants.
type Server struct {
	mu            sync.Mutex
	log           log.Logger
	gw            *gateway.Gateway
	config        *ServerConfig
	cid_counter   uint64
	listener      net.Listener
	proxylistener proxyproto.Listener
}

type ServerConfig struct {
	ListenerAddr string
}

type frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type loginData struct {
	Role   string `json:"role"`
	Serial string `json:"serial"`
}

func NewServer(gw *gateway.Gateway, config *ServerConfig) *Server {
	s := &Server{}
	s.log = log.DefaultLogger
	s.log.Context = log.NewContext(nil).Str("module", "ingest").Value()
	s.gw = gw
	s.config = config
	return s
}

func (s *Server) Run() {
	s.runListener()
}

func (s *Server) runListener() {
	s.log.Info().Msgf("starting ingest on %s", s.config.ListenerAddr)
	ln, err := net.Listen("tcp", s.config.ListenerAddr)
	if err != nil {
		s.log.Error().Err(err).Msg("unable to listen")
		return
	}
	pln := proxyproto.Listener{Listener: ln}
	s.mu.Lock()
	s.listener = ln
	s.proxylistener = pln
	s.mu.Unlock()

	for {
		_c, err := pln.Accept()
		if err != nil {
			s.log.Error().Err(err).Msg("failed to accept new connection")
			pln.Close()
			return
		}
		c := NewConn(_c, s.cid_counter)
		s.cid_counter = s.cid_counter + 1
		s.log.Info().Str("event", NEW_CONNECTION).EmbedObject(c).Uint64("cid", s.cid_counter).Msg("")
		go s.handle(c)
	}
}

// handle drives one tracker connection to completion. Login and framing
// errors close the connection; invalid location payloads are dropped and
// the feed keeps going.
func (s *Server) handle(c *Conn) {
	defer c.Close()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.ReadLine()
	if err != nil {
		s.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msg("error reading login message")
		return
	}
	f := frame{}
	err = json.Unmarshal(line, &f)
	if err != nil || f.Type != FrameLogin {
		s.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msg("first frame is not a login")
		return
	}
	login := loginData{}
	err = json.Unmarshal(f.Data, &login)
	if err != nil {
		s.log.Error().Err(err).Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msg("error parsing login message")
		return
	}
	role := login.Role
	switch role {
	case track.RoleRobot, track.RoleDriver, track.RoleCustomer:
	case "":
		role = track.RoleDriver
	default:
		s.log.Error().Str("event", LOGIN_MESSAGE_ERROR).EmbedObject(c).Msgf("unknown role %q", login.Role)
		return
	}
	_ = c.SetReadDeadline(time.Time{})
	s.log.Info().Str("event", LOGIN_MESSAGE).EmbedObject(c).Str("role", role).Str("serial", login.Serial).Msg("")

	sess := s.gw.Attach(&lineSub{c: c}, role)
	defer sess.Close()

	for {
		line, err := c.ReadLine()
		if err != nil {
			return
		}
		f := frame{}
		err = json.Unmarshal(line, &f)
		if err != nil {
			s.log.Warn().Err(err).Str("event", FRAME_ERROR).EmbedObject(c).Msg("undecodable frame, closing")
			return
		}
		switch f.Type {
		case FrameLocation:
			ev, err := track.ParseEvent(f.Data, time.Now().UTC())
			if err != nil {
				s.log.Warn().Err(err).Str("event", FRAME_ERROR).EmbedObject(c).Msg("location frame dropped")
				continue
			}
			sess.Location(ev)
		default:
			s.log.Warn().Str("event", FRAME_ERROR).EmbedObject(c).Msgf("unknown frame type %q dropped", f.Type)
		}
	}
}

// lineSub adapts the raw socket to the gateway fan-out. Writes are
// serialized and bounded by a deadline so one stalled tracker cannot
// hold a broadcast.
type lineSub struct {
	mu sync.Mutex
	c  *Conn
}

func (l *lineSub) Push(data []byte) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_ = l.c.SetWriteDeadline(time.Now().Add(1 * time.Second))
	_, err := l.c.Write(append(data, '\n'))
	return err != nil
}

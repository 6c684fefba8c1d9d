package gateway

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/phuslu/log"
	"nhooyr.io/websocket"

	"amzym.dev/livetrack/internal/track"
)

type wsClient struct {
	c       *websocket.Conn
	loc     chan []byte
	quit    chan struct{}
	once    sync.Once
	closed  int32
	pushed  uint64
	skipped uint64
}

func (wc *wsClient) Push(d []byte) bool {
	if atomic.LoadInt32(&wc.closed) == 1 {
		return true
	}
	select {
	case wc.loc <- d:
		atomic.AddUint64(&wc.pushed, 1)
	default:
		atomic.AddUint64(&wc.skipped, 1)
	}
	return false
}

func (wc *wsClient) stop() {
	atomic.StoreInt32(&wc.closed, 1)
	wc.once.Do(func() { close(wc.quit) })
}

func (wc *wsClient) writeLoop(logger log.Logger) {
	for {
		select {
		case d := <-wc.loc:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := wc.c.Write(ctx, websocket.MessageText, d)
			cancel()
			if err != nil {
				logger.Error().Err(err).Msg("error while writing to connection")
				atomic.StoreInt32(&wc.closed, 1)
				return
			}
		case <-wc.quit:
			return
		}
	}
}

// ServeWs upgrades the request and runs the session until the transport
// drops. A transport error is not an application error: it just triggers
// the standard disconnect lifecycle.
func (g *Gateway) ServeWs(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		g.log.Error().Err(err).Msg("error while upgrading websocket")
		return
	}
	role := r.URL.Query().Get("role")
	if role == "" {
		role = track.RoleCustomer
	}
	wc := &wsClient{c: c, loc: make(chan []byte, 64), quit: make(chan struct{})}
	sess := g.Attach(wc, role)
	go wc.writeLoop(g.log)
	for {
		_, msg, err := c.Read(r.Context())
		if err != nil {
			break
		}
		sess.HandleRaw(msg)
	}
	sess.Close()
	wc.stop()
	_ = c.Close(websocket.StatusNormalClosure, "")
}

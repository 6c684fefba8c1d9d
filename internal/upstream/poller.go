package upstream

import (
	"context"
	"sync"
	"time"

	"github.com/phuslu/log"

	"amzym.dev/livetrack/internal/track"
)

const (
	POLL_FAILED   string = "poll_failed"
	POLL_DEGRADED string = "poll_degraded"
)

// Poller runs FetchCurrent on a fixed interval. A failed tick never stops
// the loop; only Stop does. There is no in-tick retry: a failure waits for
// the next scheduled interval.
type Poller struct {
	client   *Client
	interval time.Duration
	maxFails int
	log      log.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	fails    int
	degraded func(consecutive int)
}

func NewPoller(client *Client, interval time.Duration, maxFails int) *Poller {
	p := &Poller{}
	p.log = log.DefaultLogger
	p.log.Context = log.NewContext(nil).Str("module", "gps-poller").Value()
	p.client = client
	if interval == 0 {
		interval = 2 * time.Second
	}
	p.interval = interval
	if maxFails == 0 {
		maxFails = 3
	}
	p.maxFails = maxFails
	return p
}

// OnDegraded registers a notification fired once per outage, when the
// consecutive-failure count first reaches the threshold. Set before Start.
func (p *Poller) OnDegraded(f func(consecutive int)) {
	p.degraded = f
}

// Start launches the polling loop with an immediate first fetch. onError
// receives the consecutive-failure count alongside the error. Calling
// Start on a running poller is a no-op.
func (p *Poller) Start(onEvent func(track.LocationEvent), onError func(err error, consecutive int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.fails = 0
	go p.loop(ctx, onEvent, onError)
}

// Stop cancels the loop and waits for it to exit. After Stop returns no
// further onEvent or onError invocation happens. Safe from any goroutine;
// stopping an idle poller is a no-op.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	cancel, done := p.cancel, p.done
	p.mu.Unlock()
	cancel()
	<-done
}

func (p *Poller) loop(ctx context.Context, onEvent func(track.LocationEvent), onError func(error, int)) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	p.tick(ctx, onEvent, onError)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			select {
			case <-ctx.Done():
				return
			default:
			}
			p.tick(ctx, onEvent, onError)
		}
	}
}

func (p *Poller) tick(ctx context.Context, onEvent func(track.LocationEvent), onError func(error, int)) {
	ev, err := p.client.FetchCurrent(ctx)
	if ctx.Err() != nil {
		// canceled mid-fetch, suppress the racing final callback
		return
	}
	if err != nil {
		p.fails++
		p.log.Warn().Str("event", POLL_FAILED).Err(err).Int("consecutive", p.fails).Msg("")
		onError(err, p.fails)
		if p.fails == p.maxFails && p.degraded != nil {
			p.log.Warn().Str("event", POLL_DEGRADED).Int("consecutive", p.fails).Msg("")
			p.degraded(p.fails)
		}
		return
	}
	p.fails = 0
	onEvent(ev)
}

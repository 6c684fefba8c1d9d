package upstream

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"amzym.dev/livetrack/internal/track"
)

// Provider that fails twice then succeeds: onError fires exactly twice,
// then onEvent, and polling continues without manual restart.
func TestPollerResilience(t *testing.T) {
	var calls int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt64(&calls, 1)
		if n <= 2 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"lat":35.2,"lon":126.8,"timestamp":1}`))
	}))
	defer srv.Close()

	events := make(chan track.LocationEvent, 16)
	errs := make(chan int, 16)
	p := NewPoller(newTestClient(srv.URL, time.Second), 50*time.Millisecond, 3)
	p.Start(
		func(ev track.LocationEvent) { events <- ev },
		func(err error, consecutive int) { errs <- consecutive },
	)
	defer p.Stop()

	expect := func(ch chan int, want int) {
		t.Helper()
		select {
		case got := <-ch:
			if got != want {
				t.Fatalf("expected consecutive count %d, got %d", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for onError")
		}
	}
	expect(errs, 1)
	expect(errs, 2)

	for i := 0; i < 2; i++ {
		select {
		case ev := <-events:
			if ev.Latitude != 35.2 {
				t.Errorf("unexpected event %+v", ev)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("poller stopped delivering after recovery")
		}
	}
	select {
	case <-errs:
		t.Error("onError fired after recovery")
	default:
	}
}

func TestPollerDegradedSignal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	degraded := make(chan int, 4)
	p := NewPoller(newTestClient(srv.URL, time.Second), 20*time.Millisecond, 3)
	p.OnDegraded(func(consecutive int) { degraded <- consecutive })
	errs := make(chan int, 64)
	p.Start(
		func(track.LocationEvent) { t.Error("unexpected onEvent") },
		func(err error, consecutive int) { errs <- consecutive },
	)
	defer p.Stop()

	select {
	case n := <-degraded:
		if n != 3 {
			t.Errorf("degraded at %d failures, expected 3", n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("degraded signal never fired")
	}

	// polling keeps going past the threshold, but degraded fires once
	deadline := time.After(2 * time.Second)
	for {
		select {
		case n := <-errs:
			if n > 4 {
				select {
				case <-degraded:
					t.Error("degraded fired more than once per outage")
				default:
				}
				return
			}
		case <-deadline:
			t.Fatal("polling stopped on its own")
		}
	}
}

func TestPollerStopIsFinal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"lat":1,"lon":2,"timestamp":1}`))
	}))
	defer srv.Close()

	var invocations int64
	p := NewPoller(newTestClient(srv.URL, time.Second), 10*time.Millisecond, 3)
	p.Start(
		func(track.LocationEvent) { atomic.AddInt64(&invocations, 1) },
		func(error, int) { atomic.AddInt64(&invocations, 1) },
	)
	time.Sleep(50 * time.Millisecond)
	p.Stop()
	after := atomic.LoadInt64(&invocations)
	time.Sleep(100 * time.Millisecond)
	if got := atomic.LoadInt64(&invocations); got != after {
		t.Errorf("callbacks after Stop returned: %d -> %d", after, got)
	}
	// stopping again is a no-op
	p.Stop()
}

func TestPollerStopWithoutStart(t *testing.T) {
	p := NewPoller(newTestClient("http://127.0.0.1:0", time.Second), 10*time.Millisecond, 3)
	p.Stop()
}

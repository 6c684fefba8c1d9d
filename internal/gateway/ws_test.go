package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"nhooyr.io/websocket"

	"amzym.dev/livetrack/internal/registry"
)

func dialWs(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func readEnvelope(t *testing.T, c *websocket.Conn) Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, msg, err := c.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	env := Envelope{}
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatal(err)
	}
	return env
}

// Full scenario over the websocket transport: second client receives the
// first client's position, then its disconnect notification, and the
// registry count drops back to one.
func TestWebsocketEndToEnd(t *testing.T) {
	reg := registry.New()
	g := New(reg)
	srv := httptest.NewServer(http.HandlerFunc(g.ServeWs))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	c2 := dialWs(t, url+"?role=customer")
	defer c2.Close(websocket.StatusNormalClosure, "")
	waitForCount(t, reg, 1)

	c1 := dialWs(t, url+"?role=delivery-driver")
	waitForCount(t, reg, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c1.Write(ctx, websocket.MessageText,
		[]byte(`{"event":"send-location","data":{"latitude":35.228950619029085,"longitude":126.8427269951037}}`))
	if err != nil {
		t.Fatal(err)
	}

	env := readEnvelope(t, c2)
	if env.Event != EventReceiveLocation {
		t.Fatalf("expected receive-location, got %q", env.Event)
	}
	payload := locationBroadcast{}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatal(err)
	}
	if payload.Latitude != 35.228950619029085 || payload.Longitude != 126.8427269951037 {
		t.Errorf("coordinates mangled: %+v", payload)
	}
	if payload.ID == "" {
		t.Error("broadcast without sender id")
	}

	c1.Close(websocket.StatusNormalClosure, "")

	env = readEnvelope(t, c2)
	if env.Event != EventUserDisconnected {
		t.Fatalf("expected user-disconnected, got %q", env.Event)
	}
	var gone string
	if err := json.Unmarshal(env.Data, &gone); err != nil {
		t.Fatal(err)
	}
	if gone != payload.ID {
		t.Errorf("disconnect id %q does not match sender id %q", gone, payload.ID)
	}
	waitForCount(t, reg, 1)
}

func waitForCount(t *testing.T, reg *registry.Registry, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if reg.Count() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("registry count never reached %d (now %d)", want, reg.Count())
}

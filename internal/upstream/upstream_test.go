package upstream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(url string, timeout time.Duration) *Client {
	return NewClient(&ClientConfig{URL: url, Timeout: timeout})
}

func TestFetchCurrentNormalizes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"lat":35.2289,"lon":126.8427,"timestamp":1715502600000}`))
	}))
	defer srv.Close()

	ev, err := newTestClient(srv.URL, time.Second).FetchCurrent(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Latitude != 35.2289 || ev.Longitude != 126.8427 || ev.Timestamp != 1715502600000 {
		t.Errorf("normalization mangled reading: %+v", ev)
	}
}

func TestFetchCurrentDefaultsTimestamp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"lat":1,"lon":2}`))
	}))
	defer srv.Close()

	before := time.Now().UTC().UnixMilli()
	ev, err := newTestClient(srv.URL, time.Second).FetchCurrent(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if ev.Timestamp < before {
		t.Errorf("timestamp not defaulted to receipt time: %d", ev.Timestamp)
	}
}

func TestFetchCurrentHttpError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, time.Second).FetchCurrent(context.Background())
	uerr := &Error{}
	if !errors.As(err, &uerr) || uerr.Kind != HttpError || uerr.Status != http.StatusInternalServerError {
		t.Errorf("expected HttpError with status 500, got %v", err)
	}
}

func TestFetchCurrentInvalidPayload(t *testing.T) {
	cases := []string{
		`{"lat":35.2}`,
		`{"lat":"abc","lon":126.8}`,
		`{"lat":null,"lon":126.8}`,
		`{"lat":999,"lon":126.8}`,
		`not json`,
	}
	for _, body := range cases {
		body := body
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(body))
		}))
		_, err := newTestClient(srv.URL, time.Second).FetchCurrent(context.Background())
		srv.Close()
		uerr := &Error{}
		if !errors.As(err, &uerr) || uerr.Kind != InvalidPayload {
			t.Errorf("%s: expected InvalidPayload, got %v", body, err)
		}
	}
}

func TestFetchCurrentTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"lat":1,"lon":2}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 30*time.Millisecond).FetchCurrent(context.Background())
	uerr := &Error{}
	if !errors.As(err, &uerr) || uerr.Kind != Timeout {
		t.Errorf("expected Timeout, got %v", err)
	}
}

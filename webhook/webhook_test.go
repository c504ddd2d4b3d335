package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/use-agent/harvest/logging"
)

func TestDeliverSigned(t *testing.T) {
	var (
		gotSig  string
		gotBody []byte
		gotUA   string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotUA = r.Header.Get("User-Agent")
		gotBody, _ = io.ReadAll(r.Body)
	}))
	defer srv.Close()

	ev := NewEvent(CrawlCompleted, "job-1", map[string]int{"visited": 3})
	if err := Deliver(context.Background(), srv.URL, "s3cret", ev); err != nil {
		t.Fatal(err)
	}
	if gotSig != Sign("s3cret", gotBody) {
		t.Errorf("signature %q does not match body", gotSig)
	}
	if gotUA != "Harvest-Webhook/1.0" {
		t.Errorf("user agent = %q", gotUA)
	}

	var decoded Event
	if err := json.Unmarshal(gotBody, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.Type != CrawlCompleted || decoded.JobID != "job-1" || decoded.Timestamp == 0 {
		t.Errorf("event = %+v", decoded)
	}
}

func TestDeliverUnsignedWithoutSecret(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(SignatureHeader) != "" {
			t.Error("unexpected signature header")
		}
	}))
	defer srv.Close()

	if err := Deliver(context.Background(), srv.URL, "", NewEvent(CrawlPage, "j", nil)); err != nil {
		t.Fatal(err)
	}
}

func TestDeliverErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := Deliver(context.Background(), srv.URL, "", NewEvent(CrawlFailed, "j", nil)); err == nil {
		t.Error("expected an error for a 500 response")
	}
}

func TestDeliverAsyncRetries(t *testing.T) {
	saved := retryDelays
	retryDelays = []time.Duration{0, time.Millisecond, time.Millisecond}
	defer func() { retryDelays = saved }()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	done := make(chan struct{})
	DeliverAsync(logging.Discard(), srv.URL, "", NewEvent(CrawlCompleted, "j", nil), done)
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not finish")
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

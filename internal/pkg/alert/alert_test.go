package alert

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/journal"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

func TestDeliverySignedAndMatched(t *testing.T) {
	received := make(chan *http.Request, 1)
	bodyCh := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodyCh <- b
		received <- r
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]Rule{{
		Name:       "rotations",
		EventTypes: []model.AuditEventType{model.EventRotateKeys},
		Endpoints:  []Endpoint{{URL: srv.URL, Secret: "hunter2"}},
	}}, 1, 8, 0)
	defer d.Stop()

	d.Notify(journal.Event{
		Type:      model.EventRotateKeys,
		EntityID:  "r1",
		Operator:  "ops",
		Timestamp: time.Now(),
	})

	select {
	case r := <-received:
		body := <-bodyCh
		sig := r.Header.Get("X-Fleetkeeper-Signature")
		mac := hmac.New(sha256.New, []byte("hunter2"))
		mac.Write(body)
		if sig != hex.EncodeToString(mac.Sum(nil)) {
			t.Fatalf("signature mismatch")
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Fatalf("content type = %s", r.Header.Get("Content-Type"))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("webhook never delivered")
	}
}

func TestRuleFiltering(t *testing.T) {
	hits := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := NewDispatcher([]Rule{{
		Name:       "deploys-only",
		EventTypes: []model.AuditEventType{model.EventDeploy},
		Endpoints:  []Endpoint{{URL: srv.URL, Secret: "s"}},
	}}, 1, 8, 0)
	defer d.Stop()

	d.Notify(journal.Event{Type: model.EventRotateKeys})
	d.Notify(journal.Event{Type: model.EventDeploy})

	select {
	case <-hits:
	case <-time.After(5 * time.Second):
		t.Fatalf("matching event never delivered")
	}
	select {
	case <-hits:
		t.Fatalf("non-matching event delivered")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestEmptyEventTypesMatchesAll(t *testing.T) {
	r := Rule{Name: "all"}
	if !r.matches(journal.Event{Type: model.EventDeploy}) {
		t.Fatalf("catch-all rule did not match")
	}
}

func TestNotifyNeverBlocks(t *testing.T) {
	// No workers drain the queue; Notify must still return promptly,
	// dropping once the buffer fills.
	d := &Dispatcher{
		rules:    []Rule{{Name: "all", Endpoints: []Endpoint{{URL: "http://127.0.0.1:0", Secret: "s"}}}},
		queue:    make(chan Delivery, 2),
		limiters: map[string]*rate.Limiter{},
	}
	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			d.Notify(journal.Event{Type: model.EventDeploy})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Notify blocked on a full queue")
	}
}

// Package alert is the Alert/Webhook Dispatcher: a
// journal.Subscriber that evaluates alert rules against published
// events and delivers signed, rate-limited webhooks with exponential
// backoff. It never blocks the mutating operation that produced the
// event: Notify only enqueues.
package alert

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"k8s.io/klog/v2"

	"github.com/fleetkeeper/fleetkeeper/internal/pkg/journal"
	"github.com/fleetkeeper/fleetkeeper/internal/pkg/model"
)

// Rule matches a subset of events to one or more endpoints.
type Rule struct {
	Name       string
	EventTypes []model.AuditEventType // empty means match all
	Endpoints  []Endpoint
}

// Endpoint is one webhook destination.
type Endpoint struct {
	URL    string
	Secret string // HMAC signing key
}

// Delivery is one queued webhook send.
type Delivery struct {
	Endpoint Endpoint
	Payload  []byte
	Attempt  int
}

// Dispatcher evaluates Rules against journal events and delivers
// webhooks on a bounded worker pool with retry/backoff.
type Dispatcher struct {
	rules    []Rule
	client   *http.Client
	queue    chan Delivery
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	maxRetry int
	wg       sync.WaitGroup
}

// NewDispatcher starts workerCount delivery goroutines.
func NewDispatcher(rules []Rule, workerCount, queueDepth, maxRetry int) *Dispatcher {
	d := &Dispatcher{
		rules:    rules,
		client:   &http.Client{Timeout: 10 * time.Second},
		queue:    make(chan Delivery, queueDepth),
		limiters: map[string]*rate.Limiter{},
		maxRetry: maxRetry,
	}
	for i := 0; i < workerCount; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Notify implements journal.Subscriber. It never performs I/O itself:
// matching rules are enqueued and the webhook worker pool does the
// actual delivery, so a slow or unreachable endpoint can never delay
// the transaction that produced the event.
func (d *Dispatcher) Notify(e journal.Event) {
	for _, r := range d.rules {
		if !r.matches(e) {
			continue
		}
		payload, err := json.Marshal(map[string]any{
			"rule":        r.Name,
			"event_type":  e.Type,
			"entity_type": e.EntityType,
			"entity_id":   e.EntityID,
			"operator":    e.Operator,
			"timestamp":   e.Timestamp.UTC().Format(time.RFC3339),
			"details":     e.Details,
		})
		if err != nil {
			klog.ErrorS(err, "failed to marshal alert payload", "rule", r.Name)
			continue
		}
		for _, ep := range r.Endpoints {
			select {
			case d.queue <- Delivery{Endpoint: ep, Payload: payload}:
			default:
				klog.Warningf("alert queue full, dropping delivery to %s", ep.URL)
			}
		}
	}
}

func (r Rule) matches(e journal.Event) bool {
	if len(r.EventTypes) == 0 {
		return true
	}
	for _, t := range r.EventTypes {
		if t == e.Type {
			return true
		}
	}
	return false
}

func (d *Dispatcher) limiterFor(url string) *rate.Limiter {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.limiters[url]
	if !ok {
		l = rate.NewLimiter(rate.Every(time.Second), 5)
		d.limiters[url] = l
	}
	return l
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for dl := range d.queue {
		d.deliver(dl)
	}
}

func (d *Dispatcher) deliver(dl Delivery) {
	limiter := d.limiterFor(dl.Endpoint.URL)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := limiter.Wait(ctx); err != nil {
		klog.Warningf("rate limiter wait failed for %s: %v", dl.Endpoint.URL, err)
		return
	}

	sig := sign(dl.Endpoint.Secret, dl.Payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dl.Endpoint.URL, bytes.NewReader(dl.Payload))
	if err != nil {
		klog.ErrorS(err, "failed to build webhook request", "url", dl.Endpoint.URL)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fleetkeeper-Signature", sig)

	resp, err := d.client.Do(req)
	if err == nil {
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return
		}
		err = fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	if dl.Attempt >= d.maxRetry {
		klog.Warningf("webhook delivery to %s failed permanently after %d attempts: %v", dl.Endpoint.URL, dl.Attempt+1, err)
		return
	}

	backoff := time.Duration(1<<uint(dl.Attempt)) * time.Second
	klog.V(1).InfoS("webhook delivery failed, retrying", "url", dl.Endpoint.URL, "attempt", dl.Attempt+1, "backoff", backoff, "error", err)
	time.AfterFunc(backoff, func() {
		dl.Attempt++
		select {
		case d.queue <- dl:
		default:
			klog.Warningf("alert queue full, dropping retry for %s", dl.Endpoint.URL)
		}
	})
}

// sign computes the HMAC-SHA256 signature of payload.
func sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Stop closes the delivery queue and waits for in-flight sends to drain.
func (d *Dispatcher) Stop() {
	close(d.queue)
	d.wg.Wait()
}

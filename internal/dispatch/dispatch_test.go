package dispatch_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/contex-io/contex/internal/dispatch"
	"github.com/contex-io/contex/pkg/models"
	"github.com/contex-io/contex/pkg/webhook"
)

// ─── Circuit breaker ─────────────────────────────────────────

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := dispatch.NewCircuitBreaker(5, 2, time.Minute)

	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	if cb.State() != dispatch.StateClosed {
		t.Fatalf("state after 4 failures = %v, want closed", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != dispatch.StateOpen {
		t.Fatalf("state after 5 failures = %v, want open", cb.State())
	}
	if cb.Allow() {
		t.Error("Allow() = true while open")
	}
}

func TestBreakerHalfOpenAndRecovery(t *testing.T) {
	cb := dispatch.NewCircuitBreaker(5, 2, 50*time.Millisecond)

	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("Allow() = false after timeout elapsed")
	}
	if cb.State() != dispatch.StateHalfOpen {
		t.Fatalf("state = %v, want half_open", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != dispatch.StateHalfOpen {
		t.Fatalf("state after 1 success = %v, want half_open", cb.State())
	}
	cb.RecordSuccess()
	if cb.State() != dispatch.StateClosed {
		t.Fatalf("state after 2 successes = %v, want closed", cb.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := dispatch.NewCircuitBreaker(5, 2, 50*time.Millisecond)
	for i := 0; i < 5; i++ {
		cb.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	cb.Allow()

	cb.RecordFailure()
	if cb.State() != dispatch.StateOpen {
		t.Fatalf("state = %v, want open after half-open failure", cb.State())
	}
	if cb.Allow() {
		t.Error("Allow() = true immediately after reopening")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := dispatch.NewCircuitBreaker(5, 2, time.Minute)
	for i := 0; i < 4; i++ {
		cb.RecordFailure()
	}
	cb.RecordSuccess()
	cb.RecordFailure()
	if cb.State() != dispatch.StateClosed {
		t.Error("non-consecutive failures opened the breaker")
	}
}

// ─── Webhook retries ─────────────────────────────────────────

func newSender(t *testing.T, opts ...dispatch.WebhookOption) *dispatch.WebhookSender {
	t.Helper()
	base := []dispatch.WebhookOption{dispatch.WithBaseDelay(10 * time.Millisecond)}
	return dispatch.NewWebhookSender(dispatch.NewBreakers(0, 0, 0), "test", append(base, opts...)...)
}

func TestRetryOnServerError(t *testing.T) {
	var mu sync.Mutex
	var codes []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		n := len(codes)
		codes = append(codes, 0)
		mu.Unlock()
		if n < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newSender(t).Send(context.Background(), srv.URL, "", "data_update", []byte("{}"))
	if err != nil {
		t.Fatalf("Send() error = %v, want success after retries", err)
	}
	if len(codes) != 3 {
		t.Errorf("server saw %d POSTs, want 3 (503, 503, 200)", len(codes))
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	err := newSender(t).Send(context.Background(), srv.URL, "", "data_update", []byte("{}"))
	if err == nil {
		t.Fatal("Send() = nil, want failure on 404")
	}
	if calls != 1 {
		t.Errorf("server saw %d POSTs, want exactly 1 (no retry on 4xx)", calls)
	}
}

func TestRetryDelaysFollowExponentialSchedule(t *testing.T) {
	var mu sync.Mutex
	var stamps []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		n := len(stamps)
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sender := newSender(t, dispatch.WithBaseDelay(100*time.Millisecond))
	if err := sender.Send(context.Background(), srv.URL, "", "event", []byte("{}")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if len(stamps) != 3 {
		t.Fatalf("got %d attempts, want 3", len(stamps))
	}

	// base 100ms, ±25% jitter, doubling: first gap 75–125ms, second 150–250ms.
	// Upper bounds are padded for scheduler overhead.
	gap1 := stamps[1].Sub(stamps[0])
	gap2 := stamps[2].Sub(stamps[1])
	if gap1 < 70*time.Millisecond || gap1 > 175*time.Millisecond {
		t.Errorf("first retry delay = %v, want ~75–125ms", gap1)
	}
	if gap2 < 140*time.Millisecond || gap2 > 320*time.Millisecond {
		t.Errorf("second retry delay = %v, want ~150–250ms", gap2)
	}
}

func TestSendSetsHeadersAndSignature(t *testing.T) {
	var gotEvent, gotSig, gotUA string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Contex-Event")
		gotSig = r.Header.Get("X-Contex-Signature")
		gotUA = r.Header.Get("User-Agent")
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	body := []byte(`{"type":"initial_context"}`)
	if err := newSender(t).Send(context.Background(), srv.URL, "hushhush", "initial_context", body); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	if gotEvent != "initial_context" {
		t.Errorf("X-Contex-Event = %q", gotEvent)
	}
	if gotUA != "Contex-Webhook/test" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if !webhook.Verify("hushhush", gotBody, gotSig) {
		t.Errorf("signature %q does not verify against body", gotSig)
	}
}

func TestSendShortCircuitsOnOpenBreaker(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	breakers := dispatch.NewBreakers(2, 2, time.Minute)
	sender := dispatch.NewWebhookSender(breakers, "test",
		dispatch.WithBaseDelay(time.Millisecond), dispatch.WithMaxAttempts(1))

	ctx := context.Background()
	sender.Send(ctx, srv.URL, "", "event", []byte("{}"))
	sender.Send(ctx, srv.URL, "", "event", []byte("{}"))

	before := calls
	err := sender.Send(ctx, srv.URL, "", "event", []byte("{}"))
	if !errors.Is(err, models.ErrCircuitOpen) {
		t.Fatalf("Send() error = %v, want circuit open", err)
	}
	if calls != before {
		t.Error("open breaker still performed I/O")
	}
}

// ─── Dispatcher ──────────────────────────────────────────────

func TestDeliverPubSub(t *testing.T) {
	bus := dispatch.NewMemoryBus()
	ch := bus.Subscribe("agent:a1:updates")
	d := dispatch.New(nil, bus, 4)

	sub := &models.Subscription{
		AgentID:  "a1",
		Delivery: models.Delivery{Mode: models.DeliveryPubSub, Channel: "agent:a1:updates"},
	}
	if err := d.Deliver(context.Background(), sub, "data_update", []byte("hello")); err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	select {
	case msg := <-ch:
		if string(msg) != "hello" {
			t.Errorf("received %q, want hello", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("no message received on channel")
	}
}

func TestDeliverWebhookBackpressure(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(block)

	sender := dispatch.NewWebhookSender(dispatch.NewBreakers(0, 0, 0), "test", dispatch.WithMaxAttempts(1))
	d := dispatch.New(sender, nil, 2)

	sub := &models.Subscription{
		AgentID:  "a1",
		Delivery: models.Delivery{Mode: models.DeliveryWebhook, URL: srv.URL},
	}
	ctx := context.Background()

	if err := d.Deliver(ctx, sub, "e", []byte("{}")); err != nil {
		t.Fatalf("first Deliver() error = %v", err)
	}
	if err := d.Deliver(ctx, sub, "e", []byte("{}")); err != nil {
		t.Fatalf("second Deliver() error = %v", err)
	}

	// Give the two background deliveries time to occupy the pool.
	time.Sleep(50 * time.Millisecond)
	err := d.Deliver(ctx, sub, "e", []byte("{}"))
	if !errors.Is(err, models.ErrBackpressure) {
		t.Errorf("third Deliver() error = %v, want backpressure", err)
	}
}

func TestMemoryBusUnsubscribe(t *testing.T) {
	bus := dispatch.NewMemoryBus()
	ch := bus.Subscribe("c")
	bus.Unsubscribe("c", ch)

	if err := bus.Publish(context.Background(), "c", []byte("x")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if _, open := <-ch; open {
		t.Error("channel still open after Unsubscribe")
	}
}

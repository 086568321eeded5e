package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"fintrack/internal/log"
)

func TestExponentialBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("attempt_%d", tt.attempt), func(t *testing.T) {
			if got := exponentialBackoff(tt.attempt); got != tt.expected {
				t.Errorf("exponentialBackoff(%d) = %v, want %v", tt.attempt, got, tt.expected)
			}
		})
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"EOF", errors.New("unexpected EOF"), true},
		{"broken pipe", errors.New("write: broken pipe"), true},
		{"closed network connection", errors.New("use of closed network connection"), true},
		{"other error", errors.New("invalid input"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isConnectionError(tt.err); got != tt.expected {
				t.Errorf("isConnectionError(%v) = %v, want %v", tt.err, got, tt.expected)
			}
		})
	}
}

func TestClient_CircuitBreaker(t *testing.T) {
	client := &Client{exchangeName: "test_exchange", logger: log.Discard()}

	if client.isCircuitOpen() {
		t.Fatal("circuit breaker should be closed initially")
	}

	for i := 0; i < maxFailures; i++ {
		client.recordFailure()
	}
	if !client.isCircuitOpen() {
		t.Fatal("circuit breaker should be open after max failures")
	}

	err := client.PublishTransactionChanged(context.Background(), NewTransactionChanged("u1", "t1", ActionCreated))
	if err == nil || !strings.Contains(err.Error(), "circuit breaker is open") {
		t.Fatalf("expected circuit breaker error, got %v", err)
	}

	client.lastFailure = time.Now().Add(-openTimeout - time.Second)
	if client.isCircuitOpen() {
		t.Fatal("circuit should be half-open after the timeout")
	}
	if atomic.LoadInt32(&client.state) != StateHalfOpen {
		t.Fatal("state should be half-open")
	}

	client.recordFailure()
	if atomic.LoadInt32(&client.state) != StateOpen {
		t.Fatal("a failure while half-open reopens the circuit")
	}

	client.recordSuccess()
	if client.isCircuitOpen() || atomic.LoadInt64(&client.failureCount) != 0 {
		t.Fatal("success should close the circuit and reset failures")
	}
}

func TestPublishRespectsCancelledContext(t *testing.T) {
	client := &Client{exchangeName: "test_exchange", logger: log.Discard()}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := client.PublishTransactionChanged(ctx, NewTransactionChanged("u1", "t1", ActionDeleted))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

type fakeAck struct {
	acked, nacked, requeued bool
}

func (f *fakeAck) Ack(bool) error { f.acked = true; return nil }
func (f *fakeAck) Nack(_ bool, requeue bool) error {
	f.nacked, f.requeued = true, requeue
	return nil
}

func TestDispatch(t *testing.T) {
	client := &Client{origin: "instance-a", logger: log.Discard()}

	var handled []TransactionChanged
	handler := func(_ context.Context, m TransactionChanged) error {
		handled = append(handled, m)
		return nil
	}

	t.Run("foreign message is handled", func(t *testing.T) {
		ack := &fakeAck{}
		client.dispatch(context.Background(), []byte(`{"uid":"u1","transaction_id":"t1","action":"updated","origin":"instance-b"}`), ack, handler)
		if !ack.acked || len(handled) != 1 || handled[0].UserID != "u1" {
			t.Fatalf("ack=%+v handled=%v", ack, handled)
		}
	})

	t.Run("own message is skipped", func(t *testing.T) {
		ack := &fakeAck{}
		client.dispatch(context.Background(), []byte(`{"uid":"u1","action":"created","origin":"instance-a"}`), ack, handler)
		if !ack.acked || len(handled) != 1 {
			t.Fatalf("own message should be acked without handling")
		}
	})

	t.Run("malformed message is dropped", func(t *testing.T) {
		ack := &fakeAck{}
		client.dispatch(context.Background(), []byte(`{"uid":"","action":"created"}`), ack, handler)
		if !ack.nacked || ack.requeued {
			t.Fatalf("malformed message should be nacked without requeue: %+v", ack)
		}
	})

	t.Run("handler failure is dropped", func(t *testing.T) {
		ack := &fakeAck{}
		failing := func(context.Context, TransactionChanged) error { return errors.New("boom") }
		client.dispatch(context.Background(), []byte(`{"uid":"u2","action":"deleted"}`), ack, failing)
		if !ack.nacked || ack.requeued {
			t.Fatalf("failed message should be nacked without requeue: %+v", ack)
		}
	})
}

func TestTransactionChangedFromJSON(t *testing.T) {
	msg := NewTransactionChanged("u1", "t1", ActionUpdated)
	body, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	got, err := TransactionChangedFromJSON(body)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.UserID != "u1" || got.Action != ActionUpdated || !got.Timestamp.Equal(msg.Timestamp) {
		t.Fatalf("got %+v", got)
	}

	if _, err := TransactionChangedFromJSON([]byte(`{"uid":"u1","action":"renamed"}`)); err == nil {
		t.Fatal("unknown action should fail")
	}
}

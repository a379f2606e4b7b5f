package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/steveyegge/budgetsync/internal/ledger/reconcile"
	"github.com/steveyegge/budgetsync/internal/ledger/schema"
)

var quiet = log.New(io.Discard, "", 0)

type recordingWriter struct {
	mu      sync.Mutex
	msgs    []kafka.Message
	batches int
	err     error
	closed  bool
	gate    chan struct{} // when set, each write waits for a value
}

func (w *recordingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.gate != nil {
		<-w.gate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.batches++
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) written() []kafka.Message {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]kafka.Message(nil), w.msgs...)
}

func TestNewPublisher_RequiresBrokers(t *testing.T) {
	if _, err := NewPublisher(Config{}); err == nil {
		t.Error("NewPublisher() should reject a config without brokers")
	}
}

func TestEncode(t *testing.T) {
	at := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	tx := schema.Transaction{ID: "tx-1", Amount: decimal.NewFromInt(-5), OccurredAt: at, Label: "coffee", Pending: true}

	msg, err := Encode(reconcile.Event{Kind: reconcile.EventCreated, Transaction: &tx, Balance: decimal.NewFromInt(95), Pending: 1, At: at})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	if string(msg.Key) != "tx-1" {
		t.Errorf("Key = %q, want tx-1", msg.Key)
	}
	if !msg.Time.Equal(at) {
		t.Errorf("Time = %v, want %v", msg.Time, at)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "created" {
		t.Errorf("Headers = %+v, want the event kind", msg.Headers)
	}

	var decoded reconcile.Event
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("Failed to decode message value: %v", err)
	}
	if decoded.Kind != reconcile.EventCreated {
		t.Errorf("Kind = %v, want created", decoded.Kind)
	}
	if decoded.Transaction == nil || decoded.Transaction.Label != "coffee" {
		t.Errorf("Transaction = %+v, want coffee", decoded.Transaction)
	}
	if !decoded.Balance.Equal(decimal.NewFromInt(95)) {
		t.Errorf("Balance = %s, want 95", decoded.Balance)
	}

	msg, err = Encode(reconcile.Event{Kind: reconcile.EventSynced, Changes: 3})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if string(msg.Key) != "synced" {
		t.Errorf("Key = %q; events without a transaction are keyed by kind", msg.Key)
	}
}

func TestPublisher_WritesInOrderAndFlushesOnClose(t *testing.T) {
	w := &recordingWriter{}
	p := NewPublisherWithWriter(w, Config{Logger: quiet})

	for i := 0; i < 20; i++ {
		tx := schema.Transaction{ID: string(rune('a' + i))}
		p.Notify(reconcile.Event{Kind: reconcile.EventReplaced, Transaction: &tx})
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	msgs := w.written()
	if len(msgs) != 20 {
		t.Fatalf("wrote %d messages, want 20", len(msgs))
	}
	for i, m := range msgs {
		if want := string(rune('a' + i)); string(m.Key) != want {
			t.Errorf("message %d key = %q, want %q", i, m.Key, want)
		}
	}
	if !w.closed {
		t.Error("writer not closed")
	}

	// Closed publishers drop silently
	p.Notify(reconcile.Event{Kind: reconcile.EventCreated})
	if n := len(w.written()); n != 20 {
		t.Errorf("wrote %d messages after close, want 20", n)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestPublisher_DropsWhenBufferFull(t *testing.T) {
	w := &recordingWriter{gate: make(chan struct{})}
	p := NewPublisherWithWriter(w, Config{Buffer: 2, Logger: quiet})

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			p.Notify(reconcile.Event{Kind: reconcile.EventMerged})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Notify blocked on a full buffer")
	}

	close(w.gate)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if n := len(w.written()); n == 0 || n >= 10 {
		t.Errorf("wrote %d messages, want some dropped and some written", n)
	}
}

func TestPublisher_WriteErrorIsLogged(t *testing.T) {
	w := &recordingWriter{err: errors.New("broker unavailable")}
	p := NewPublisherWithWriter(w, Config{Logger: quiet})

	p.Notify(reconcile.Event{Kind: reconcile.EventSyncFailed, Err: "timeout"})
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if n := len(w.written()); n != 0 {
		t.Errorf("wrote %d messages, want 0", n)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.batches != 1 {
		t.Errorf("attempted %d writes, want 1", w.batches)
	}
}

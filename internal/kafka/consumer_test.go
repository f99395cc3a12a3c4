package kafka

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/dailyspot/internal/config"
	"github.com/dailyspot/internal/domain"
)

type recordingHandler struct {
	mu      sync.Mutex
	batches []domain.BatchGuessSubmission
	err     error
	calls   int
}

func (h *recordingHandler) SubmitGuessBatch(ctx context.Context, batch domain.BatchGuessSubmission) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	if h.err != nil {
		return h.err
	}
	h.batches = append(h.batches, batch)
	return nil
}

type fakeSession struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member-1" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(topic string, partition int32, offset int64, _ string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(topic string, partition int32, offset int64, _ string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, msg.Offset)
	s.mu.Unlock()
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "guess-submissions" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestDecodeSubmission(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr error
	}{
		{"valid", `{"player_id":"p1","user_id":"u1","guess":{"latitude":40.1,"longitude":-74}}`, nil},
		{"anonymous", `{"player_id":"p1","guess":{"latitude":0,"longitude":0}}`, nil},
		{"missing player", `{"guess":{"latitude":1,"longitude":1}}`, domain.ErrInvalidRequest},
		{"out of range", `{"player_id":"p1","guess":{"latitude":95,"longitude":1}}`, domain.ErrInvalidCoordinate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeSubmission([]byte(tt.value))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	if _, err := DecodeSubmission([]byte("not json")); err == nil {
		t.Error("expected error for malformed message")
	}
}

func newTestConsumer(handler GuessHandler, batchSize int) *Consumer {
	return &Consumer{
		config:  &config.KafkaConfig{BatchSize: batchSize, BatchTimeout: time.Hour},
		handler: handler,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func feed(values ...string) *fakeClaim {
	messages := make(chan *sarama.ConsumerMessage, len(values))
	for i, v := range values {
		messages <- &sarama.ConsumerMessage{Offset: int64(i), Value: []byte(v)}
	}
	close(messages)
	return &fakeClaim{messages: messages}
}

func TestConsumeClaimBatches(t *testing.T) {
	handler := &recordingHandler{}
	consumer := newTestConsumer(handler, 2)
	claim := feed(
		`{"player_id":"p1","guess":{"latitude":40.1,"longitude":-74}}`,
		`garbage`,
		`{"player_id":"p2","guess":{"latitude":1,"longitude":2}}`,
		`{"player_id":"p3","guess":{"latitude":3,"longitude":4}}`,
	)

	session := &fakeSession{ctx: context.Background()}
	h := &consumerGroupHandler{consumer: consumer, ready: make(chan bool)}
	if err := h.ConsumeClaim(session, claim); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}

	if len(handler.batches) != 2 {
		t.Fatalf("expected a full batch and a final partial batch, got %d", len(handler.batches))
	}
	if len(handler.batches[0].Guesses) != 2 || handler.batches[0].Guesses[1].PlayerID != "p2" {
		t.Errorf("unexpected first batch %+v", handler.batches[0])
	}
	if len(handler.batches[1].Guesses) != 1 || handler.batches[1].Guesses[0].PlayerID != "p3" {
		t.Errorf("unexpected final batch %+v", handler.batches[1])
	}
	// each offset is marked once the batch ending there is handled
	if len(session.marked) != 2 || session.marked[0] != 2 || session.marked[1] != 3 {
		t.Errorf("expected offsets 2 and 3 marked, got %v", session.marked)
	}
}

func TestConsumeClaimLeavesFailedBatchUnmarked(t *testing.T) {
	handler := &recordingHandler{err: errors.New("redis down")}
	consumer := newTestConsumer(handler, 2)
	claim := feed(
		`garbage`,
		`{"player_id":"p1","guess":{"latitude":40.1,"longitude":-74}}`,
		`{"player_id":"p2","guess":{"latitude":1,"longitude":2}}`,
	)

	session := &fakeSession{ctx: context.Background()}
	h := &consumerGroupHandler{consumer: consumer, ready: make(chan bool)}
	if err := h.ConsumeClaim(session, claim); err == nil {
		t.Fatal("expected the failed batch to end the claim")
	}

	if handler.calls != batchAttempts {
		t.Errorf("expected %d attempts, got %d", batchAttempts, handler.calls)
	}
	// only the undecodable message ahead of the batch is marked
	if len(session.marked) != 1 || session.marked[0] != 0 {
		t.Errorf("expected only offset 0 marked, got %v", session.marked)
	}
}

package events_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/gorilla/websocket"

	"github.com/atmx/energy-ledger/internal/events"
	"github.com/atmx/energy-ledger/internal/model"
)

type stubPublisher struct {
	got []events.Event
	err error
}

func (p *stubPublisher) Publish(_ context.Context, ev events.Event) error {
	p.got = append(p.got, ev)
	return p.err
}

func TestNew_StampsUniqueIDs(t *testing.T) {
	a := events.New(events.TypeConversion, "u", 5)
	b := events.New(events.TypeConversion, "u", 5)
	if a.EventID == "" || a.EventID == b.EventID {
		t.Errorf("event ids %q and %q should be unique", a.EventID, b.EventID)
	}
	if a.Type != events.TypeConversion || a.User != "u" || a.Clock != 5 {
		t.Errorf("event = %+v", a)
	}
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &stubPublisher{}
	failing := &stubPublisher{err: errors.New("down")}
	m := events.Multi{ok, nil, failing}

	err := m.Publish(context.Background(), events.New(events.TypeTradeCreated, "s", 1))
	if err == nil || !strings.Contains(err.Error(), "down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.got) != 1 || len(failing.got) != 1 {
		t.Errorf("every publisher should receive the event: %d, %d", len(ok.got), len(failing.got))
	}
}

func TestKafkaPublisher_KeysByTrade(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	defer producer.Close()

	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "trade-7" {
			t.Errorf("key = %q, want trade-7", key)
		}
		if msg.Topic != "ledger.events" {
			t.Errorf("topic = %q", msg.Topic)
		}
		val, _ := msg.Value.Encode()
		var ev events.Event
		if err := json.Unmarshal(val, &ev); err != nil {
			t.Errorf("payload is not an event: %v", err)
		}
		if ev.Type != events.TypeTradeCompleted || ev.Asset != model.AssetWind {
			t.Errorf("event = %+v", ev)
		}
		return nil
	})
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != "alice" {
			t.Errorf("key = %q, want alice", key)
		}
		return nil
	})

	pub := events.NewKafkaPublisherWithProducer(producer, "ledger.events", nil)

	ev := events.New(events.TypeTradeCompleted, "bob", 10)
	ev.TradeID, ev.Asset, ev.Quantity = 7, model.AssetWind, 3
	if err := pub.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := pub.Publish(context.Background(), events.New(events.TypeConversion, "alice", 11)); err != nil {
		t.Fatalf("publish: %v", err)
	}
}

func TestKafkaPublisher_SendFailure(t *testing.T) {
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	defer producer.Close()
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := events.NewKafkaPublisherWithProducer(producer, "ledger.events", nil)
	err := pub.Publish(context.Background(), events.New(events.TypeConversion, "u", 1))
	if !errors.Is(err, sarama.ErrOutOfBrokers) {
		t.Fatalf("expected ErrOutOfBrokers, got %v", err)
	}
}

func TestKafkaPublisher_CancelledContext(t *testing.T) {
	producer := mocks.NewSyncProducer(t, mocks.NewTestConfig())
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub := events.NewKafkaPublisherWithProducer(producer, "t", nil)
	if err := pub.Publish(ctx, events.New(events.TypeConversion, "u", 1)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	if _, err := events.NewKafkaPublisher(nil, "t", nil); err == nil {
		t.Error("expected error without brokers")
	}
	if _, err := events.NewKafkaPublisher([]string{"localhost:9092"}, "", nil); err == nil {
		t.Error("expected error without topic")
	}
}

func TestWSHub_BroadcastsEvents(t *testing.T) {
	hub := events.NewWSHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ev := events.New(events.TypeTradeCreated, "seller", 3)
	ev.TradeID = 1
	// Registration is asynchronous; publish until the client sees a message.
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	received := make(chan events.Event, 1)
	go func() {
		var got events.Event
		if err := conn.ReadJSON(&got); err == nil {
			received <- got
		}
	}()

	deadline := time.After(2 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case got := <-received:
			if got.Type != events.TypeTradeCreated || got.TradeID != 1 {
				t.Errorf("got %+v", got)
			}
			return
		case <-tick.C:
			hub.Publish(context.Background(), ev)
		case <-deadline:
			t.Fatal("no event received over websocket")
		}
	}
}

//go:build integration

package mqtt

import (
	"sync"
	"testing"
	"time"
)

// Integration tests need a broker at 127.0.0.1:1883.
//
//	go test -tags=integration -v ./internal/infrastructure/mqtt/...

func TestIntegration_ConnectAndClose(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "pvbridge-int-connect"

	client, err := Connect(cfg, Topics{Prefix: "pvbridge-test"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect")
	}
	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close")
	}
}

func TestIntegration_CommandRoundtrip(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "pvbridge-int-roundtrip"
	topics := Topics{Prefix: "pvbridge-test"}

	client, err := Connect(cfg, topics)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	var mu sync.Mutex
	var gotTopic string
	received := make(chan struct{}, 1)

	err = client.Subscribe(topics.AllCommands(), 1, func(topic string, _ []byte) error {
		mu.Lock()
		gotTopic = topic
		mu.Unlock()
		select {
		case received <- struct{}{}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(topics.AllCommands()) {
		t.Error("subscription should be tracked")
	}

	if err := client.Publish(topics.Command("shade", 12, "open"), []byte("{}"), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("command not received")
	}

	mu.Lock()
	defer mu.Unlock()
	if kind, id, op, ok := topics.ParseCommand(gotTopic); !ok || kind != "shade" || id != 12 || op != "open" {
		t.Errorf("received %q", gotTopic)
	}
}

func TestIntegration_Unsubscribe(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.ClientID = "pvbridge-int-unsub"

	client, err := Connect(cfg, Topics{Prefix: "pvbridge-test"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	topic := "pvbridge-test/int/unsub"
	if err := client.Subscribe(topic, 1, func(string, []byte) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := client.Unsubscribe(topic); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after unsubscribe", client.SubscriptionCount())
	}
}

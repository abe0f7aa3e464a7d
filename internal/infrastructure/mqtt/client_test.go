package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/powerview-bridge/internal/infrastructure/config"
)

// testConfig returns a configuration pointing at a local broker.
func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "pvbridge-test",
		},
		QoS: 1,
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// =============================================================================
// Topics
// =============================================================================

func TestTopicBuilders(t *testing.T) {
	topics := Topics{Prefix: "home/pv/"}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"add node", topics.HostAddNode(), "home/pv/host/addnode"},
		{"remove node", topics.HostRemoveNode(), "home/pv/host/removenode"},
		{"rename", topics.HostRename(), "home/pv/host/rename"},
		{"nodes", topics.HostNodes(), "home/pv/host/nodes"},
		{"ack", topics.HostAck("shade12"), "home/pv/host/ack/shade12"},
		{"all acks", topics.AllHostAcks(), "home/pv/host/ack/+"},
		{"config", topics.HostConfig("typed_data"), "home/pv/host/config/typed_data"},
		{"all config", topics.AllHostConfig(), "home/pv/host/config/+"},
		{"command", topics.Command("shade", 12, "open"), "home/pv/command/shade/12/open"},
		{"all commands", topics.AllCommands(), "home/pv/command/+/+/+"},
		{"state", topics.State("scene", 4), "home/pv/state/scene/4"},
		{"scene event", topics.SceneEvent(4), "home/pv/event/scene/4"},
		{"status", topics.BridgeStatus(), "home/pv/bridge/status"},
		{"heartbeat", topics.Heartbeat(), "home/pv/event/bridge/heartbeat"},
		{"default prefix", Topics{}.State("shade", 1), "pvbridge/state/shade/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestParseCommand(t *testing.T) {
	topics := Topics{}

	kind, id, op, ok := topics.ParseCommand(topics.Command("scene", 4521, "activate"))
	if !ok || kind != "scene" || id != 4521 || op != "activate" {
		t.Errorf("ParseCommand = %q %d %q %v", kind, id, op, ok)
	}

	for _, bad := range []string{
		"pvbridge/state/shade/1",
		"other/command/shade/1/open",
		"pvbridge/command/shade/x/open",
		"pvbridge/command/shade/-1/open",
		"pvbridge/command/shade/1",
		"pvbridge/command/shade/1/open/extra",
		"pvbridge/command//1/open",
	} {
		if _, _, _, ok := topics.ParseCommand(bad); ok {
			t.Errorf("ParseCommand(%q) should fail", bad)
		}
	}
}

func TestLastSegment(t *testing.T) {
	if got := LastSegment("pvbridge/host/ack/scene7"); got != "scene7" {
		t.Errorf("LastSegment() = %q", got)
	}
	if got := LastSegment("bare"); got != "bare" {
		t.Errorf("LastSegment() = %q", got)
	}
}

// =============================================================================
// Options
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "bridge"
	cfg.Auth.Password = "secret"

	opts := buildClientOptions(cfg)
	if len(opts.Servers) != 1 || opts.Servers[0].String() != "tcp://127.0.0.1:1883" {
		t.Errorf("Servers = %v", opts.Servers)
	}
	if opts.ClientID != "pvbridge-test" || opts.Username != "bridge" || opts.Password != "secret" {
		t.Errorf("identity = %q %q %q", opts.ClientID, opts.Username, opts.Password)
	}
	if !opts.CleanSession || !opts.AutoReconnect {
		t.Error("expected clean session with auto-reconnect")
	}
	if opts.TLSConfig != nil && len(opts.TLSConfig.Certificates) > 0 {
		t.Error("TLS should not be configured without broker.tls")
	}

	cfg.Broker.TLS = true
	opts = buildClientOptions(cfg)
	if opts.Servers[0].Scheme != "ssl" {
		t.Errorf("scheme = %q, want ssl", opts.Servers[0].Scheme)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS 1.2 minimum should be set")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig())
	configureLWT(opts, Topics{}, "pvbridge-test")

	if !opts.WillEnabled || !opts.WillRetained || opts.WillTopic != "pvbridge/bridge/status" {
		t.Errorf("will = %v %v %q", opts.WillEnabled, opts.WillRetained, opts.WillTopic)
	}

	var msg statusMessage
	if err := json.Unmarshal(opts.WillPayload, &msg); err != nil {
		t.Fatalf("will payload: %v", err)
	}
	if msg.Status != StatusOffline || msg.Reason != "unexpected_disconnect" || msg.ClientID != "pvbridge-test" {
		t.Errorf("will = %+v", msg)
	}
}

// =============================================================================
// Validation (no broker needed)
// =============================================================================

func TestPublishValidation(t *testing.T) {
	c := &Client{cfg: testConfig()}

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		want    error
	}{
		{"empty topic", "", nil, 1, ErrInvalidTopic},
		{"bad qos", "a/b", nil, 3, ErrInvalidQoS},
		{"oversized", "a/b", make([]byte, maxPayloadSize+1), 1, ErrPublishFailed},
		{"disconnected", "a/b", []byte("x"), 1, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := c.Publish(tt.topic, tt.payload, tt.qos, false); !errors.Is(err, tt.want) {
				t.Errorf("Publish() error = %v, want %v", err, tt.want)
			}
		})
	}

	if err := c.PublishJSON("a/b", make(chan int), false); !errors.Is(err, ErrPublishFailed) {
		t.Errorf("PublishJSON() error = %v, want ErrPublishFailed", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := &Client{cfg: testConfig()}
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("empty topic error = %v", err)
	}
	if err := c.Subscribe("a", 5, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("bad qos error = %v", err)
	}
	if err := c.Subscribe("a", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("nil handler error = %v", err)
	}
	if err := c.Subscribe("a", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("disconnected error = %v", err)
	}
	if err := c.Unsubscribe("a"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v", err)
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("a") {
		t.Error("failed subscriptions must not be tracked")
	}
}

func TestCloseWithoutConnection(t *testing.T) {
	c := &Client{}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.IsConnected() {
		t.Error("IsConnected() = true on an unconnected client")
	}
}

// =============================================================================
// Handler dispatch
// =============================================================================

type mockLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *mockLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	l.errors = append(l.errors, msg)
	l.mu.Unlock()
}

func (l *mockLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func TestDispatch_RecoversAndLogs(t *testing.T) {
	c := &Client{}
	logger := &mockLogger{}
	c.SetLogger(logger)

	c.dispatch(func(string, []byte) error { panic("boom") }, "t", nil)
	c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "t", nil)

	var got []byte
	c.dispatch(func(_ string, p []byte) error { got = p; return nil }, "t", []byte("ok"))

	if len(logger.errors) != 1 || len(logger.warns) != 1 {
		t.Errorf("errors = %v, warns = %v", logger.errors, logger.warns)
	}
	if string(got) != "ok" {
		t.Errorf("payload = %q", got)
	}
}

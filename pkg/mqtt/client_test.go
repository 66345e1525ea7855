package mqtt

import "testing"

func TestTopicsMatch(t *testing.T) {
	tests := []struct {
		filter, topic string
		want          bool
	}{
		{"multiprog/v1/st-1/command/frame", "multiprog/v1/st-1/command/frame", true},
		{"multiprog/v1/st-1/command/+", "multiprog/v1/st-1/command/start", true},
		{"multiprog/v1/st-1/command/+", "multiprog/v1/st-1/command/start/extra", false},
		{"multiprog/v1/+/command/#", "multiprog/v1/st-2/command/frame", true},
		{"multiprog/v1/#", "multiprog/v1", true},
		{"multiprog/v1/st-1/events/+", "multiprog/v1/st-1/command/abort", false},
		{"a/b", "a/c", false},
	}

	for _, tt := range tests {
		t.Run(tt.filter+"|"+tt.topic, func(t *testing.T) {
			if got := topicsMatch(tt.filter, tt.topic); got != tt.want {
				t.Errorf("topicsMatch(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.want)
			}
		})
	}
}

func TestTopicFilterStripsSharedPrefix(t *testing.T) {
	if got := topicFilter("$share/stations/multiprog/v1/+/command/start"); got != "multiprog/v1/+/command/start" {
		t.Errorf("unexpected filter %q", got)
	}
	if got := topicFilter("multiprog/v1/st-1/command/start"); got != "multiprog/v1/st-1/command/start" {
		t.Errorf("unexpected filter %q", got)
	}
}

func TestClientConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ClientConfig
		wantErr bool
	}{
		{"ok", ClientConfig{BrokerURL: "tcp://localhost:1883"}, false},
		{"missing url", ClientConfig{}, true},
		{"no scheme", ClientConfig{BrokerURL: "localhost"}, true},
		{"bad will qos", ClientConfig{BrokerURL: "tcp://localhost:1883", WillQoS: 3}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewClientAppliesDefaults(t *testing.T) {
	cfg := &ClientConfig{BrokerURL: "tcp://localhost:1883"}
	c, err := NewClient(cfg)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if cfg.KeepAlive != 60 || cfg.ConnectTimeout == 0 {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if c.IsConnected() {
		t.Error("client must not report connected before Start")
	}
}

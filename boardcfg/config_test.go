package boardcfg

import (
	"testing"
	"time"

	"coupler-fw/bus"
)

func TestPublish_RetainedPerDeviceAndBus(t *testing.T) {
	old := EmbeddedBoardLookup
	EmbeddedBoardLookup = func(board string) ([]byte, bool) {
		if board != "test-board" {
			return nil, false
		}
		return []byte(`{
			"buses": [{"id": 0, "name": "main"}],
			"devices": [{"name": "eeprom", "bus": 0, "dev_addr": 160}]
		}`), true
	}
	t.Cleanup(func() { EmbeddedBoardLookup = old })

	b := bus.NewBus(8)
	conn := b.NewConnection("test")

	if err := Publish(conn, "test-board"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	sub := conn.Subscribe(bus.T(topicPrefix, "#"))

	got := map[string]any{}
	deadline := time.Now().Add(200 * time.Millisecond)
	for len(got) < 2 && time.Now().Before(deadline) {
		select {
		case m := <-sub.Channel():
			key, _ := m.Topic[1].(string)
			got[key] = m.Payload
		case <-time.After(10 * time.Millisecond):
		}
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 retained messages (bus, device), got %d", len(got))
	}
	dev, ok := got["device"].(DeviceDecl)
	if !ok || dev.Name != "eeprom" {
		t.Fatalf("device payload = %#v", got["device"])
	}
	busDecl, ok := got["bus"].(BusDecl)
	if !ok || busDecl.Name != "main" {
		t.Fatalf("bus payload = %#v", got["bus"])
	}
}

func TestLoad_UnknownBoard(t *testing.T) {
	if _, err := Load("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown board")
	}
}

func TestLoad_DefaultBoard(t *testing.T) {
	cfg, err := Load("coupler-v1")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(cfg.Buses) != 2 || len(cfg.Devices) != 4 {
		t.Fatalf("unexpected default board shape: %+v", cfg)
	}
}

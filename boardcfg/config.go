// Package boardcfg loads the board-level declaration of which logical
// I2C devices exist and which bus they sit on, and publishes it as
// retained messages on the debug/control bus. Board configuration is
// read once at boot, before the kernel starts.
package boardcfg

import (
	"errors"

	"github.com/andreyvit/tinyjson"

	"coupler-fw/bus"
)

const topicPrefix = "boardcfg"

// BusDecl names one physical I2C bus the board exposes.
type BusDecl struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// DeviceDecl names one logical device the board wires onto a bus. Name is
// the board file's own label (e.g. "eeprom"); it is published as-is and is
// not mapped onto i2c.DeviceID or fed into the compiled-in registry.
type DeviceDecl struct {
	Name    string `json:"name"`
	Bus     int    `json:"bus"`
	DevAddr byte   `json:"dev_addr"`
}

// Board is the decoded board declaration.
type Board struct {
	Buses   []BusDecl    `json:"buses"`
	Devices []DeviceDecl `json:"devices"`
}

// EmbeddedBoardLookup resolves a board name to its raw JSON declaration.
// Overridable for tests.
var EmbeddedBoardLookup = func(board string) ([]byte, bool) {
	b, ok := embeddedBoards[board]
	return b, ok
}

// Load decodes the named board's declaration.
func Load(board string) (*Board, error) {
	raw, ok := EmbeddedBoardLookup(board)
	if !ok || len(raw) == 0 {
		return nil, errors.New("boardcfg: no embedded declaration for board: " + board)
	}

	r := tinyjson.Raw(raw)
	val := r.Value()
	r.EnsureEOF()

	m, ok := val.(map[string]any)
	if !ok {
		return nil, errors.New("boardcfg: board declaration is not a JSON object")
	}

	out := &Board{}
	if buses, ok := m["buses"].([]any); ok {
		for _, b := range buses {
			bm, ok := b.(map[string]any)
			if !ok {
				continue
			}
			out.Buses = append(out.Buses, BusDecl{
				ID:   int(asFloat(bm["id"])),
				Name: asString(bm["name"]),
			})
		}
	}
	if devices, ok := m["devices"].([]any); ok {
		for _, d := range devices {
			dm, ok := d.(map[string]any)
			if !ok {
				continue
			}
			out.Devices = append(out.Devices, DeviceDecl{
				Name:    asString(dm["name"]),
				Bus:     int(asFloat(dm["bus"])),
				DevAddr: byte(asFloat(dm["dev_addr"])),
			})
		}
	}
	return out, nil
}

// Publish decodes board and publishes its buses and devices as retained
// messages, one per logical device/bus, under "boardcfg/<kind>/<name>",
// matching services/config.ConfigService.publishConfig's per-key
// publication of a decoded JSON object.
func Publish(conn *bus.Connection, board string) error {
	cfg, err := Load(board)
	if err != nil {
		return err
	}
	for _, b := range cfg.Buses {
		conn.Publish(&bus.Message{
			Topic:    bus.T(topicPrefix, "bus", b.Name),
			Payload:  b,
			Retained: true,
		})
	}
	for _, d := range cfg.Devices {
		conn.Publish(&bus.Message{
			Topic:    bus.T(topicPrefix, "device", d.Name),
			Payload:  d,
			Retained: true,
		})
	}
	return nil
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

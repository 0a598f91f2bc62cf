package telemetry

import (
	"fmt"
	"strings"
)

// Topics builds MQTT topic names below a prefix.
type Topics struct {
	Prefix string
}

// Value is the topic a port mode's readings are published on.
func (t Topics) Value(hub string, port byte, mode string) string {
	return t.join(hub, "port", portSegment(port), topicSegment(mode))
}

// Device is the retained topic describing what is attached to a port.
func (t Topics) Device(hub string, port byte) string {
	return t.join(hub, "port", portSegment(port), "device")
}

// Battery is the retained topic for the hub's battery level.
func (t Topics) Battery(hub string) string {
	return t.join(hub, "battery")
}

// Status is the retained topic carrying the bridge's online state.
func (t Topics) Status(hub string) string {
	return t.join(hub, "status")
}

func (t Topics) join(hub string, parts ...string) string {
	segs := make([]string, 0, len(parts)+2)
	if t.Prefix != "" {
		segs = append(segs, strings.Trim(t.Prefix, "/"))
	}
	segs = append(segs, topicSegment(hub))
	segs = append(segs, parts...)
	return strings.Join(segs, "/")
}

func portSegment(port byte) string {
	return fmt.Sprintf("%02x", port)
}

// topicSegment lower-cases s and replaces characters that are not safe
// inside one MQTT topic level.
func topicSegment(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', ' ':
			return '_'
		}
		return r
	}, s)
}

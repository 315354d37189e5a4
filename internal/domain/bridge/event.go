package bridge

import "time"

// Event is one push payload delivered on a topic. The registry is a strict
// pass-through: Seq carries the host-assigned delivery order within the
// topic, and the payload bytes reach the handler untouched.
type Event struct {
	Topic   string    `json:"topic"`
	Payload []byte    `json:"payload"`
	Seq     uint64    `json:"seq"`
	At      time.Time `json:"at"`
}

// Topic composes an event channel key from a family name and an opaque
// session identifier, e.g. Topic("conversation_events", convID). The session
// identifier is a pure correlation token; this layer never parses it.
func Topic(family, sessionID string) string {
	return family + "_" + sessionID
}

package ws

import "time"

// ConnInfo identifies a live connection in logs and lifecycle events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) lifecyclePayload(event, reason string) map[string]interface{} {
	return map[string]interface{}{
		"ws": map[string]interface{}{
			"event":       event,
			"conn_id":     i.ConnID,
			"duration_ms": time.Since(i.ConnectedAt).Milliseconds(),
			"reason":      reason,
		},
		"identity": map[string]interface{}{
			"user_id":   i.UserID,
			"device_id": i.DeviceID,
			"ip":        i.IP,
		},
	}
}

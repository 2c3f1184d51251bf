// Package source defines the contracts between the coordination core and
// vendor-specific adapters. Adapters convert raw vendor payloads into the
// typed values here exactly once, at the edge; nothing past this boundary
// handles loosely-typed vendor objects.
package source

import "time"

// Device represents one controllable unit known to the integration.
// Devices are discovered once at setup and are immutable for the session.
type Device struct {
	ID      string `json:"device_id"`
	Name    string `json:"device_name"`
	GroupID string `json:"group_id,omitempty"`
}

// ActivityType categorizes an activity record. Types are small in number
// and bounded in practice.
type ActivityType string

const (
	ActivityLockOperation  ActivityType = "lock_operation"
	ActivityDoorOperation  ActivityType = "door_operation"
	ActivityDoorbellMotion ActivityType = "doorbell_motion"
	ActivityDoorbellDing   ActivityType = "doorbell_ding"
	ActivityBridgeStatus   ActivityType = "bridge_status"
)

// Origin records how an activity reached the core.
type Origin string

const (
	OriginPoll      Origin = "poll"
	OriginPush      Origin = "push"
	OriginOperation Origin = "operation"
)

// Activity is an immutable timestamped fact about a device. StartTime is
// the ordering key: per (device, type) the core only ever retains the
// record with the greatest StartTime.
type Activity struct {
	DeviceID  string         `json:"device_id"`
	Type      ActivityType   `json:"activity_type"`
	StartTime time.Time      `json:"start_time"`
	EndTime   time.Time      `json:"end_time,omitempty"`
	Origin    Origin         `json:"origin,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// DetailSnapshot is the last fully-fetched state of a device. Snapshots
// are replaced wholesale on each successful fetch; a failed fetch leaves
// the previous snapshot in place.
type DetailSnapshot struct {
	DeviceID     string         `json:"device_id"`
	Online       bool           `json:"online"`
	Status       string         `json:"status"`
	BatteryLevel int            `json:"battery_level"`
	Firmware     string         `json:"firmware,omitempty"`
	Attributes   map[string]any `json:"attributes,omitempty"`
	FetchedAt    time.Time      `json:"fetched_at"`
}

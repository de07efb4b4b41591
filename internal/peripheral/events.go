package peripheral

import "log/slog"

// EventType identifies an event raised to the owning runtime.
type EventType int

const (
	EventPeripheralConnected EventType = iota
	EventPeripheralDisconnected
	EventPeripheralConnectionLostError
	EventPeripheralRequestError
)

func (t EventType) String() string {
	switch t {
	case EventPeripheralConnected:
		return "PERIPHERAL_CONNECTED"
	case EventPeripheralDisconnected:
		return "PERIPHERAL_DISCONNECTED"
	case EventPeripheralConnectionLostError:
		return "PERIPHERAL_CONNECTION_LOST_ERROR"
	case EventPeripheralRequestError:
		return "PERIPHERAL_REQUEST_ERROR"
	default:
		return "PERIPHERAL_UNKNOWN"
	}
}

// Event is the payload of a runtime event. Message and Err are set for the
// error events only.
type Event struct {
	Type        EventType
	ExtensionID string
	DeviceID    string
	Message     string
	Err         error
}

// Runtime is the owner of extension sessions. It receives every event a
// Session raises.
type Runtime interface {
	// PeripheralAvailable is called when a device has been chosen.
	PeripheralAvailable(extensionID, deviceID string)
	// Emit delivers a lifecycle event.
	Emit(ev Event)
}

// LogRuntime is a Runtime that only logs what it receives.
type LogRuntime struct {
	Logger *slog.Logger
}

func (r LogRuntime) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r LogRuntime) PeripheralAvailable(extensionID, deviceID string) {
	r.logger().Info("[SESSION] peripheral available", "extension", extensionID, "device", deviceID)
}

func (r LogRuntime) Emit(ev Event) {
	attrs := []any{"event", ev.Type.String(), "extension", ev.ExtensionID}
	if ev.DeviceID != "" {
		attrs = append(attrs, "device", ev.DeviceID)
	}
	switch ev.Type {
	case EventPeripheralConnectionLostError, EventPeripheralRequestError:
		r.logger().Error("[SESSION] "+ev.Message, attrs...)
	default:
		r.logger().Info("[SESSION] event", attrs...)
	}
}

// Compile-time check that LogRuntime implements Runtime.
var _ Runtime = LogRuntime{}

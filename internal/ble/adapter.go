// Package ble provides the BLE transport: a GATT connection to one peripheral
// with characteristic read, write and notifications, plus a scanning chooser.
// The hardware sits behind the Adapter interface so the transport can be
// tested without a radio.
package ble

import (
	"context"
	"errors"
)

// ErrWriteWithResponseUnsupported is returned by Characteristic.WriteWithResponse
// when the platform or characteristic cannot confirm writes.
var ErrWriteWithResponseUnsupported = errors.New("ble: write with response not supported")

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data without waiting for a response.
	Write(data []byte) error
	// WriteWithResponse sends data and waits for the peripheral to confirm.
	WriteWithResponse(data []byte) error
	// Read returns the current value.
	Read() ([]byte, error)
	// Subscribe registers a callback for notifications on this characteristic.
	// A nil callback disables notifications.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name    string
	Address string
	RSSI    int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals until ctx is done. A non-empty
	// serviceUUID limits results to peripherals advertising that service.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}

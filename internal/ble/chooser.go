package ble

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chaz8081/periphlink/internal/peripheral"
)

// DefaultScanTimeout bounds a chooser scan when none is configured.
const DefaultScanTimeout = 5 * time.Second

// Chooser picks a BLE peripheral. With Address set it connects to that
// device directly; otherwise it scans and picks the strongest signal among
// the devices matching ServiceUUID and NamePrefix.
type Chooser struct {
	Adapter     Adapter
	Address     string
	ServiceUUID string
	NamePrefix  string
	ScanTimeout time.Duration
	Logger      *slog.Logger
}

// Choose implements peripheral.Chooser.
func (c *Chooser) Choose(ctx context.Context) (*peripheral.Device, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if c.Address != "" {
		return c.device(Device{Address: c.Address}, logger), nil
	}

	devices, err := ScanForDevices(ctx, c.Adapter, c.ServiceUUID, c.ScanTimeout)
	if err != nil {
		return nil, err
	}

	var best *Device
	for i := range devices {
		d := &devices[i]
		if c.NamePrefix != "" && !strings.HasPrefix(d.Name, c.NamePrefix) {
			continue
		}
		if best == nil || d.RSSI > best.RSSI {
			best = d
		}
	}
	if best == nil {
		return nil, peripheral.ErrNoDevice
	}
	logger.Debug("[BLE] device selected", "name", best.Name, "address", best.Address, "rssi", best.RSSI)
	return c.device(*best, logger), nil
}

func (c *Chooser) device(d Device, logger *slog.Logger) *peripheral.Device {
	name := d.Name
	if name == "" {
		name = d.Address
	}
	return &peripheral.Device{
		ID:        d.Address,
		Name:      name,
		Transport: NewTransport(c.Adapter, d.Address, logger),
	}
}

// ScanForDevices scans for peripherals advertising serviceUUID (any, when
// empty) for up to timeout.
func ScanForDevices(ctx context.Context, adapter Adapter, serviceUUID string, timeout time.Duration) ([]Device, error) {
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	devices, err := adapter.Scan(ctx, serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// BackoffDelay returns the delay before reconnect attempt n (0-based):
// 1s, 2s, 4s and so on, capped at maxSeconds. The cap is never below 1s.
func BackoffDelay(attempt int, maxSeconds int) time.Duration {
	maxSeconds = max(maxSeconds, 1)
	limit := time.Duration(maxSeconds) * time.Second
	if attempt >= 30 {
		return limit
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > limit {
		return limit
	}
	return delay
}

package serial

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.bug.st/serial/enumerator"

	"github.com/chaz8081/periphlink/internal/peripheral"
)

// Filter matches USB serial ports by vendor and product ID. Empty fields
// match anything. IDs are hex strings such as "2e8a".
type Filter struct {
	VendorID  string
	ProductID string
}

func (f Filter) matches(p *enumerator.PortDetails) bool {
	if f.VendorID != "" && !strings.EqualFold(f.VendorID, p.VID) {
		return false
	}
	if f.ProductID != "" && !strings.EqualFold(f.ProductID, p.PID) {
		return false
	}
	return true
}

// PortLister lists the serial ports present on the system.
type PortLister func() ([]*enumerator.PortDetails, error)

// Chooser picks a serial port, either a fixed path or the first port
// matching one of its filters, and returns it as a device with an unopened
// Transport.
type Chooser struct {
	// Path, when set, is used directly and the filters are ignored.
	Path    string
	Filters []Filter
	Options Options

	// List and Open default to the system enumerator and OpenPort.
	List   PortLister
	Open   Opener
	Logger *slog.Logger
}

// Choose implements peripheral.Chooser.
func (c *Chooser) Choose(ctx context.Context) (*peripheral.Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if c.Path != "" {
		return c.device(c.Path, c.Path, logger), nil
	}

	list := c.List
	if list == nil {
		list = enumerator.GetDetailedPortsList
	}
	ports, err := list()
	if err != nil {
		return nil, fmt.Errorf("serial: list ports: %w", err)
	}

	for _, p := range ports {
		if !c.accepts(p) {
			continue
		}
		name := p.Name
		if p.Product != "" {
			name = p.Product
		}
		logger.Debug("[SERIAL] port selected", "path", p.Name, "vid", p.VID, "pid", p.PID)
		return c.device(p.Name, name, logger), nil
	}
	return nil, peripheral.ErrNoDevice
}

func (c *Chooser) accepts(p *enumerator.PortDetails) bool {
	if len(c.Filters) == 0 {
		return true
	}
	if !p.IsUSB {
		return false
	}
	for _, f := range c.Filters {
		if f.matches(p) {
			return true
		}
	}
	return false
}

func (c *Chooser) device(path, name string, logger *slog.Logger) *peripheral.Device {
	opts := []TransportOption{WithLogger(logger)}
	if c.Open != nil {
		opts = append(opts, WithOpener(c.Open))
	}
	return &peripheral.Device{
		ID:        path,
		Name:      name,
		Transport: NewTransport(path, c.Options, opts...),
	}
}

// ListPorts returns the detailed list of serial ports on the system.
func ListPorts() ([]*enumerator.PortDetails, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("serial: list ports: %w", err)
	}
	return ports, nil
}

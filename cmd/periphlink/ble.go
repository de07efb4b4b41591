package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"time"

	"github.com/chaz8081/periphlink/internal/ble"
	"github.com/chaz8081/periphlink/internal/config"
	"github.com/chaz8081/periphlink/internal/peripheral"
)

// gattFlags are the flags shared by the ble-* commands.
type gattFlags struct {
	address *string
	service *string
	char    *string
}

func newGATTFlags(fs *flag.FlagSet, cfg *config.Config) gattFlags {
	return gattFlags{
		address: fs.String("address", cfg.BLE.Address, "device address (default: scan)"),
		service: fs.String("service", cfg.BLE.ServiceUUID, "GATT service UUID"),
		char:    fs.String("char", "", "GATT characteristic UUID"),
	}
}

func (g gattFlags) validate() error {
	if *g.service == "" || *g.char == "" {
		return errors.New("-service and -char are required")
	}
	return nil
}

func bleChooser(cfg *config.Config, adapter ble.Adapter, g gattFlags) *ble.Chooser {
	return &ble.Chooser{
		Adapter:     adapter,
		Address:     *g.address,
		ServiceUUID: *g.service,
		NamePrefix:  cfg.BLE.NamePrefix,
		ScanTimeout: cfg.BLE.ScanTimeout,
		Logger:      slog.Default(),
	}
}

func connectBLE(ctx context.Context, cfg *config.Config, rt *cliRuntime, chooser peripheral.Chooser) (*peripheral.Session, *ble.Transport, error) {
	host := peripheral.NewHost(rt, slog.Default())
	s, err := host.Connect(ctx, cfg.ExtensionID, chooser, handlers(slog.Default()))
	if err != nil {
		return nil, nil, err
	}
	tr, ok := s.Transport().(*ble.Transport)
	if !ok {
		s.Disconnect()
		return nil, nil, fmt.Errorf("unexpected transport %T", s.Transport())
	}
	return s, tr, nil
}

func listBLE(ctx context.Context, cfg *config.Config) error {
	devices, err := ble.ScanForDevices(ctx, ble.NewTinyGoAdapter(), cfg.BLE.ServiceUUID, cfg.BLE.ScanTimeout)
	if err != nil {
		return err
	}
	fmt.Println("BLE devices:")
	for _, d := range devices {
		fmt.Printf("  %-40s %4d dBm  %s\n", d.Address, d.RSSI, d.Name)
	}
	return nil
}

func printValue(value []byte) {
	fmt.Printf("%s  %q\n", hex.EncodeToString(value), value)
}

func runBLERead(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("ble-read", flag.ExitOnError)
	g := newGATTFlags(fs, cfg)
	subscribe := fs.Bool("subscribe", false, "keep printing notifications after the read")
	_ = fs.Parse(args)
	if err := g.validate(); err != nil {
		return err
	}

	rt := newCLIRuntime(slog.Default())
	s, tr, err := connectBLE(ctx, cfg, rt, bleChooser(cfg, ble.NewTinyGoAdapter(), g))
	if err != nil {
		return err
	}
	defer s.Disconnect()

	value, err := tr.Read(*g.service, *g.char, *subscribe, printValue)
	if err != nil {
		return err
	}
	printValue(value)

	if !*subscribe {
		return nil
	}
	select {
	case <-ctx.Done():
		return nil
	case <-rt.Lost():
		return errors.New("connection lost")
	}
}

func runBLEWrite(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("ble-write", flag.ExitOnError)
	g := newGATTFlags(fs, cfg)
	encName := fs.String("encoding", "text", "message encoding: text, hex, base64 or binary")
	withResponse := fs.Bool("with-response", false, "wait for the device to confirm the write")
	_ = fs.Parse(args)
	if err := g.validate(); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected exactly one message argument")
	}
	enc, err := peripheral.ParseEncoding(*encName)
	if err != nil {
		return err
	}

	s, tr, err := connectBLE(ctx, cfg, newCLIRuntime(slog.Default()), bleChooser(cfg, ble.NewTinyGoAdapter(), g))
	if err != nil {
		return err
	}
	defer s.Disconnect()

	return tr.Write(*g.service, *g.char, []byte(fs.Arg(0)), enc, *withResponse)
}

func runBLENotify(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("ble-notify", flag.ExitOnError)
	g := newGATTFlags(fs, cfg)
	reconnect := fs.Bool("reconnect", false, "reconnect with backoff when the link drops")
	_ = fs.Parse(args)
	if err := g.validate(); err != nil {
		return err
	}

	adapter := ble.NewTinyGoAdapter()
	chooser := bleChooser(cfg, adapter, g)
	rt := newCLIRuntime(slog.Default())

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := ble.BackoffDelay(attempt-1, cfg.BLE.ReconnectMax)
			slog.Info("[BLE] reconnect backoff", "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}
		}

		rt.rearm()
		s, tr, err := connectBLE(ctx, cfg, rt, chooser)
		if err != nil {
			if !*reconnect || ctx.Err() != nil {
				return err
			}
			slog.Warn("[BLE] reconnect failed", "error", err, "attempt", attempt+1)
			continue
		}
		// Pin the address so reconnects go back to the same device.
		chooser.Address = tr.Address()

		if err := tr.StartNotifications(*g.service, *g.char, printValue); err != nil {
			s.Disconnect()
			return err
		}

		select {
		case <-ctx.Done():
			s.Disconnect()
			return nil
		case <-rt.Lost():
			if !*reconnect {
				return errors.New("connection lost")
			}
			attempt = 0
		}
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/chaz8081/periphlink/internal/config"
	"github.com/chaz8081/periphlink/internal/peripheral"
	"github.com/chaz8081/periphlink/internal/serial"
	"github.com/chaz8081/periphlink/internal/ymodem"
)

func serialOptions(cfg *config.Config) serial.Options {
	return serial.Options{
		BaudRate:  cfg.Serial.BaudRate,
		DataBits:  cfg.Serial.DataBits,
		Parity:    serial.Parity(cfg.Serial.Parity),
		StopBits:  cfg.Serial.StopBits,
		ChunkSize: cfg.Serial.ChunkSize,
	}
}

func serialChooser(cfg *config.Config, port string) *serial.Chooser {
	if port == "" {
		port = cfg.Serial.Port
	}
	c := &serial.Chooser{Path: port, Options: serialOptions(cfg)}
	for _, f := range cfg.Serial.Filters {
		c.Filters = append(c.Filters, serial.Filter{VendorID: f.VendorID, ProductID: f.ProductID})
	}
	return c
}

// connectSerial runs the request/connect sequence and returns the session
// with its serial transport.
func connectSerial(ctx context.Context, cfg *config.Config, rt *cliRuntime, port string) (*peripheral.Session, *serial.Transport, error) {
	host := peripheral.NewHost(rt, slog.Default())
	s, err := host.Connect(ctx, cfg.ExtensionID, serialChooser(cfg, port), handlers(slog.Default()))
	if err != nil {
		return nil, nil, err
	}
	tr, ok := s.Transport().(*serial.Transport)
	if !ok {
		s.Disconnect()
		return nil, nil, fmt.Errorf("unexpected transport %T", s.Transport())
	}
	return s, tr, nil
}

func runList(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	withBLE := fs.Bool("ble", false, "also scan for BLE devices")
	_ = fs.Parse(args)

	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	fmt.Println("Serial ports:")
	for _, p := range ports {
		if p.IsUSB {
			fmt.Printf("  %-20s %s:%s  %s\n", p.Name, p.VID, p.PID, p.Product)
		} else {
			fmt.Printf("  %s\n", p.Name)
		}
	}

	if !*withBLE {
		return nil
	}
	return listBLE(ctx, cfg)
}

func runSerialWrite(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serial-write", flag.ExitOnError)
	port := fs.String("port", "", "serial port path (default: config serial.port or filters)")
	encName := fs.String("encoding", "text", "message encoding: text, hex, base64 or binary")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("expected exactly one message argument")
	}
	enc, err := peripheral.ParseEncoding(*encName)
	if err != nil {
		return err
	}

	s, tr, err := connectSerial(ctx, cfg, newCLIRuntime(slog.Default()), *port)
	if err != nil {
		return err
	}
	defer s.Disconnect()

	return tr.Write(ctx, []byte(fs.Arg(0)), enc)
}

func runSerialMonitor(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("serial-monitor", flag.ExitOnError)
	port := fs.String("port", "", "serial port path (default: config serial.port or filters)")
	_ = fs.Parse(args)

	rt := newCLIRuntime(slog.Default())
	s, tr, err := connectSerial(ctx, cfg, rt, *port)
	if err != nil {
		return err
	}
	defer s.Disconnect()

	unsubscribe := tr.Subscribe(func(data []byte) {
		_, _ = os.Stdout.Write(data)
	})
	defer unsubscribe()

	select {
	case <-ctx.Done():
		return nil
	case <-rt.Lost():
		return errors.New("connection lost")
	}
}

func runTransfer(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("transfer", flag.ExitOnError)
	port := fs.String("port", "", "serial port path (default: config serial.port or filters)")
	remoteName := fs.String("name", "", "file name sent to the device (default: base name of file)")
	timeout := fs.Duration("timeout", 0, "give up after this long (0 = no limit)")
	_ = fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("expected exactly one file argument")
	}

	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	name := *remoteName
	if name == "" {
		name = filepath.Base(path)
	}

	s, tr, err := connectSerial(ctx, cfg, newCLIRuntime(slog.Default()), *port)
	if err != nil {
		return err
	}
	defer s.Disconnect()

	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}

	engine := ymodem.NewEngine(
		ymodem.WithLogger(slog.Default()),
		ymodem.WithMaxRetries(cfg.Transfer.MaxRetries),
		ymodem.WithProgressCallback(func(p ymodem.Progress) {
			fmt.Fprintf(os.Stderr, "\r%s: %5.1f%% (%d/%d bytes)", p.FilePath, p.Percentage(), p.WrittenBytes, p.TotalBytes)
		}),
	)

	start := time.Now()
	res, err := engine.Transfer(ctx, tr, name, data)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s, %d of %d bytes in %s\n", res.FilePath, res.Outcome, res.WrittenBytes, res.TotalBytes,
		time.Since(start).Round(time.Millisecond))
	if res.Outcome != ymodem.OutcomeCompleted {
		return fmt.Errorf("transfer %s", res.Outcome)
	}
	return nil
}

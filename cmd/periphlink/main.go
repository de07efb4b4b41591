// Command periphlink talks to BLE and serial peripherals and pushes files to
// serial devices over Ymodem.
//
// Usage:
//
//	periphlink [-config path] <command> [flags] [args]
//
// Commands:
//
//	list            list serial ports (and BLE devices with -ble)
//	serial-write    write a message to a serial device
//	serial-monitor  print everything a serial device sends
//	transfer        send a file to a serial device over Ymodem
//	ble-read        read a GATT characteristic
//	ble-write       write a GATT characteristic
//	ble-notify      print notifications from a GATT characteristic
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chaz8081/periphlink/internal/config"
)

type command struct {
	name  string
	usage string
	run   func(ctx context.Context, cfg *config.Config, args []string) error
}

var commands = []command{
	{"list", "[-ble]", runList},
	{"serial-write", "[-port path] [-encoding text|hex|base64|binary] message", runSerialWrite},
	{"serial-monitor", "[-port path]", runSerialMonitor},
	{"transfer", "[-port path] [-name remote-name] file", runTransfer},
	{"ble-read", "-service uuid -char uuid [-address addr] [-subscribe]", runBLERead},
	{"ble-write", "-service uuid -char uuid [-address addr] [-encoding base64] [-with-response] message", runBLEWrite},
	{"ble-notify", "-service uuid -char uuid [-address addr] [-reconnect]", runBLENotify},
}

func main() {
	// CLI flags
	configPath := flag.String("config", "", "path to config file (default: ~/.config/periphlink/config.yaml)")
	logLevel := flag.String("log-level", "", "override log_level from the config file")
	initConfig := flag.Bool("init", false, "write a default config file if none exists, then exit")
	flag.Usage = usage
	flag.Parse()

	if *initConfig {
		path, err := config.WriteDefault()
		if err != nil {
			log.Fatalf("config: %v", err)
		}
		if path == "" {
			log.Printf("Config already exists at %s", config.DefaultConfigPath())
		} else {
			log.Printf("Wrote default config to %s", path)
		}
		return
	}

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	name, args := flag.Arg(0), flag.Args()[1:]
	var cmd *command
	for i := range commands {
		if commands[i].name == name {
			cmd = &commands[i]
		}
	}
	if cmd == nil {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		usage()
		os.Exit(2)
	}

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.run(ctx, cfg, args); err != nil {
		stop()
		log.Fatalf("%s: %v", name, err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: periphlink [-config path] [-log-level level] <command> [flags] [args]")
	fmt.Fprintln(os.Stderr, "       periphlink -init")
	fmt.Fprintln(os.Stderr, "\nCommands:")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-15s %s\n", c.name, c.usage)
	}
	fmt.Fprintln(os.Stderr, "\nGlobal flags:")
	flag.PrintDefaults()
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	// No config file, use defaults
	return config.Default(), nil
}

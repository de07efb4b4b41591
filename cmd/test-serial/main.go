// Command test-serial is a manual test for the serial transport.
// It opens a port, writes a message, and prints whatever the device sends
// back for a few seconds. Point it at a board that echoes, such as a
// MicroPython REPL.
//
// Usage:
//
//	go run ./cmd/test-serial -port /dev/ttyACM0 [-baud 115200] [-message text]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/chaz8081/periphlink/internal/peripheral"
	"github.com/chaz8081/periphlink/internal/serial"
)

func main() {
	port := flag.String("port", "", "serial port path")
	baud := flag.Int("baud", serial.DefaultBaudRate, "baud rate")
	message := flag.String("message", "print('hello from periphlink')\r\n", "text to send")
	wait := flag.Duration("wait", 3*time.Second, "how long to print replies")
	flag.Parse()

	if *port == "" {
		ports, err := serial.ListPorts()
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			return
		}
		fmt.Println("No -port given. Available ports:")
		for _, p := range ports {
			fmt.Printf("  %s %s:%s %s\n", p.Name, p.VID, p.PID, p.Product)
		}
		return
	}

	tr := serial.NewTransport(*port, serial.Options{BaudRate: *baud})
	tr.SetDisconnectHandler(func(cause error) {
		fmt.Printf("\nDisconnected: %v\n", cause)
	})

	ctx := context.Background()
	if err := tr.Open(ctx); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	defer tr.Close()

	tr.Subscribe(func(data []byte) {
		_, _ = os.Stdout.Write(data)
	})

	fmt.Printf("Writing %q to %s...\n", *message, *port)
	if err := tr.Write(ctx, []byte(*message), peripheral.EncodingText); err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}

	select {
	case <-time.After(*wait):
	case <-tr.Done():
	}
	fmt.Println("\nDone!")
}

// Command zwave-console opens a Z-Wave stick directly and offers an
// interactive shell for inclusion, exclusion and raw serial API requests.
//
// Usage:
//
//	zwave-console -port /dev/ttyACM0 [-baud 115200] [-db console.db] [-trace link.cbor]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"zwave-go-home/internal/controller"
	"zwave-go-home/internal/serialapi"
	"zwave-go-home/internal/store"
	"zwave-go-home/internal/trace"
)

func main() {
	var (
		portName  = flag.String("port", "", "serial port of the Z-Wave stick")
		baud      = flag.Int("baud", serialapi.DefaultBaud, "baud rate")
		dbPath    = flag.String("db", "", "node database (default: temporary)")
		tracePath = flag.String("trace", "", "record link traffic to this CBOR file")
		logLevel  = flag.String("log-level", "warn", "log level: debug, info, warn, error")
		list      = flag.Bool("list", false, "list serial ports and exit")
	)
	flag.Parse()

	if *list {
		ports, err := serialapi.ListPorts()
		if err != nil {
			fmt.Fprintln(os.Stderr, "list ports:", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}
	if *portName == "" {
		fmt.Fprintln(os.Stderr, "-port is required")
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*portName, *baud, *dbPath, *tracePath, *logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(portName string, baud int, dbPath, tracePath, logLevel string) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if dbPath == "" {
		dir, err := os.MkdirTemp("", "zwave-console")
		if err != nil {
			return err
		}
		defer os.RemoveAll(dir)
		dbPath = filepath.Join(dir, "nodes.db")
	}
	db, err := store.NewBoltStore(dbPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	port, err := serialapi.OpenSerial(portName, baud)
	if err != nil {
		return fmt.Errorf("open %s: %w", portName, err)
	}

	cfg := controller.Config{Transaction: serialapi.DefaultConfig()}
	ctrl := controller.New(port, db, cfg, logger)

	if tracePath != "" {
		rec, err := trace.NewRecorder(tracePath, ctrl.SessionID())
		if err != nil {
			port.Close()
			return fmt.Errorf("open trace: %w", err)
		}
		defer rec.Close()
		ctrl.SetTracer(rec)
		ctrl.Subscribe(rec.RecordEvent)
	}

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = ctrl.Start(startCtx)
	cancel()
	if err != nil {
		return err
	}
	defer ctrl.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()
	return NewConsole(ctrl, os.Stdout).Run(ctx)
}

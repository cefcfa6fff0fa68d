// Command urpreceiver accepts one file transfer from a urpsender instance
// over a simulated lossy/corrupting UDP channel, per the URP wire protocol.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/soypat/urp/metrics"
	"github.com/soypat/urp/receiver"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) != 5 && len(args) != 6 {
		return fmt.Errorf("usage: %s receiver_port sender_port output_filename max_win [-metrics-addr=host:port]", args[0])
	}

	receiverPort, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("receiver_port: %w", err)
	}
	senderPort, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("sender_port: %w", err)
	}
	outputFilename := args[3]
	maxWin, err := strconv.Atoi(args[4])
	if err != nil {
		return fmt.Errorf("max_win: %w", err)
	}

	var metricsAddr string
	if len(args) == 6 {
		const prefix = "-metrics-addr="
		if !strings.HasPrefix(args[5], prefix) {
			return fmt.Errorf("unrecognized optional argument %q", args[5])
		}
		metricsAddr = strings.TrimPrefix(args[5], prefix)
	}

	runID := xid.New().String()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With(
		slog.String("run", runID), slog.String("role", "receiver"))

	eng := receiver.New(receiver.Config{
		LocalPort:  receiverPort,
		RemotePort: senderPort,
		Filename:   outputFilename,
		MaxWin:     maxWin,
		Logger:     logger,
	})

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(eng.Counters(), "receiver", runID))
		shutdown, err := metrics.Serve(metricsAddr, reg)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer shutdown()
	}

	logFile, err := os.Create("receiver_log.txt")
	if err != nil {
		return fmt.Errorf("opening receiver_log.txt: %w", err)
	}
	defer logFile.Close()

	if err := eng.Run(context.Background(), logFile); err != nil {
		logger.Error("receiver aborted", slog.Any("err", err))
		return err
	}
	return nil
}

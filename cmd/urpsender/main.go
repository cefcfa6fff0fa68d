// Command urpsender transfers one file to a urpreceiver instance over a
// simulated lossy/corrupting UDP channel, per the URP wire protocol.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/xid"
	"github.com/soypat/urp/metrics"
	"github.com/soypat/urp/sender"
)

func main() {
	if err := run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) != 10 && len(args) != 11 {
		return fmt.Errorf("usage: %s sender_port receiver_port filename max_win rto flp rlp fcp rcp [-metrics-addr=host:port]", args[0])
	}

	senderPort, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("sender_port: %w", err)
	}
	receiverPort, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("receiver_port: %w", err)
	}
	filename := args[3]
	maxWin, err := strconv.Atoi(args[4])
	if err != nil {
		return fmt.Errorf("max_win: %w", err)
	}
	rtoSeconds, err := strconv.ParseFloat(args[5], 64)
	if err != nil {
		return fmt.Errorf("rto: %w", err)
	}
	flp, err := strconv.ParseFloat(args[6], 64)
	if err != nil {
		return fmt.Errorf("flp: %w", err)
	}
	rlp, err := strconv.ParseFloat(args[7], 64)
	if err != nil {
		return fmt.Errorf("rlp: %w", err)
	}
	fcp, err := strconv.ParseFloat(args[8], 64)
	if err != nil {
		return fmt.Errorf("fcp: %w", err)
	}
	rcp, err := strconv.ParseFloat(args[9], 64)
	if err != nil {
		return fmt.Errorf("rcp: %w", err)
	}

	var metricsAddr string
	if len(args) == 11 {
		const prefix = "-metrics-addr="
		if !strings.HasPrefix(args[10], prefix) {
			return fmt.Errorf("unrecognized optional argument %q", args[10])
		}
		metricsAddr = strings.TrimPrefix(args[10], prefix)
	}

	runID := xid.New().String()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With(
		slog.String("run", runID), slog.String("role", "sender"))

	eng := sender.New(sender.Config{
		LocalPort:  senderPort,
		RemotePort: receiverPort,
		Filename:   filename,
		MaxWin:     maxWin,
		RTO:        time.Duration(rtoSeconds * float64(time.Second)),
		FLP:        flp,
		RLP:        rlp,
		FCP:        fcp,
		RCP:        rcp,
		Logger:     logger,
	})

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(metrics.NewCollector(eng.Counters(), "sender", runID))
		shutdown, err := metrics.Serve(metricsAddr, reg)
		if err != nil {
			return fmt.Errorf("metrics: %w", err)
		}
		defer shutdown()
	}

	logFile, err := os.Create("sender_log.txt")
	if err != nil {
		return fmt.Errorf("opening sender_log.txt: %w", err)
	}
	defer logFile.Close()

	if err := eng.Run(context.Background(), logFile); err != nil {
		logger.Error("sender aborted", slog.Any("err", err))
		return err
	}
	return nil
}

// Package main runs the end-to-end harness against a live deployment: it
// drives the happy-path scenario through the REST API and prints the signed
// transcript as JSON.
package main

import (
	"context"
	"flag"
	"fmt"
	log "log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/harness"
)

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "base URL of the sr-api service")
	humanToken := flag.String("human-token", "HUMAN:e2e-operator", "bearer token for human-attributed calls")
	systemToken := flag.String("system-token", "SYSTEM:sr-e2e", "bearer token for system-attributed calls")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall scenario deadline")
	flag.Parse()

	sr.ConfigureLogging(false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	client := harness.NewClient(*baseURL, *humanToken, *systemToken)
	transcript := harness.NewTranscript()

	scenarioErr := harness.HappyPath(ctx, client, transcript)
	if err := transcript.Finish(); err != nil {
		log.Error("seal transcript", "error", err)
		os.Exit(1)
	}

	out, err := transcript.JSON()
	if err != nil {
		log.Error("serialize transcript", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))

	if scenarioErr != nil {
		log.Error("scenario failed", "error", scenarioErr,
			"failed_invariants", transcript.FailedInvariants())
		os.Exit(1)
	}
	if transcript.Status != "PASSED" {
		log.Error("transcript did not pass",
			"failed_invariants", transcript.FailedInvariants())
		os.Exit(1)
	}
	log.Info("scenario passed",
		"transcript_id", transcript.TranscriptID,
		"content_hash", transcript.ContentHash)
}

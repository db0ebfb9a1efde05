package oracles

import (
	"context"
	"encoding/json"
	"fmt"

	log "log/slog"

	sr "github.com/solver-ralph/sr"
	"github.com/solver-ralph/sr/natsbus"
)

// RunCommand is the payload of sr.commands.oracle.run messages.
type RunCommand struct {
	RunID       string `json:"run_id"`
	CandidateID string `json:"candidate_id"`
	SuiteID     string `json:"suite_id"`
	// CommandID makes redeliveries detectable.
	CommandID string `json:"command_id"`
}

// SuiteSource resolves a suite id to its current definition. The Postgres
// suite registry satisfies this through a thin adapter.
type SuiteSource interface {
	GetSuite(ctx context.Context, suiteID string) (*SuiteDefinition, error)
}

// Worker consumes run commands, executes the suite, and records the outcome
// in the event log.
type Worker struct {
	bus     sr.MessageBus
	store   sr.EventStore
	runner  *Runner
	suites  SuiteSource
	deduper *natsbus.Deduper
	// maxConcurrent caps suite executions in flight. Zero or less means one.
	maxConcurrent int
}

func NewWorker(bus sr.MessageBus, store sr.EventStore, runner *Runner, suites SuiteSource, deduper *natsbus.Deduper, maxConcurrent int) *Worker {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Worker{
		bus:           bus,
		store:         store,
		runner:        runner,
		suites:        suites,
		deduper:       deduper,
		maxConcurrent: maxConcurrent,
	}
}

// Run consumes commands until the context is cancelled, executing up to
// maxConcurrent suites at once. Failed commands are logged and skipped; the
// run stays STARTED for the integrity checks to flag.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.bus.Subscribe(ctx, sr.SubjectRunOracleCommand)
	if err != nil {
		return err
	}
	defer sub.Close()

	pool := sr.NewTaskRunner(ctx, w.maxConcurrent)
	for {
		payload, ok := sub.Next(ctx)
		if !ok {
			// Drain in-flight executions before reporting the cause.
			if err := pool.Wait(); err != nil {
				log.Warn("run command failed during drain", "error", err.Error())
			}
			return ctx.Err()
		}
		pool.Go(func() error {
			if err := w.Handle(ctx, payload); err != nil {
				log.Warn("run command failed", "error", err.Error())
			}
			return nil
		})
	}
}

// Handle processes one run command end to end.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var cmd RunCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decode run command, details: %v", err)
	}
	if cmd.RunID == "" || cmd.SuiteID == "" {
		return fmt.Errorf("run command missing run_id or suite_id")
	}

	if w.deduper != nil && cmd.CommandID != "" {
		seen, err := w.deduper.Seen(ctx, cmd.CommandID)
		if err != nil {
			return err
		}
		if seen {
			log.Debug("duplicate run command dropped", "run_id", cmd.RunID)
			return nil
		}
	}

	suite, err := w.suites.GetSuite(ctx, cmd.SuiteID)
	if err != nil {
		return fmt.Errorf("resolve suite %s, details: %v", cmd.SuiteID, err)
	}

	result, err := w.runner.RunSuite(ctx, cmd.RunID, cmd.CandidateID, suite)
	if err != nil {
		return fmt.Errorf("execute suite %s for run %s, details: %v", cmd.SuiteID, cmd.RunID, err)
	}

	if err := w.recordOutcome(ctx, cmd, result); err != nil {
		return err
	}

	if w.deduper != nil && cmd.CommandID != "" {
		if err := w.deduper.MarkProcessed(ctx, cmd.CommandID); err != nil {
			return err
		}
	}
	log.Info("run completed", "run_id", cmd.RunID, "verdict", string(result.Verdict),
		"bundle_hash", result.BundleHash)
	return nil
}

// recordOutcome appends EvidenceBundleRecorded then RunCompleted on the run
// stream. The run stream holds RunStarted at version 1, written when the run
// was requested.
func (w *Worker) recordOutcome(ctx context.Context, cmd RunCommand, result *RunResult) error {
	maxAttempts := 0
	for _, tries := range result.Attempts {
		if len(tries) > maxAttempts {
			maxAttempts = len(tries)
		}
	}

	recorded, err := sr.NewEvent(cmd.RunID, 2, sr.EventEvidenceBundleRecorded, workerActor, sr.EvidenceBundleRecordedPayload{
		BundleHash:  result.BundleHash,
		RunID:       cmd.RunID,
		CandidateID: cmd.CandidateID,
		Verdict:     string(result.Verdict),
	})
	if err != nil {
		return err
	}
	completed, err := sr.NewEvent(cmd.RunID, 3, sr.EventRunCompleted, workerActor, sr.RunCompletedPayload{
		RunID:        cmd.RunID,
		Verdict:      string(result.Verdict),
		BundleHash:   result.BundleHash,
		EnvDigest:    result.EnvironmentFingerprint,
		AttemptCount: maxAttempts,
	})
	if err != nil {
		return err
	}
	completed.CausationID = recorded.EventID

	if _, err := w.store.Append(ctx, cmd.RunID, 1, []sr.EventEnvelope{recorded, completed}); err != nil {
		return fmt.Errorf("record run outcome %s, details: %v", cmd.RunID, err)
	}
	return nil
}

var workerActor = sr.ActorID{Kind: sr.ActorSystem, ID: "sr-oracle-worker"}

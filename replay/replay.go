// Package replay proves that the read models are a pure function of the event
// log: rebuild the projections twice from the same events and compare the
// resulting state hashes. A mismatch means some projection consumed input that
// is not in the log.
package replay

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "log/slog"

	sr "github.com/solver-ralph/sr"
)

// Target is a rebuildable projection state. Rebuild reprocesses the full event
// log and returns the number of events applied; StateHash digests the
// resulting state deterministically.
type Target interface {
	Rebuild(ctx context.Context) (int, error)
	StateHash(ctx context.Context) (string, error)
}

// Discrepancy reports a difference between two rebuilds of the same log.
type Discrepancy struct {
	Entity      string `json:"entity"`
	Field       string `json:"field"`
	Original    string `json:"original"`
	Rebuilt     string `json:"rebuilt"`
	Description string `json:"description"`
}

// Proof is the recorded outcome of a determinism check.
type Proof struct {
	ProofID           string        `json:"proof_id"`
	EventCount        int           `json:"event_count"`
	FirstEventID      string        `json:"first_event_id,omitempty"`
	LastEventID       string        `json:"last_event_id,omitempty"`
	OriginalStateHash string        `json:"original_state_hash"`
	ReplayedStateHash string        `json:"replayed_state_hash"`
	Deterministic     bool          `json:"deterministic"`
	Discrepancies     []Discrepancy `json:"discrepancies,omitempty"`
	ComputedAt        time.Time     `json:"computed_at"`
}

// Runner rebuilds a Target from an event log and compares the outcomes.
type Runner struct {
	store  sr.EventStore
	target Target
}

func NewRunner(store sr.EventStore, target Target) *Runner {
	return &Runner{store: store, target: target}
}

// Prove rebuilds the target twice and compares state hashes. The proof is
// returned even when the check fails; callers decide whether a
// non-deterministic proof is fatal.
func (r *Runner) Prove(ctx context.Context) (*Proof, error) {
	proof := &Proof{
		ProofID:    sr.NewProofID(),
		ComputedAt: time.Now().UTC(),
	}
	if err := r.summarizeLog(ctx, proof); err != nil {
		return nil, err
	}

	applied, err := r.target.Rebuild(ctx)
	if err != nil {
		return nil, fmt.Errorf("first rebuild, details: %v", err)
	}
	if applied != proof.EventCount {
		proof.Discrepancies = append(proof.Discrepancies, Discrepancy{
			Entity:      "log",
			Field:       "event_count",
			Original:    fmt.Sprintf("%d", proof.EventCount),
			Rebuilt:     fmt.Sprintf("%d", applied),
			Description: "rebuild applied a different number of events than the log holds",
		})
	}
	first, err := r.target.StateHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("hash first rebuild, details: %v", err)
	}

	if _, err := r.target.Rebuild(ctx); err != nil {
		return nil, fmt.Errorf("second rebuild, details: %v", err)
	}
	second, err := r.target.StateHash(ctx)
	if err != nil {
		return nil, fmt.Errorf("hash second rebuild, details: %v", err)
	}

	proof.OriginalStateHash = first
	proof.ReplayedStateHash = second
	if first != second {
		proof.Discrepancies = append(proof.Discrepancies, Discrepancy{
			Entity:      "projections",
			Field:       "state_hash",
			Original:    first,
			Rebuilt:     second,
			Description: "state hash differs between rebuilds of the same log",
		})
	}
	proof.Deterministic = len(proof.Discrepancies) == 0

	if proof.Deterministic {
		log.Info("replay proof passed", "proof_id", proof.ProofID,
			"event_count", proof.EventCount, "state_hash", first)
	} else {
		log.Error("replay proof failed", "proof_id", proof.ProofID,
			"first_hash", first, "second_hash", second,
			"discrepancies", len(proof.Discrepancies))
	}
	return proof, nil
}

func (r *Runner) summarizeLog(ctx context.Context, proof *Proof) error {
	var from uint64
	for {
		events, err := r.store.ReplayAll(ctx, from, 500)
		if err != nil {
			return fmt.Errorf("read event log, details: %v", err)
		}
		if len(events) == 0 {
			return nil
		}
		if proof.FirstEventID == "" {
			proof.FirstEventID = events[0].EventID
		}
		proof.LastEventID = events[len(events)-1].EventID
		proof.EventCount += len(events)
		from = events[len(events)-1].GlobalSeq
	}
}

// SetComparison reports the difference between two id sets, used by the
// harness to compare eligible-loop sets before and after replay.
type SetComparison struct {
	Original       []string `json:"original"`
	Rebuilt        []string `json:"rebuilt"`
	Match          bool     `json:"match"`
	OnlyInOriginal []string `json:"only_in_original,omitempty"`
	OnlyInRebuilt  []string `json:"only_in_rebuilt,omitempty"`
}

func CompareIDSets(original, rebuilt []string) SetComparison {
	originalSorted := append([]string(nil), original...)
	rebuiltSorted := append([]string(nil), rebuilt...)
	sort.Strings(originalSorted)
	sort.Strings(rebuiltSorted)

	comparison := SetComparison{Original: originalSorted, Rebuilt: rebuiltSorted}
	rebuiltSet := make(map[string]bool, len(rebuiltSorted))
	for _, id := range rebuiltSorted {
		rebuiltSet[id] = true
	}
	originalSet := make(map[string]bool, len(originalSorted))
	for _, id := range originalSorted {
		originalSet[id] = true
		if !rebuiltSet[id] {
			comparison.OnlyInOriginal = append(comparison.OnlyInOriginal, id)
		}
	}
	for _, id := range rebuiltSorted {
		if !originalSet[id] {
			comparison.OnlyInRebuilt = append(comparison.OnlyInRebuilt, id)
		}
	}
	comparison.Match = len(comparison.OnlyInOriginal) == 0 && len(comparison.OnlyInRebuilt) == 0
	return comparison
}

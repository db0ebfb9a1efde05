package harness

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Entry is one recorded step of a scenario.
type Entry struct {
	Sequence    int       `json:"sequence"`
	Timestamp   time.Time `json:"timestamp"`
	Step        string    `json:"step"`
	Description string    `json:"description"`
	EntityID    string    `json:"entity_id,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// InvariantCheck records one invariant assertion made during the scenario.
type InvariantCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Transcript is the ordered, hashable record of a harness execution.
type Transcript struct {
	TranscriptID string            `json:"transcript_id"`
	Version      string            `json:"version"`
	StartedAt    time.Time         `json:"started_at"`
	EndedAt      *time.Time        `json:"ended_at,omitempty"`
	Status       string            `json:"status"` // RUNNING, PASSED, FAILED
	Entries      []Entry           `json:"entries"`
	ProducedIDs  map[string]string `json:"produced_ids"`
	Invariants   []InvariantCheck  `json:"invariants_checked"`
	ContentHash  string            `json:"content_hash,omitempty"`
}

func NewTranscript() *Transcript {
	return &Transcript{
		TranscriptID: "transcript_" + uuid.NewString(),
		Version:      "1.0.0",
		StartedAt:    time.Now().UTC(),
		Status:       "RUNNING",
		ProducedIDs:  make(map[string]string),
	}
}

// Record appends a successful step, remembering the produced entity id under
// the step name.
func (t *Transcript) Record(step, description, entityID string) {
	t.Entries = append(t.Entries, Entry{
		Sequence:    len(t.Entries) + 1,
		Timestamp:   time.Now().UTC(),
		Step:        step,
		Description: description,
		EntityID:    entityID,
	})
	if entityID != "" {
		t.ProducedIDs[step] = entityID
	}
}

// Fail appends a failed step.
func (t *Transcript) Fail(step, description string, err error) {
	t.Entries = append(t.Entries, Entry{
		Sequence:    len(t.Entries) + 1,
		Timestamp:   time.Now().UTC(),
		Step:        step,
		Description: description,
		Error:       err.Error(),
	})
}

// Check records an invariant assertion and reports whether it held.
func (t *Transcript) Check(name string, passed bool, detail string) bool {
	t.Invariants = append(t.Invariants, InvariantCheck{Name: name, Passed: passed, Detail: detail})
	return passed
}

// AllInvariantsHeld reports whether every recorded check passed.
func (t *Transcript) AllInvariantsHeld() bool {
	for _, check := range t.Invariants {
		if !check.Passed {
			return false
		}
	}
	return true
}

// FailedInvariants lists the names of failed checks.
func (t *Transcript) FailedInvariants() []string {
	var out []string
	for _, check := range t.Invariants {
		if !check.Passed {
			out = append(out, check.Name)
		}
	}
	return out
}

// Finish seals the transcript: sets the final status and stamps the content
// hash over the deterministic JSON form.
func (t *Transcript) Finish() error {
	ended := time.Now().UTC()
	t.EndedAt = &ended
	if t.AllInvariantsHeld() && !t.hasErrors() {
		t.Status = "PASSED"
	} else {
		t.Status = "FAILED"
	}
	hash, err := t.computeHash()
	if err != nil {
		return err
	}
	t.ContentHash = hash
	return nil
}

func (t *Transcript) hasErrors() bool {
	for _, entry := range t.Entries {
		if entry.Error != "" {
			return true
		}
	}
	return false
}

// JSON returns the transcript in deterministic form: marshal, reparse into a
// generic value, marshal again so map keys come out sorted.
func (t *Transcript) JSON() ([]byte, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.MarshalIndent(generic, "", "  ")
}

func (t *Transcript) computeHash() (string, error) {
	// The hash covers the content minus the hash field itself.
	withoutHash := *t
	withoutHash.ContentHash = ""
	data, err := withoutHash.JSON()
	if err != nil {
		return "", fmt.Errorf("serialize transcript, details: %v", err)
	}
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Package trace records the ordered checkpoints a turn passes through, so a
// caller can reconstruct what happened without re-deriving it.
package trace

import (
	"encoding/json"
	"fmt"
	"time"
)

// Checkpoint is a single named stage reached during a turn.
type Checkpoint struct {
	Stage  string    `json:"stage"`
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// String renders a checkpoint in the wire form "stage" or "stage:detail".
func (c Checkpoint) String() string {
	if c.Detail == "" {
		return c.Stage
	}
	return c.Stage + ":" + c.Detail
}

// Trace is an append-only sequence of checkpoints for one turn.
type Trace struct {
	checkpoints []Checkpoint
}

// New returns a trace seeded with the given start stage.
func New(stage string) *Trace {
	t := &Trace{}
	t.Add(stage)
	return t
}

// Add appends a checkpoint with no detail.
func (t *Trace) Add(stage string) {
	t.checkpoints = append(t.checkpoints, Checkpoint{Stage: stage, At: time.Now()})
}

// Addf appends a checkpoint with a formatted detail.
func (t *Trace) Addf(stage, format string, args ...interface{}) {
	t.checkpoints = append(t.checkpoints, Checkpoint{
		Stage:  stage,
		Detail: fmt.Sprintf(format, args...),
		At:     time.Now(),
	})
}

// Checkpoints returns a copy of the recorded checkpoints.
func (t *Trace) Checkpoints() []Checkpoint {
	out := make([]Checkpoint, len(t.checkpoints))
	copy(out, t.checkpoints)
	return out
}

// Strings renders the trace in envelope form, one entry per checkpoint.
func (t *Trace) Strings() []string {
	out := make([]string, 0, len(t.checkpoints))
	for _, c := range t.checkpoints {
		out = append(out, c.String())
	}
	return out
}

// MarshalJSON emits the envelope form: an array of strings.
func (t *Trace) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Strings())
}

// Len reports the number of recorded checkpoints.
func (t *Trace) Len() int { return len(t.checkpoints) }

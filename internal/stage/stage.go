// Package stage defines the vocabulary shared by the orchestrator and the
// provisioning stages: a step is a named mutation with a failure policy, and
// an outcome records what running it did to the host.
package stage

import (
	"context"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Policy classifies how the orchestrator treats a step failure. Keeping the
// policy on the step makes the fatal/advisory dispatch visible as data.
type Policy string

const (
	// PolicyFatal aborts the entire run on failure.
	PolicyFatal Policy = "fatal"
	// PolicyAdvisory logs the failure and lets the run continue.
	PolicyAdvisory Policy = "advisory"
)

// Status is the recorded outcome of one executed step.
type Status string

const (
	// StatusApplied means the step mutated system state.
	StatusApplied Status = "applied"
	// StatusUnchanged means the desired state already held.
	StatusUnchanged Status = "unchanged"
	// StatusWarned means an advisory step failed and the run continued.
	StatusWarned Status = "warned"
	// StatusFailed means a fatal step failed and the run aborted.
	StatusFailed Status = "failed"
)

// Result is returned by a step that completed without error.
type Result struct {
	Changed bool
	Detail  string
}

// Applied builds a Result for a step that mutated the host.
func Applied(detail string) Result { return Result{Changed: true, Detail: detail} }

// Unchanged builds a Result for a step that found its state already satisfied.
func Unchanged(detail string) Result { return Result{Detail: detail} }

// Func executes one provisioning step.
type Func func(ctx context.Context) (Result, error)

// Step pairs a named mutation with its failure policy.
type Step struct {
	Name   string
	Policy Policy
	Run    Func
}

// Outcome records what happened when a step ran.
type Outcome struct {
	Step     string
	Policy   Policy
	Status   Status
	Detail   string
	Err      error
	Duration time.Duration
}

// Label renders a step name such as "kernel-headers" as a display label.
func Label(name string) string {
	name = strings.ReplaceAll(name, "-", " ")
	name = strings.ReplaceAll(name, "_", " ")
	return cases.Title(language.Und).String(name)
}

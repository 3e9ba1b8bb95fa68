// Package services defines shared utilities consumed by the provisioning
// stages and the orchestrator.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs and step names for logging.
//   - Structured error markers plus the Wrap helper that keep failure
//     messages uniform across stages ("which stage failed and why").
//
// Use these helpers when wiring new stage logic so operational behaviour
// stays consistent across the run.
package services

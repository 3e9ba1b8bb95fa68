// Package main hosts the rigup CLI entrypoint and command graph.
//
// The Cobra-based command tree translates terminal invocations into
// provisioning runs, plan previews, read-only host inspection, run history
// queries, and configuration scaffolding. It centralizes configuration
// resolution, privilege escalation, and structured logging setup so
// subcommands can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main

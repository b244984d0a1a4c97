// Package main hosts the chipscore CLI entrypoint and command graph.
//
// The Cobra-based command tree drives full classification runs, job state
// inspection, manifest reporting, and configuration scaffolding. It also
// carries the hidden extract-worker subcommand the extraction pool re-executes
// for process isolation. Configuration resolution happens once per invocation
// so subcommands can focus on user experience instead of wiring.
//
// Keep this package lean: add new functionality by extending the internal
// packages first, then surface it through dedicated commands or flags here.
package main

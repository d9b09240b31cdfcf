// Package stepflow is a polyglot step runtime: steps written in any
// supported language are wired into event-driven flows and each invocation
// runs in its own worker process
package stepflow

const Name = "stepflow"

// Version is overridden at build time with -ldflags
var Version = "dev"

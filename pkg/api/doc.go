// Package api defines the types shared between the runtime and the programs
// that embed it: steps, flows, events, and the collaborator contracts for
// state storage and tracing
package api

// Package pipeline executes the fixed fetch → transform → publish sequence
// for one task instance and owns the task state machine.
//
// The runner is the only component that mutates a task after creation:
// it claims the task (pending → processing) as its first atomically-observable
// action, drives the stages strictly in order, applies the publish retry
// policy, and finishes the task as completed or failed. Stage failures and
// panics never escape the runner; they become task state plus feed entries.
package pipeline

// Package sked provides a job scheduling and execution engine for Go.
// It registers named job definitions (one-off or recurring), determines
// when each is due, executes the associated handler with
// at-most-one-concurrent-run-per-job semantics, retries failures with
// bounded attempts, and records execution history.
//
// sked is designed as a library, not a service. Configure a store,
// register handlers, and let the engine run:
//
//	store := memory.New()
//	eng, err := engine.New(store)
//	engine.Register(eng, job.NewDefinition("send-email", sendEmail))
//	eng.Start(ctx)
//
// # Architecture
//
// Each subsystem lives in its own package: schedule (cron and interval
// resolution), job (types, registry, store contract), backoff (retry
// delays), runner (poll loop and executor), engine (the public facade),
// and store/* (persistence backends). The store is the single source of
// truth; the claim compare-and-swap on a job row is the only mechanism
// preventing double execution of the same job.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based
// identifiers.
package sked

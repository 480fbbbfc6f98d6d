// Package job defines the core job model: the Job and Execution types,
// the lifecycle Status state machine, typed job definitions, the handler
// registry, and the Store persistence contract.
//
// A Job moves through pending → running → {pending, succeeded, failed,
// disabled}. The pending → running transition (the "claim") is an atomic
// compare-and-swap in the Store and is the sole mechanism preventing two
// concurrent executions of the same job.
//
// Handlers are registered by name. The typed Definition[T] API wraps a
// handler taking a concrete payload type; registration erases the type by
// closing over JSON unmarshalling:
//
//	def := job.NewDefinition("send-email", func(ctx context.Context, p EmailPayload) error {
//	    return mailer.Send(ctx, p)
//	})
//	job.RegisterDefinition(registry, def)
package job

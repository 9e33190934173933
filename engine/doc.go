// Package engine assembles a working conveyor instance.
//
// # Building
//
// Create a Runner, then Build an Engine around it:
//
//	s := memory.New()
//	r, err := conveyor.New(
//	    conveyor.WithStore(s),
//	    conveyor.WithConcurrency(4),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	eng, err := engine.Build(r)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Registering and Enqueueing
//
// Definitions are typed; registration failures (duplicate names,
// missing handlers, invalid retry policies) are configuration errors
// and should stop startup:
//
//	def := job.NewDefinition("send-email", sendEmail,
//	    job.WithQueue("emails"),
//	    job.WithMaxAttempts(5),
//	)
//	if err := engine.Register(eng, def); err != nil {
//	    log.Fatal(err)
//	}
//
//	j, err := engine.Enqueue(ctx, eng, "send-email", EmailInput{To: "a@b.c"})
//
// Enqueue picks up the definition's queue, priority, timeout, and retry
// budget; per-call options override them.
//
// # Lifecycle
//
//	if err := eng.Start(ctx); err != nil { ... }
//	defer eng.Stop(ctx)
//
// Start launches the worker pool and the cron scheduler. Stop is
// cooperative: in-flight jobs finish unless the context expires first.
package engine

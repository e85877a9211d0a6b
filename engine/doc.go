// Package engine wires all PRFactory subsystems together and provides
// the application-level API: triggering work items, starting approved
// implementations, cancellation, and the webhook surface.
//
// The engine package exists to break a fundamental import cycle: the
// root prfactory package defines Entity (imported by item, checkpoint,
// queue, etc.) and therefore cannot import those packages back. Engine
// sits above all subsystem packages and below the application layer.
//
// # Building an Engine
//
//	f, err := prfactory.New(
//	    prfactory.WithStore(pgStore),
//	    prfactory.WithConcurrency(20),
//	)
//
//	eng, err := engine.Build(f,
//	    engine.Deps{
//	        Ticketing:     jiraClient,
//	        Source:        githubClient,
//	        Completion:    completionClient,
//	        WebhookSecret: secret,
//	    },
//	    engine.WithHook(auditHook),
//	    engine.WithTenantLimits(queue.TenantLimit{TenantID: "acme", RateLimit: 5}),
//	)
//
// # Running
//
//	eng.Start(ctx)               // worker loop + retention sweeper
//	go eng.Serve(ctx, ":8080")   // webhook listener
//
//	w, err := eng.Trigger(ctx, "acme", "PROJ-42")
//
// # Options
//
//   - [WithHook] — register a lifecycle hook
//   - [WithMiddleware] — add a middleware to the step chain
//   - [WithBackoff] — set the retry backoff strategy
//   - [WithTenantLimits] — configure per-tenant rate limits and concurrency
//   - [WithAutoImplement] — chain implementation automatically after plan approval
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
package engine

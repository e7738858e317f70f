// Package app wires the license API together and manages its lifecycle.
//
// # Initialization Flow
//
//  1. Load configuration from the environment and an optional YAML file
//  2. Initialize logging and OpenTelemetry
//  3. Open the record store (memory or PostgreSQL) and the optional Redis session backend
//  4. Build the billing checker, license service, webhook processor and session reaper
//  5. Set up the middleware chain and routes
//  6. Run the HTTP server and the reaper until the context is cancelled
//
// # Usage
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	app, err := app.NewApplication(ctx)
//	if err != nil {
//	    return err
//	}
//	return app.Run(ctx)
//
// # Graceful Shutdown
//
// When the context is cancelled, Run stops accepting connections, waits for in-flight
// requests up to the configured shutdown timeout, stops the reaper, then closes the
// store and flushes telemetry. Every shutdown failure is collected and returned.
//
// The app does not call os.Exit; main decides how to exit.
package app

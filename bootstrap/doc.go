// Package bootstrap wires guardian's components together and manages the
// server lifecycle.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx, configPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer app.Shutdown()
//
//	if err := app.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	// Wait for shutdown signal
//	app.WaitForShutdown()
//
// The CLI uses NewEngine directly to run the pipeline in-process without
// the HTTP server.
package bootstrap

// Package httpserver runs the daemon's HTTP listener with graceful shutdown.
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//	    return err
//	}
//
// Run returns when ctx is cancelled, after in-flight requests have drained or
// the shutdown timeout has passed. Signal handling is left to the caller,
// usually via signal.NotifyContext. Errors wrap ErrStart or ErrShutdown.
package httpserver

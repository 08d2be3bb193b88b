// Package logger builds *slog.Logger instances for billingkit services.
//
// New returns a logger configured by functional options: output format (JSON
// or text), minimum level, static attributes, and values copied from the
// request context on every record. WithEnvironment applies the usual
// per-environment defaults.
//
//	log := logger.New(
//	    logger.WithEnvironment(cfg.Env, "billingd"),
//	    logger.WithContextValue("request_id", middleware.RequestIDKey),
//	)
//	logger.SetAsDefault(log)
//
// Attribute helpers such as SubscriptionID, InvoiceNumber and Error keep key
// names consistent across packages. Error returns an empty attribute for a nil
// error, so it can be passed unconditionally:
//
//	log.ErrorContext(ctx, "renewal failed", logger.SubscriptionID(id), logger.Error(err))
package logger

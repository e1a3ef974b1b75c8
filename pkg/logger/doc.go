// Package logger provides a context-aware wrapper around Go's slog package
// adding functional options for configuration, helper attribute constructors,
// and transparent injection of values stored in context.Context.
//
// New creates a *slog.Logger configured by Option functions; NewFromConfig does
// the same from an env-tagged Config. The handler is wrapped by
// a context handler that runs every registered ContextExtractor before
// delegating, so request-scoped values such as the chi request ID or the
// organization being billed are attached to each record automatically.
//
// Helper constructors such as OrganizationID, Provider, EventID and Error live
// in attr.go and keep attribute naming consistent across the service.
//
// # Usage
//
//	log := logger.New(
//	    logger.WithDevelopment("billingd"),
//	    logger.WithContextExtractors(logger.RequestIDExtractor),
//	)
//	logger.SetAsDefault(log)
//
//	log.InfoContext(ctx, "webhook accepted",
//	    logger.Provider("stripe"),
//	    logger.EventID(evt.ID),
//	)
//
// Error and Errors produce attributes only for non-nil errors, so
//
//	log.Info("operation finished", logger.Error(err))
//
// needs no nil check.
package logger

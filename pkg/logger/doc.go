// Package logger builds *slog.Logger instances for the billing services and
// provides attribute helpers that keep key names consistent across them.
//
// New applies functional options and wraps the chosen slog handler so that
// attributes attached with ContextWith, and those produced by registered
// extractors, are added to every record logged with the context.
//
// # Usage
//
//	import "github.com/dmitrymomot/billing/pkg/logger"
//
//	log := logger.New(logger.WithEnvironment(cfg.Environment, "billing-worker"))
//	log.LogAttrs(ctx, slog.LevelInfo, "trial activated",
//	    logger.SubscriptionID(sub.ID),
//	    logger.PlanID(sub.PlanID),
//	)
//
// Development uses text output at debug level; staging and production use JSON
// at info level. Error and the id helpers return an empty attribute for nil
// values so they can be passed without a nil check.
package logger

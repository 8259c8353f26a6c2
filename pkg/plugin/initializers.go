package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/SoftInstigate/restheart-sub016/pkg/logger"
)

// Initializers returns the initializers bound to point ordered by priority.
// An initializer without an explicit point runs after startup.
func (r *Registry) Initializers(point InitPoint) []*Record {
	var out []*Record
	for _, rec := range r.All(KindInitializer) {
		p := rec.Descriptor.InitPoint
		if p == "" {
			p = AfterStartup
		}
		if p == point {
			out = append(out, rec)
		}
	}
	return out
}

// RunInitializers runs every initializer bound to point. A failing or
// panicking initializer does not prevent the others from running; the
// failures are joined into the returned error.
func RunInitializers(ctx context.Context, reg *Registry, point InitPoint) error {
	log := logger.Named("plugins")
	var errs []error
	for _, rec := range reg.Initializers(point) {
		initializer := rec.Instance.(Initializer)
		if err := protect(func() error { return initializer.Run(ctx) }); err != nil {
			log.Error("initializer failed",
				slog.String("name", rec.Name),
				slog.String("point", string(point)),
				slog.Any("error", err))
			errs = append(errs, fmt.Errorf("initializer %s: %w", rec.Name, err))
		}
	}
	return errors.Join(errs...)
}

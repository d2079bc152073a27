package monitor

import (
	"context"

	"github.com/danilovkiri/dk-go-nowserving/internal/models/modeldto"
)

// Sweeper evaluates every known queue for an expired serving slot.
type Sweeper interface {
	SweepAll(ctx context.Context) ([]modeldto.SweepOutcome, error)
}

package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cgaf/gaf-engine/internal/metrics"
	"github.com/cgaf/gaf-engine/internal/store"
)

// TickReport summarizes one tick.
type TickReport struct {
	ID       string
	Products int
	Outcomes map[Outcome]int
	Duration time.Duration
}

// RunTick processes every configured product sequentially inside one
// transaction and commits once at the end. Any error it returns is a store
// error; the transaction has been rolled back and nothing of the tick is
// visible.
func (p *Processor) RunTick(ctx context.Context, st store.Store) (*TickReport, error) {
	start := p.now()
	report := &TickReport{ID: uuid.NewString(), Outcomes: make(map[Outcome]int)}
	log := p.log.With("tick", report.ID)

	err := p.runTick(ctx, st, report)
	report.Duration = p.now().Sub(start)
	metrics.TickDuration.Observe(report.Duration.Seconds())
	if err != nil {
		metrics.TicksTotal.WithLabelValues("error").Inc()
		return report, err
	}
	metrics.TicksTotal.WithLabelValues("ok").Inc()

	log.Info("tick complete",
		"products", report.Products,
		"updated", report.Outcomes[Updated],
		"skipped_insufficient", report.Outcomes[SkippedInsufficient],
		"skipped_shape", report.Outcomes[SkippedShape],
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report, nil
}

func (p *Processor) runTick(ctx context.Context, st store.Store, report *TickReport) error {
	tx, err := st.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	products, err := tx.ListProducts(ctx)
	if err != nil {
		return err
	}
	report.Products = len(products)

	for _, pc := range products {
		if err := ctx.Err(); err != nil {
			return err
		}
		outcome, err := p.ProcessProduct(ctx, tx, pc)
		if err != nil {
			return fmt.Errorf("product %s: %w", pc.Product, err)
		}
		report.Outcomes[outcome]++
		metrics.ProductOutcomes.WithLabelValues(pc.Product, outcome.String()).Inc()
	}
	return tx.Commit(ctx)
}

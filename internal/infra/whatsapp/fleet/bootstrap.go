package fleet

import (
	"context"
	"sync"
	"time"

	"whatsfleet/internal/domain/instance"
)

// bootstrapBatchSize is how many supervisors Bootstrap starts in parallel
// before sleeping; spec.md §4.C names 5.
const bootstrapBatchSize = 5

// Bootstrap recovers instances left in a connected/connecting/qr_pending
// state by a previous process. It processes them in batches of five,
// starting each batch's supervisors in parallel with independent failure,
// and sleeps cfg.StaggeredBootDelay between non-final batches. A
// per-instance connect failure is logged and does not abort the rest of
// recovery; cancelling ctx aborts the remaining batches but already
// started supervisors keep running.
func (c *Coordinator) Bootstrap(ctx context.Context) error {
	rows, err := c.registry.ListRecoverable(ctx, c.cfg.MaxInstances)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	c.log.WithField("count", len(rows)).Info().Msg("recovering instances from previous process")

	for start := 0; start < len(rows); start += bootstrapBatchSize {
		end := start + bootstrapBatchSize
		if end > len(rows) {
			end = len(rows)
		}
		batch := rows[start:end]

		var wg sync.WaitGroup
		for _, inst := range batch {
			wg.Add(1)
			go func(inst0 *instance.Instance) {
				defer wg.Done()
				c.startSupervisor(inst0)
				if err := c.supervisorFor(inst0.ID).Connect(ctx); err != nil {
					c.log.WithError(err).WithField("instance", inst0.Name).Error().Msg("recover instance on boot")
				}
			}(inst)
		}
		wg.Wait()

		isLastBatch := end >= len(rows)
		if !isLastBatch {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.StaggeredBootDelay):
			}
		}
	}

	return nil
}

package worker

import (
    "context"
    "log"
    "time"
)

// stuckMessage is written to reservations whose work item was lost between
// the intake commit and the queue publish.  The container set only ever
// existed on the queue, so the reservation cannot be fulfilled anymore.
const stuckMessage = "reservation was never processed; please submit it again"

// SweepStuckPending marks reservations failed that have been pending for
// longer than olderThan with no container links and no payment.  It
// returns how many reservations were marked.  The sweep is idempotent:
// a reservation picked up by a worker in the meantime has links or a
// terminal status and is skipped by the query or the guarded update.
func (f *Fulfiller) SweepStuckPending(ctx context.Context, olderThan time.Duration) (int, error) {
    ids, err := f.reservations.StuckPending(ctx, olderThan)
    if err != nil {
        return 0, err
    }
    marked := 0
    for _, id := range ids {
        if err := f.reservations.MarkFailed(ctx, id, stuckMessage); err != nil {
            log.Printf("worker: sweep failed to mark reservation %d: %v", id, err)
            continue
        }
        log.Printf("worker: sweep marked stuck reservation %d failed", id)
        marked++
    }
    return marked, nil
}

// StartSweep runs SweepStuckPending on a ticker until the context is
// cancelled.  Intended to run as a goroutine next to the queue consumer.
func (f *Fulfiller) StartSweep(ctx context.Context, interval, olderThan time.Duration) {
    ticker := time.NewTicker(interval)
    defer ticker.Stop()
    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
            if _, err := f.SweepStuckPending(ctx, olderThan); err != nil {
                log.Printf("worker: stuck-pending sweep failed: %v", err)
            }
        }
    }
}

// Package worker implements the fulfillment side of the reservation
// pipeline: it turns a queued work item into a consistent container
// allocation, an enforced ship-capacity limit and an initiated payment,
// finishing with exactly one terminal status transition.
package worker

import (
    "context"
    "database/sql"
    "errors"
    "fmt"
    "log"
    "strings"

    "github.com/BalazsVokHeloXD/ShippingManager/internal/model"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/payment"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/queue"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/repository"
)

// errValidation marks a work item whose fields are missing or malformed.
var errValidation = errors.New("missing or invalid work item fields")

// ConflictError reports containers that still have an active assignment:
// their latest reservation's route has not arrived yet.
type ConflictError struct {
    ContainerIDs []int64
}

func (e *ConflictError) Error() string {
    ids := make([]string, len(e.ContainerIDs))
    for i, id := range e.ContainerIDs {
        ids[i] = fmt.Sprintf("%d", id)
    }
    return "containers already reserved or in transit: " + strings.Join(ids, ", ")
}

// CapacityExceededError reports a route whose ship cannot take the
// requested containers on top of the already reserved ones.
type CapacityExceededError struct {
    RouteID   int64
    Capacity  int
    Reserved  int
    Requested int
}

func (e *CapacityExceededError) Error() string {
    return fmt.Sprintf("ship capacity exceeded on route %d: capacity %d, reserved %d, requested %d",
        e.RouteID, e.Capacity, e.Reserved, e.Requested)
}

// Gateway is the slice of the payment client the fulfiller needs.  Tests
// substitute it with a stub or an httptest-backed client.
type Gateway interface {
    Start(ctx context.Context, reservationID, routeID, amount int64) (*payment.Intent, error)
}

// Fulfiller processes reservation work items.  Multiple instances may run
// concurrently against the same database; per-route exclusion comes from
// the route row lock taken inside the reserve phase, not from any
// coordination between workers.
type Fulfiller struct {
    db           *sql.DB
    reservations *repository.ReservationRepo
    routes       *repository.RouteRepo
    containers   *repository.ContainerRepo
    payments     *repository.PaymentRepo
    gateway      Gateway
}

// NewFulfiller constructs a Fulfiller.  All dependencies must be non-nil.
func NewFulfiller(db *sql.DB, reservations *repository.ReservationRepo, routes *repository.RouteRepo, containers *repository.ContainerRepo, payments *repository.PaymentRepo, gateway Gateway) *Fulfiller {
    if db == nil || reservations == nil || routes == nil || containers == nil || payments == nil || gateway == nil {
        panic("nil dependency passed to NewFulfiller")
    }
    return &Fulfiller{
        db:           db,
        reservations: reservations,
        routes:       routes,
        containers:   containers,
        payments:     payments,
        gateway:      gateway,
    }
}

// Process runs one fulfillment attempt and reports whether the work item
// should be requeued.  Domain failures (validation, conflict, capacity,
// unknown route, gateway rejection) are terminal: the reservation is
// marked failed and the item acknowledged.  Transient infrastructure
// failures are requeued exactly once; a redelivered item that fails
// transiently again is also marked failed so the queue never loops.
func (f *Fulfiller) Process(ctx context.Context, req queue.ReservationRequest, redelivered bool) bool {
    err := f.fulfill(ctx, req)
    if err == nil {
        return false
    }
    if isTerminal(err) {
        log.Printf("worker: reservation %d failed: %v", req.ReservationID, err)
        f.markFailed(ctx, req.ReservationID, err.Error())
        return false
    }
    if !redelivered {
        log.Printf("worker: reservation %d hit transient error, requeueing: %v", req.ReservationID, err)
        return true
    }
    log.Printf("worker: reservation %d failed transiently on redelivery, giving up: %v", req.ReservationID, err)
    f.markFailed(ctx, req.ReservationID, "processing failed repeatedly: "+err.Error())
    return false
}

// fulfill executes the two-phase algorithm: a short reserve transaction
// holding the route lock, then the gateway call and a second short
// transaction persisting the payment and the success status.  No lock is
// held across the network call.
func (f *Fulfiller) fulfill(ctx context.Context, req queue.ReservationRequest) error {
    if !req.Valid() {
        return errValidation
    }

    // Idempotency gate: a redelivered item whose reservation already
    // reached a terminal state is a no-op.
    status, err := f.reservations.GetStatus(ctx, req.ReservationID)
    if err != nil {
        return err
    }
    if status.Status != model.StatusPending {
        log.Printf("worker: reservation %d already %s, skipping", req.ReservationID, status.Status)
        return nil
    }

    allocated, err := f.containers.HasLinks(ctx, req.ReservationID)
    if err != nil {
        return err
    }

    var route *repository.RouteInfo
    if allocated {
        // A previous attempt crashed between the reserve and pay phases;
        // resume at pay with the allocation already committed.
        route, err = f.routes.Get(ctx, req.RouteID)
        if err != nil {
            return err
        }
    } else {
        route, err = f.reserve(ctx, req)
        if err != nil {
            return err
        }
    }

    if err := f.pay(ctx, req, route); err != nil {
        if isTerminal(err) {
            // The allocation committed but the payment will never exist;
            // release the containers so they are bookable again.
            f.release(ctx, req, route)
        }
        return err
    }
    log.Printf("worker: reservation %d processed successfully", req.ReservationID)
    return nil
}

// reserve runs the allocation transaction: route lock, conflict check,
// capacity check and the link insert plus eager harbor move.  The route
// row lock makes the check-then-insert sequence exclusive per route; the
// container row locks taken inside the conflict check extend that
// exclusion to attempts on the same containers across different routes.
func (f *Fulfiller) reserve(ctx context.Context, req queue.ReservationRequest) (*repository.RouteInfo, error) {
    tx, err := f.db.BeginTx(ctx, nil)
    if err != nil {
        return nil, err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    route, err := f.routes.GetForUpdateTx(ctx, tx, req.RouteID)
    if err != nil {
        return nil, err
    }

    conflicting, err := f.containers.ConflictingTx(ctx, tx, req.ContainerIDs)
    if err != nil {
        return nil, err
    }
    if len(conflicting) > 0 {
        return nil, &ConflictError{ContainerIDs: conflicting}
    }

    reserved, err := f.routes.ReservedCountTx(ctx, tx, req.RouteID)
    if err != nil {
        return nil, err
    }
    if reserved+len(req.ContainerIDs) > route.Capacity {
        return nil, &CapacityExceededError{
            RouteID:   req.RouteID,
            Capacity:  route.Capacity,
            Reserved:  reserved,
            Requested: len(req.ContainerIDs),
        }
    }

    if err := f.containers.LinkTx(ctx, tx, req.ReservationID, req.ContainerIDs); err != nil {
        return nil, err
    }
    // Eager move: the container counts as relocated the moment it is
    // booked.  The conflict check above relies on this.
    if err := f.containers.MoveToHarborTx(ctx, tx, route.DestinationHarbor, req.ContainerIDs); err != nil {
        return nil, err
    }

    if err := tx.Commit(); err != nil {
        return nil, err
    }
    committed = true
    return route, nil
}

// pay creates the payment intent at the gateway (unless a redelivery
// already did) and commits the payment row together with the success
// status in one short transaction.
func (f *Fulfiller) pay(ctx context.Context, req queue.ReservationRequest, route *repository.RouteInfo) error {
    containerTotal, err := f.containers.TypePriceTotal(ctx, req.ReservationID)
    if err != nil {
        return err
    }
    total := route.Price + containerTotal

    exists, err := f.payments.Exists(ctx, req.ReservationID)
    if err != nil {
        return err
    }

    // The gateway call happens outside any transaction; the reserve-phase
    // locks are long gone and nothing is held open across the network.
    var intent *payment.Intent
    if !exists {
        intent, err = f.gateway.Start(ctx, req.ReservationID, req.RouteID, total)
        if err != nil {
            return err
        }
    }

    tx, err := f.db.BeginTx(ctx, nil)
    if err != nil {
        return err
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()

    if !exists {
        p := &model.Payment{
            ID:          req.ReservationID,
            Transaction: payment.ReservationRef(req.ReservationID),
            Username:    req.UserID,
            Amount:      total,
            Status:      model.PaymentPending,
            PaymentLink: intent.GatewayURL,
        }
        if err := f.payments.CreateTx(ctx, tx, p); err != nil {
            return err
        }
    }

    if err := f.reservations.MarkSuccessTx(ctx, tx, req.ReservationID); err != nil {
        return err
    }
    if err := tx.Commit(); err != nil {
        return err
    }
    committed = true
    return nil
}

// release compensates a committed reserve phase whose pay phase failed
// terminally: the links are removed and the containers moved back to the
// departure harbor.  Best effort; a failure here leaves the containers
// blocked until the route's arrival time passes, which is safe but noisy,
// so it is logged loudly.
func (f *Fulfiller) release(ctx context.Context, req queue.ReservationRequest, route *repository.RouteInfo) {
    tx, err := f.db.BeginTx(ctx, nil)
    if err != nil {
        log.Printf("worker: release of reservation %d failed to start: %v", req.ReservationID, err)
        return
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()
    if _, err := f.containers.UnlinkTx(ctx, tx, req.ReservationID); err != nil {
        log.Printf("worker: release of reservation %d failed to unlink: %v", req.ReservationID, err)
        return
    }
    if err := f.containers.MoveToHarborTx(ctx, tx, route.DepartureHarbor, req.ContainerIDs); err != nil {
        log.Printf("worker: release of reservation %d failed to revert harbor: %v", req.ReservationID, err)
        return
    }
    if err := tx.Commit(); err != nil {
        log.Printf("worker: release of reservation %d failed to commit: %v", req.ReservationID, err)
        return
    }
    committed = true
}

// markFailed writes the terminal failed status through an independent
// write; the fulfillment transaction is already rolled back when this
// runs.  A zero reservation id means the payload never identified a
// reservation and there is nothing to mark.
func (f *Fulfiller) markFailed(ctx context.Context, reservationID int64, message string) {
    if reservationID <= 0 {
        return
    }
    if err := f.reservations.MarkFailed(ctx, reservationID, message); err != nil {
        log.Printf("worker: failed to mark reservation %d failed: %v", reservationID, err)
    }
}

// isTerminal separates domain failures, which must never be retried, from
// transient infrastructure failures, which may be.
func isTerminal(err error) bool {
    var conflict *ConflictError
    var capacity *CapacityExceededError
    switch {
    case errors.Is(err, errValidation),
        errors.Is(err, repository.ErrRouteNotFound),
        errors.Is(err, repository.ErrReservationNotFound),
        errors.Is(err, payment.ErrGatewayRejected):
        return true
    case errors.As(err, &conflict), errors.As(err, &capacity):
        return true
    }
    return false
}

package model

import "time"

// Reservation status values.  A reservation starts as pending and is moved
// exactly once to success or failed by the fulfillment worker; a terminal
// status never reverts to pending.
const (
    StatusPending = "pending"
    StatusSuccess = "success"
    StatusFailed  = "failed"
)

// Reservation records a user's request to move a set of containers along a
// route.  The row is created by the intake API together with its pending
// status and is never mutated afterwards; the linked containers live in
// reservation_container and the outcome in reservation_status.
//
// Fields:
//  ID        – primary key identifier, assigned at intake.
//  Username  – user who made the reservation.
//  RouteID   – route being booked.
//  CreatedAt – creation timestamp.
type Reservation struct {
    ID        int64     // reservation.id
    Username  string    // reservation.username
    RouteID   int64     // reservation.route_id
    CreatedAt time.Time // reservation.created_at
}

// ReservationStatus is the per-reservation status record polled by callers
// until a terminal state is observed.  Error is populated only for failed
// reservations and carries a human-readable message.
type ReservationStatus struct {
    ReservationID int64   // reservation_status.reservation_id
    Status        string  // reservation_status.status
    Error         *string // reservation_status.error (nullable)
}

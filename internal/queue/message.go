// Package queue defines the reservation work item exchanged over the
// message broker and the consumer loop that feeds the fulfillment worker.
package queue

// ReservationQueue is the durable queue carrying reservation work items
// from the intake API to the fulfillment workers.
const ReservationQueue = "reservation_queue"

// ReservationRequest is the unit of work published by intake and consumed
// by the fulfillment worker.  It is never persisted as such; the durable
// copy lives on the broker until the consumer acknowledges it.
type ReservationRequest struct {
    ReservationID int64   `json:"reservationId"`
    UserID        string  `json:"userId"`
    RouteID       int64   `json:"routeId"`
    ContainerIDs  []int64 `json:"containerIds"`
}

// Valid reports whether the work item carries all required fields.
func (r ReservationRequest) Valid() bool {
    return r.ReservationID > 0 && r.UserID != "" && r.RouteID > 0 && len(r.ContainerIDs) > 0
}

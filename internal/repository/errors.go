// Package repository defines error types that are reused across multiple
// repositories. These sentinel values allow higher layers such as
// handlers and the fulfillment worker to distinguish between different
// failure scenarios without inspecting error strings.
package repository

import "errors"

// ErrForbidden is returned when the caller attempts an operation on a
// reservation they do not own. Handlers should translate this into an
// HTTP 403 response.
var ErrForbidden = errors.New("forbidden")

// ErrRouteNotFound is returned when a referenced route does not exist.
// The worker treats this as a terminal fulfillment failure.
var ErrRouteNotFound = errors.New("route not found")

// ErrReservationNotFound is returned when a reservation or its status
// row does not exist.
var ErrReservationNotFound = errors.New("reservation not found")

// ErrPaymentNotFound is returned when no payment row exists for a
// reservation, e.g. when the payment link is requested before the
// worker has fulfilled the reservation.
var ErrPaymentNotFound = errors.New("payment not found")

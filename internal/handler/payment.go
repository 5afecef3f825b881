package handler

import (
    "context"
    "errors"
    "log"
    "net/http"

    "github.com/google/uuid"
    "github.com/labstack/echo/v4"

    "github.com/BalazsVokHeloXD/ShippingManager/internal/middleware"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/payment"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/repository"
)

// StateFetcher is the slice of the gateway client the callback handler
// needs: re-querying the state of a notified payment.
type StateFetcher interface {
    GetState(ctx context.Context, paymentID string) (*payment.State, error)
}

// PaymentHandler exposes the payment link lookup for users and the inbound
// status callback for the gateway.
type PaymentHandler struct {
    Gateway         StateFetcher
    PaymentRepo     *repository.PaymentRepo
    ReservationRepo *repository.ReservationRepo
}

// NewPaymentHandler constructs a PaymentHandler and panics if any dependency is nil.
func NewPaymentHandler(gateway StateFetcher, paymentRepo *repository.PaymentRepo, reservationRepo *repository.ReservationRepo) *PaymentHandler {
    if gateway == nil || paymentRepo == nil || reservationRepo == nil {
        panic("nil dependency passed to NewPaymentHandler")
    }
    return &PaymentHandler{Gateway: gateway, PaymentRepo: paymentRepo, ReservationRepo: reservationRepo}
}

// Search handles POST /v1/payments/search.  Given a reservation id owned
// by the caller it returns the computed total price and the stored gateway
// redirect link.
func (h *PaymentHandler) Search(c echo.Context) error {
    username := middleware.CurrentUsername(c)
    if username == "" {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    var body struct {
        ReservationID int64 `json:"reservationId"`
    }
    if err := c.Bind(&body); err != nil || body.ReservationID <= 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing reservationId"})
    }
    ctx := c.Request().Context()
    owner, err := h.ReservationRepo.OwnerOf(ctx, body.ReservationID)
    if err != nil {
        if errors.Is(err, repository.ErrReservationNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
    }
    if owner != username {
        return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
    }
    total, err := h.ReservationRepo.TotalPrice(ctx, body.ReservationID)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
    }
    link, err := h.PaymentRepo.GetLink(ctx, body.ReservationID)
    if err != nil {
        if errors.Is(err, repository.ErrPaymentNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "payment link not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal server error"})
    }
    return c.JSON(http.StatusOK, echo.Map{
        "price":       total,
        "paymentLink": link,
    })
}

// Callback handles POST /v1/payments/callback, the gateway's status
// notification.  The notification only carries the gateway payment id;
// the authoritative state is re-queried from the gateway, resolved back
// to a reservation via the RES-<id> transaction reference and mapped onto
// the internal payment status enum.  Only that reservation's payment row
// is updated.
func (h *PaymentHandler) Callback(c echo.Context) error {
    var body struct {
        PaymentID string `json:"PaymentId"`
    }
    if err := c.Bind(&body); err != nil || body.PaymentID == "" {
        return c.String(http.StatusBadRequest, "Bad Request")
    }
    if _, err := uuid.Parse(body.PaymentID); err != nil {
        log.Printf("payment-callback: malformed payment id %q", body.PaymentID)
        return c.String(http.StatusBadRequest, "Bad Request")
    }
    ctx := c.Request().Context()
    state, err := h.Gateway.GetState(ctx, body.PaymentID)
    if err != nil {
        if errors.Is(err, payment.ErrGatewayRejected) {
            log.Printf("payment-callback: payment %s not found at gateway", body.PaymentID)
            return c.String(http.StatusNotFound, "Payment not found")
        }
        log.Printf("payment-callback: gateway query failed: %v", err)
        return c.String(http.StatusInternalServerError, "Internal Server Error")
    }
    reservationID, err := payment.ParseRef(state.TransactionRef)
    if err != nil {
        log.Printf("payment-callback: %v", err)
        return c.String(http.StatusBadRequest, "Bad Request")
    }
    newStatus := payment.MapStatus(state.Status)
    if err := h.PaymentRepo.UpdateStatus(ctx, reservationID, newStatus); err != nil {
        log.Printf("payment-callback: update for reservation %d failed: %v", reservationID, err)
        return c.String(http.StatusInternalServerError, "Internal Server Error")
    }
    log.Printf("payment-callback: reservation %d payment status updated to %s", reservationID, newStatus)
    return c.String(http.StatusOK, "OK")
}

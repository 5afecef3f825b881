package handler

import (
    "context"
    "errors"
    "log"
    "net/http"
    "strconv"
    "time"

    "github.com/labstack/echo/v4"

    "github.com/BalazsVokHeloXD/ShippingManager/internal/middleware"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/queue"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/repository"
)

// publishTimeout bounds the post-commit queue hand-off.  It is independent
// of the request deadline; the reservation row is committed by the time the
// publish runs.
const publishTimeout = 10 * time.Second

// WorkPublisher hands reservation work items to the durable queue.  The
// intake handler only depends on this narrow interface so tests can swap
// in a recording stub.
type WorkPublisher interface {
    PublishReservation(ctx context.Context, req queue.ReservationRequest) error
}

// ReservationHandler implements intake, status polling, history and
// deletion for reservations.  Intake never waits for fulfillment: it
// commits the pending reservation, hands the work item to the queue and
// returns the reservation id immediately.
type ReservationHandler struct {
    ReservationRepo *repository.ReservationRepo // reservation + status persistence
    ContainerRepo   *repository.ContainerRepo   // container links and harbor moves
    Publisher       WorkPublisher               // durable queue hand-off
}

// NewReservationHandler constructs a ReservationHandler with the provided
// dependencies.  All of them must be non-nil.
func NewReservationHandler(reservationRepo *repository.ReservationRepo, containerRepo *repository.ContainerRepo, publisher WorkPublisher) *ReservationHandler {
    if reservationRepo == nil || containerRepo == nil || publisher == nil {
        panic("nil dependency passed to NewReservationHandler")
    }
    return &ReservationHandler{
        ReservationRepo: reservationRepo,
        ContainerRepo:   containerRepo,
        Publisher:       publisher,
    }
}

// Create handles POST /v1/reservations.  The body must carry a route id
// and a non-empty list of container ids; the username comes from the
// verified identity token.  In one transaction the reservation row and its
// pending status are inserted; after the commit the work item is published
// to the reservation queue.  A publish failure after the commit is logged
// and still answered with 201: the reservation exists and remains pending
// until the stuck-pending sweep resolves it.
func (h *ReservationHandler) Create(c echo.Context) error {
    username := middleware.CurrentUsername(c)
    if username == "" {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    var body struct {
        RouteID      int64   `json:"routeId"`
        ContainerIDs []int64 `json:"containerIds"`
    }
    if err := c.Bind(&body); err != nil {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
    }
    if body.RouteID <= 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "routeId is required"})
    }
    if len(body.ContainerIDs) == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "containerIds is required"})
    }
    // deduplicate container ids so a sloppy client cannot double-book
    // the same container within one request
    unique := make([]int64, 0, len(body.ContainerIDs))
    seen := make(map[int64]struct{})
    for _, id := range body.ContainerIDs {
        if id <= 0 {
            continue
        }
        if _, ok := seen[id]; !ok {
            seen[id] = struct{}{}
            unique = append(unique, id)
        }
    }
    if len(unique) == 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "no valid container IDs provided"})
    }

    ctx := c.Request().Context()
    tx, err := h.ReservationRepo.DB().BeginTx(ctx, nil)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()
    reservationID, err := h.ReservationRepo.CreateTx(ctx, tx, username, body.RouteID)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create reservation"})
    }
    if err := tx.Commit(); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
    }
    committed = true

    item := queue.ReservationRequest{
        ReservationID: reservationID,
        UserID:        username,
        RouteID:       body.RouteID,
        ContainerIDs:  unique,
    }
    // The reservation is already durable; publish on a detached context so
    // a client disconnect cannot cancel the hand-off and strand a
    // fulfillable reservation in the sweep.
    pubCtx, cancel := context.WithTimeout(context.Background(), publishTimeout)
    defer cancel()
    if err := h.Publisher.PublishReservation(pubCtx, item); err != nil {
        // The work item is lost; the reservation stays pending until the
        // sweep marks it failed.
        log.Printf("intake: publish of reservation %d failed: %v", reservationID, err)
    }

    return c.JSON(http.StatusCreated, echo.Map{
        "message":       "Reservation request received. Processing...",
        "reservationId": reservationID,
    })
}

// Status handles GET /v1/reservations/:id/status.  It returns the current
// status and, for failed reservations, the error message.  Callers poll it
// until a terminal state is observed.
func (h *ReservationHandler) Status(c echo.Context) error {
    id, err := strconv.ParseInt(c.Param("id"), 10, 64)
    if err != nil || id <= 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
    }
    st, err := h.ReservationRepo.GetStatus(c.Request().Context(), id)
    if err != nil {
        if errors.Is(err, repository.ErrReservationNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cannot fetch status"})
    }
    resp := echo.Map{"status": st.Status}
    if st.Error != nil {
        resp["error"] = *st.Error
    }
    return c.JSON(http.StatusOK, resp)
}

// List handles GET /v1/reservations.  It returns the caller's fulfilled
// reservations with route, container and payment details, newest first.
func (h *ReservationHandler) List(c echo.Context) error {
    username := middleware.CurrentUsername(c)
    if username == "" {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    details, err := h.ReservationRepo.ListByUser(c.Request().Context(), username)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch reservation history"})
    }
    return c.JSON(http.StatusOK, details)
}

// Delete handles DELETE /v1/reservations/:id.  In one transaction it
// verifies ownership, reverts the booked containers to the route's
// departure harbor and removes the payment, links, status and reservation.
func (h *ReservationHandler) Delete(c echo.Context) error {
    username := middleware.CurrentUsername(c)
    if username == "" {
        return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
    }
    id, err := strconv.ParseInt(c.Param("id"), 10, 64)
    if err != nil || id <= 0 {
        return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid reservation id"})
    }
    ctx := c.Request().Context()
    tx, err := h.ReservationRepo.DB().BeginTx(ctx, nil)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
    }
    committed := false
    defer func() {
        if !committed {
            _ = tx.Rollback()
        }
    }()
    _, departureHarbor, err := h.ReservationRepo.GetForDeleteTx(ctx, tx, id, username)
    if err != nil {
        if errors.Is(err, repository.ErrReservationNotFound) {
            return c.JSON(http.StatusNotFound, echo.Map{"error": "reservation not found"})
        }
        if errors.Is(err, repository.ErrForbidden) {
            return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
        }
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete reservation"})
    }
    containerIDs, err := h.ContainerRepo.LinkedIDsTx(ctx, tx, id)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete reservation"})
    }
    if err := h.ContainerRepo.MoveToHarborTx(ctx, tx, departureHarbor, containerIDs); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to revert containers"})
    }
    if err := h.ReservationRepo.DeleteTx(ctx, tx, id); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to delete reservation"})
    }
    if err := tx.Commit(); err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
    }
    committed = true
    return c.JSON(http.StatusOK, echo.Map{"message": "Reservation deleted and containers reverted"})
}

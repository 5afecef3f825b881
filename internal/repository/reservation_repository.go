package repository

import (
    "context"
    "database/sql"
    "strings"
    "time"

    "github.com/BalazsVokHeloXD/ShippingManager/internal/model"
)

// ReservationRepo provides persistence for reservations, their status rows
// and the reservation history view.  A reservation groups one or more
// containers booked on a route by a single user.  All timestamp fields are
// assumed to be stored in UTC.
type ReservationRepo struct {
    db *sql.DB
}

// NewReservationRepo returns a new ReservationRepo bound to the given database.
func NewReservationRepo(db *sql.DB) *ReservationRepo { return &ReservationRepo{db: db} }

// DB exposes the underlying handle so callers can open transactions that
// span multiple repositories.
func (r *ReservationRepo) DB() *sql.DB { return r.db }

// CreateTx inserts a new reservation and its pending status row within the
// scope of an existing transaction.  Both inserts share the transaction so
// a reservation can never exist without a status.  It returns the generated
// reservation id; the caller must commit or roll back.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, username string, routeID int64) (int64, error) {
    const ins = `INSERT INTO reservation (username, route_id) VALUES (?, ?)`
    result, err := tx.ExecContext(ctx, ins, username, routeID)
    if err != nil {
        return 0, err
    }
    id, err := result.LastInsertId()
    if err != nil {
        return 0, err
    }
    const insStatus = `INSERT INTO reservation_status (reservation_id, status) VALUES (?, ?)`
    if _, err := tx.ExecContext(ctx, insStatus, id, model.StatusPending); err != nil {
        return 0, err
    }
    return id, nil
}

// GetStatus returns the status row for a reservation.  It returns
// ErrReservationNotFound when no row exists.
func (r *ReservationRepo) GetStatus(ctx context.Context, reservationID int64) (*model.ReservationStatus, error) {
    const q = `SELECT reservation_id, status, error FROM reservation_status WHERE reservation_id = ?`
    var st model.ReservationStatus
    var msg sql.NullString
    err := r.db.QueryRowContext(ctx, q, reservationID).Scan(&st.ReservationID, &st.Status, &msg)
    if err == sql.ErrNoRows {
        return nil, ErrReservationNotFound
    }
    if err != nil {
        return nil, err
    }
    if msg.Valid {
        m := msg.String
        st.Error = &m
    }
    return &st, nil
}

// MarkSuccessTx moves a pending reservation to success inside the given
// transaction.  The WHERE clause guards the terminal-never-reverts
// invariant: a row that already reached a terminal state is not touched.
func (r *ReservationRepo) MarkSuccessTx(ctx context.Context, tx *sql.Tx, reservationID int64) error {
    const q = `UPDATE reservation_status SET status = ?, error = NULL WHERE reservation_id = ? AND status = ?`
    _, err := tx.ExecContext(ctx, q, model.StatusSuccess, reservationID, model.StatusPending)
    return err
}

// MarkFailed moves a pending reservation to failed with a descriptive
// message.  It deliberately runs on the plain connection rather than a
// transaction: the worker calls it after rolling back the fulfillment
// attempt, when no usable transaction exists anymore.
func (r *ReservationRepo) MarkFailed(ctx context.Context, reservationID int64, message string) error {
    const q = `UPDATE reservation_status SET status = ?, error = ? WHERE reservation_id = ? AND status = ?`
    _, err := r.db.ExecContext(ctx, q, model.StatusFailed, message, reservationID, model.StatusPending)
    return err
}

// TotalPrice computes route price plus the sum of the linked containers'
// type fees for a reservation.  It returns ErrReservationNotFound when the
// reservation does not exist.
func (r *ReservationRepo) TotalPrice(ctx context.Context, reservationID int64) (int64, error) {
    const q = `SELECT ro.price + COALESCE(SUM(ct.price), 0)
               FROM reservation r
               JOIN route ro ON ro.id = r.route_id
               LEFT JOIN reservation_container rc ON rc.reservation_id = r.id
               LEFT JOIN container c ON c.id = rc.container_id
               LEFT JOIN container_type ct ON ct.id = c.type_id
               WHERE r.id = ?
               GROUP BY ro.price`
    var total int64
    err := r.db.QueryRowContext(ctx, q, reservationID).Scan(&total)
    if err == sql.ErrNoRows {
        return 0, ErrReservationNotFound
    }
    if err != nil {
        return 0, err
    }
    return total, nil
}

// OwnerOf returns the username that created a reservation, or
// ErrReservationNotFound.
func (r *ReservationRepo) OwnerOf(ctx context.Context, reservationID int64) (string, error) {
    const q = `SELECT username FROM reservation WHERE id = ?`
    var username string
    err := r.db.QueryRowContext(ctx, q, reservationID).Scan(&username)
    if err == sql.ErrNoRows {
        return "", ErrReservationNotFound
    }
    if err != nil {
        return "", err
    }
    return username, nil
}

// ReservationDetail is one entry of a user's reservation history.  It
// aggregates route, ship and harbor information together with the booked
// containers, the computed total price and the current payment status.
type ReservationDetail struct {
    ReservationID int64             `json:"reservationId"`
    CreatedAt     string            `json:"createdAt"`
    TotalPrice    int64             `json:"totalPrice"`
    PaymentStatus string            `json:"paymentStatus"`
    Route         RouteSummary      `json:"route"`
    Containers    []ContainerDetail `json:"containers"`
}

// RouteSummary carries the route fields shown in the history view.
type RouteSummary struct {
    ID                int64  `json:"id"`
    DepartureTime     string `json:"departure_time"`
    ArrivalTime       string `json:"arrival_time"`
    Price             int64  `json:"price"`
    ShipName          string `json:"shipname"`
    DepartureHarbor   string `json:"departure_harbor"`
    DepartureFlag     string `json:"departure_flag"`
    DestinationHarbor string `json:"destination_harbor"`
    DestinationFlag   string `json:"destination_flag"`
}

// ContainerDetail describes one container booked under a reservation.
type ContainerDetail struct {
    ID    int64  `json:"id"`
    Name  string `json:"name"`
    Size  string `json:"size"`
    Type  string `json:"type"`
    Price int64  `json:"price"`
}

// ListByUser returns all successfully fulfilled reservations of the given
// user, newest first, with route, container and payment details populated.
// Containers for all reservations are fetched in a single IN query.
func (r *ReservationRepo) ListByUser(ctx context.Context, username string) ([]ReservationDetail, error) {
    const q = `SELECT r.id, r.created_at,
                      ro.id, ro.departure_time, ro.arrival_time, ro.price,
                      sh.name,
                      dep_h.name, dep_h.country_iso3,
                      arr_h.name, arr_h.country_iso3
               FROM reservation r
               JOIN reservation_status rs ON rs.reservation_id = r.id
               JOIN route ro ON ro.id = r.route_id
               JOIN ship sh ON sh.id = ro.ship
               JOIN harbor dep_h ON dep_h.id = ro.departure_harbor
               JOIN harbor arr_h ON arr_h.id = ro.destination_harbor
               WHERE r.username = ? AND rs.status = ?
               ORDER BY r.created_at DESC`
    rows, err := r.db.QueryContext(ctx, q, username, model.StatusSuccess)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    details := make([]ReservationDetail, 0)
    index := make(map[int64]int)
    for rows.Next() {
        var d ReservationDetail
        var createdAt time.Time
        if err := rows.Scan(
            &d.ReservationID, &createdAt,
            &d.Route.ID, &d.Route.DepartureTime, &d.Route.ArrivalTime, &d.Route.Price,
            &d.Route.ShipName,
            &d.Route.DepartureHarbor, &d.Route.DepartureFlag,
            &d.Route.DestinationHarbor, &d.Route.DestinationFlag,
        ); err != nil {
            return nil, err
        }
        d.CreatedAt = createdAt.UTC().Format(time.RFC3339)
        d.TotalPrice = d.Route.Price
        d.PaymentStatus = model.PaymentPending
        d.Containers = []ContainerDetail{}
        index[d.ReservationID] = len(details)
        details = append(details, d)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    if len(details) == 0 {
        return details, nil
    }
    // Fetch containers for all reservations in one query
    ids := make([]interface{}, 0, len(details))
    placeholders := make([]string, 0, len(details))
    for _, d := range details {
        ids = append(ids, d.ReservationID)
        placeholders = append(placeholders, "?")
    }
    contQ := `SELECT rc.reservation_id, c.id, c.name, c.size, ct.type, ct.price
              FROM reservation_container rc
              JOIN container c ON c.id = rc.container_id
              JOIN container_type ct ON ct.id = c.type_id
              WHERE rc.reservation_id IN (` + strings.Join(placeholders, ",") + `)
              ORDER BY rc.reservation_id, c.id`
    crows, err := r.db.QueryContext(ctx, contQ, ids...)
    if err != nil {
        return nil, err
    }
    defer crows.Close()
    for crows.Next() {
        var rid int64
        var cd ContainerDetail
        if err := crows.Scan(&rid, &cd.ID, &cd.Name, &cd.Size, &cd.Type, &cd.Price); err != nil {
            return nil, err
        }
        idx, ok := index[rid]
        if !ok {
            continue
        }
        details[idx].Containers = append(details[idx].Containers, cd)
        details[idx].TotalPrice += cd.Price
    }
    if err := crows.Err(); err != nil {
        return nil, err
    }
    // Overlay payment status where a payment row exists
    payQ := `SELECT id, status FROM payment WHERE id IN (` + strings.Join(placeholders, ",") + `)`
    prows, err := r.db.QueryContext(ctx, payQ, ids...)
    if err != nil {
        return nil, err
    }
    defer prows.Close()
    for prows.Next() {
        var rid int64
        var status string
        if err := prows.Scan(&rid, &status); err != nil {
            return nil, err
        }
        if idx, ok := index[rid]; ok {
            details[idx].PaymentStatus = status
        }
    }
    if err := prows.Err(); err != nil {
        return nil, err
    }
    return details, nil
}

// GetForDeleteTx loads the route id and departure harbor of a reservation
// within a transaction, validating ownership.  It returns
// ErrReservationNotFound when the reservation does not exist and
// ErrForbidden when it belongs to a different user.
func (r *ReservationRepo) GetForDeleteTx(ctx context.Context, tx *sql.Tx, reservationID int64, username string) (routeID, departureHarbor int64, err error) {
    const q = `SELECT r.username, r.route_id, ro.departure_harbor
               FROM reservation r
               JOIN route ro ON ro.id = r.route_id
               WHERE r.id = ?`
    var owner string
    err = tx.QueryRowContext(ctx, q, reservationID).Scan(&owner, &routeID, &departureHarbor)
    if err == sql.ErrNoRows {
        return 0, 0, ErrReservationNotFound
    }
    if err != nil {
        return 0, 0, err
    }
    if owner != username {
        return 0, 0, ErrForbidden
    }
    return routeID, departureHarbor, nil
}

// DeleteTx removes a reservation together with its payment, container links
// and status row.  Container harbor reversion is the caller's concern; it
// must happen in the same transaction before the links disappear.
func (r *ReservationRepo) DeleteTx(ctx context.Context, tx *sql.Tx, reservationID int64) error {
    for _, q := range []string{
        `DELETE FROM payment WHERE id = ?`,
        `DELETE FROM reservation_container WHERE reservation_id = ?`,
        `DELETE FROM reservation_status WHERE reservation_id = ?`,
        `DELETE FROM reservation WHERE id = ?`,
    } {
        if _, err := tx.ExecContext(ctx, q, reservationID); err != nil {
            return err
        }
    }
    return nil
}

// StuckPending returns ids of reservations that have been pending for longer
// than the given age and show no trace of worker activity: no container
// links and no payment.  These are the victims of a crash between the
// intake commit and the queue publish; their work item is lost for good,
// so the sweep marks them failed.
func (r *ReservationRepo) StuckPending(ctx context.Context, olderThan time.Duration) ([]int64, error) {
    const q = `SELECT r.id
               FROM reservation r
               JOIN reservation_status rs ON rs.reservation_id = r.id
               WHERE rs.status = ?
                 AND r.created_at < (NOW() - INTERVAL ? SECOND)
                 AND NOT EXISTS (SELECT 1 FROM reservation_container rc WHERE rc.reservation_id = r.id)
                 AND NOT EXISTS (SELECT 1 FROM payment p WHERE p.id = r.id)`
    rows, err := r.db.QueryContext(ctx, q, model.StatusPending, int64(olderThan.Seconds()))
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var ids []int64
    for rows.Next() {
        var id int64
        if err := rows.Scan(&id); err != nil {
            return nil, err
        }
        ids = append(ids, id)
    }
    return ids, rows.Err()
}

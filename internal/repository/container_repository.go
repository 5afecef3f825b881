package repository

import (
    "context"
    "database/sql"
    "strings"
)

// ContainerRepo handles container availability checks, allocation links and
// the eager harbor move performed when a reservation is fulfilled.
type ContainerRepo struct {
    db *sql.DB
}

// NewContainerRepo constructs a ContainerRepo given a DB handle.
func NewContainerRepo(db *sql.DB) *ContainerRepo { return &ContainerRepo{db: db} }

// ConflictingTx returns the subset of the requested containers that still
// have an active assignment: their most recently created reservation link
// points at a route whose arrival time lies in the future.  Only the latest
// link per container counts; once the arrival time has passed the container
// is free again at its stored harbor.
//
// The container rows are locked first.  The route row lock held by the
// caller only serializes attempts on the same route; two workers booking
// the same container on different routes hold different route locks, and
// without the container locks both snapshot reads would see no active
// link and both would insert one.  The locking read forces the later
// transaction to wait and then observe the earlier one's committed link.
func (r *ContainerRepo) ConflictingTx(ctx context.Context, tx *sql.Tx, containerIDs []int64) ([]int64, error) {
    if len(containerIDs) == 0 {
        return nil, nil
    }
    placeholders := placeholderList(len(containerIDs))
    // ORDER BY id keeps the lock acquisition order deterministic so two
    // overlapping requests cannot deadlock on each other.
    lock := `SELECT id FROM container WHERE id IN (` + placeholders + `) ORDER BY id FOR UPDATE`
    lrows, err := tx.QueryContext(ctx, lock, int64Args(containerIDs)...)
    if err != nil {
        return nil, err
    }
    for lrows.Next() {
        var id int64
        if err := lrows.Scan(&id); err != nil {
            lrows.Close()
            return nil, err
        }
    }
    if err := lrows.Err(); err != nil {
        lrows.Close()
        return nil, err
    }
    lrows.Close()
    query := `SELECT c.id
              FROM container c
              JOIN (
                  SELECT t.container_id, t.arrival_time
                  FROM (
                      SELECT rc.container_id, ro.arrival_time,
                             ROW_NUMBER() OVER (PARTITION BY rc.container_id ORDER BY rc.id DESC) AS rn
                      FROM reservation_container rc
                      JOIN reservation r ON r.id = rc.reservation_id
                      JOIN route ro ON ro.id = r.route_id
                  ) t
                  WHERE t.rn = 1
              ) last_res ON last_res.container_id = c.id
              WHERE c.id IN (` + placeholders + `)
                AND last_res.arrival_time > NOW()`
    rows, err := tx.QueryContext(ctx, query, int64Args(containerIDs)...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    var conflicting []int64
    for rows.Next() {
        var id int64
        if err := rows.Scan(&id); err != nil {
            return nil, err
        }
        conflicting = append(conflicting, id)
    }
    return conflicting, rows.Err()
}

// LinkTx inserts the reservation↔container links in a single statement.
// Passing an empty slice has no effect and returns nil.
func (r *ContainerRepo) LinkTx(ctx context.Context, tx *sql.Tx, reservationID int64, containerIDs []int64) error {
    if len(containerIDs) == 0 {
        return nil
    }
    query := `INSERT INTO reservation_container (reservation_id, container_id) VALUES `
    args := make([]interface{}, 0, len(containerIDs)*2)
    for i, id := range containerIDs {
        if i > 0 {
            query += ","
        }
        query += "(?, ?)"
        args = append(args, reservationID, id)
    }
    _, err := tx.ExecContext(ctx, query, args...)
    return err
}

// MoveToHarborTx sets the harbor of the given containers.  The worker calls
// it with the destination harbor when allocating (the eager move that backs
// the conflict window) and with the departure harbor when compensating a
// failed pay phase or deleting a reservation.
func (r *ContainerRepo) MoveToHarborTx(ctx context.Context, tx *sql.Tx, harborID int64, containerIDs []int64) error {
    if len(containerIDs) == 0 {
        return nil
    }
    query := `UPDATE container SET harbor_id = ? WHERE id IN (` + placeholderList(len(containerIDs)) + `)`
    args := append([]interface{}{harborID}, int64Args(containerIDs)...)
    _, err := tx.ExecContext(ctx, query, args...)
    return err
}

// UnlinkTx removes all links of a reservation and returns how many rows
// were deleted.  Used by the worker's compensation path.
func (r *ContainerRepo) UnlinkTx(ctx context.Context, tx *sql.Tx, reservationID int64) (int64, error) {
    const q = `DELETE FROM reservation_container WHERE reservation_id = ?`
    result, err := tx.ExecContext(ctx, q, reservationID)
    if err != nil {
        return 0, err
    }
    return result.RowsAffected()
}

// HasLinks reports whether any container links exist for a reservation.
// The worker uses it as the idempotency gate: links present while the
// status is still pending mean a previous attempt crashed between the
// reserve and pay phases.
func (r *ContainerRepo) HasLinks(ctx context.Context, reservationID int64) (bool, error) {
    const q = `SELECT EXISTS(SELECT 1 FROM reservation_container WHERE reservation_id = ?)`
    var exists bool
    if err := r.db.QueryRowContext(ctx, q, reservationID).Scan(&exists); err != nil {
        return false, err
    }
    return exists, nil
}

// LinkedIDsTx returns the container ids linked to a reservation within a
// transaction.
func (r *ContainerRepo) LinkedIDsTx(ctx context.Context, tx *sql.Tx, reservationID int64) ([]int64, error) {
    const q = `SELECT container_id FROM reservation_container WHERE reservation_id = ?`
    rows, err := tx.QueryContext(ctx, q, reservationID)
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

// TypePriceTotal sums the container type fees of all containers linked to
// a reservation.
func (r *ContainerRepo) TypePriceTotal(ctx context.Context, reservationID int64) (int64, error) {
    const q = `SELECT COALESCE(SUM(ct.price), 0)
               FROM reservation_container rc
               JOIN container c ON c.id = rc.container_id
               JOIN container_type ct ON ct.id = c.type_id
               WHERE rc.reservation_id = ?`
    var total int64
    if err := r.db.QueryRowContext(ctx, q, reservationID).Scan(&total); err != nil {
        return 0, err
    }
    return total, nil
}

// placeholderList builds "?, ?, ..." for IN clauses.
func placeholderList(n int) string {
    parts := make([]string, n)
    for i := range parts {
        parts[i] = "?"
    }
    return strings.Join(parts, ",")
}

func int64Args(ids []int64) []interface{} {
    args := make([]interface{}, len(ids))
    for i, id := range ids {
        args[i] = id
    }
    return args
}

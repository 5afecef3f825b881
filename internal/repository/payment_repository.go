package repository

import (
    "context"
    "database/sql"

    "github.com/BalazsVokHeloXD/ShippingManager/internal/model"
)

// PaymentRepo persists payment rows.  The row id equals the reservation id,
// so Exists doubles as the check-before-act guard that keeps payment
// creation idempotent across queue redeliveries.
type PaymentRepo struct {
    db *sql.DB
}

// NewPaymentRepo constructs a PaymentRepo given a DB handle.
func NewPaymentRepo(db *sql.DB) *PaymentRepo { return &PaymentRepo{db: db} }

// CreateTx inserts a payment row within the given transaction.
func (r *PaymentRepo) CreateTx(ctx context.Context, tx *sql.Tx, p *model.Payment) error {
    const q = `INSERT INTO payment (id, transaction, username, amount, status, payment_link)
               VALUES (?, ?, ?, ?, ?, ?)`
    _, err := tx.ExecContext(ctx, q, p.ID, p.Transaction, p.Username, p.Amount, p.Status, p.PaymentLink)
    return err
}

// Exists reports whether a payment row exists for a reservation.
func (r *PaymentRepo) Exists(ctx context.Context, reservationID int64) (bool, error) {
    const q = `SELECT EXISTS(SELECT 1 FROM payment WHERE id = ?)`
    var exists bool
    if err := r.db.QueryRowContext(ctx, q, reservationID).Scan(&exists); err != nil {
        return false, err
    }
    return exists, nil
}

// GetLink returns the stored gateway redirect link for a reservation, or
// ErrPaymentNotFound when no payment row exists.
func (r *PaymentRepo) GetLink(ctx context.Context, reservationID int64) (string, error) {
    const q = `SELECT payment_link FROM payment WHERE id = ?`
    var link string
    err := r.db.QueryRowContext(ctx, q, reservationID).Scan(&link)
    if err == sql.ErrNoRows {
        return "", ErrPaymentNotFound
    }
    if err != nil {
        return "", err
    }
    return link, nil
}

// UpdateStatus sets the payment status of a reservation.  Only the gateway
// callback handler calls this; the worker never mutates a payment after
// creating it.
func (r *PaymentRepo) UpdateStatus(ctx context.Context, reservationID int64, status string) error {
    const q = `UPDATE payment SET status = ? WHERE id = ?`
    _, err := r.db.ExecContext(ctx, q, status, reservationID)
    return err
}

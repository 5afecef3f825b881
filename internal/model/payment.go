package model

// Payment status values.  A payment row is created as Pending by the
// fulfillment worker; afterwards only the gateway callback moves it, using
// the mapping Succeeded→Settled, Failed|Canceled→Due, Expired→Overdue.
const (
    PaymentPending = "Pending"
    PaymentSettled = "Settled"
    PaymentDue     = "Due"
    PaymentOverdue = "Overdue"
)

// Payment holds the gateway transaction created for a fulfilled reservation.
// The primary key equals the reservation id, which is what makes payment
// creation idempotent across queue redeliveries.
//
// Fields:
//  ID          – reservation id this payment belongs to.
//  Transaction – gateway transaction reference (RES-<id>).
//  Username    – paying user.
//  Amount      – total amount: route price plus container type fees.
//  Status      – one of Pending, Settled, Due, Overdue.
//  PaymentLink – gateway redirect URL where the user completes payment.
type Payment struct {
    ID          int64  // payment.id
    Transaction string // payment.transaction
    Username    string // payment.username
    Amount      int64  // payment.amount
    Status      string // payment.status
    PaymentLink string // payment.payment_link
}

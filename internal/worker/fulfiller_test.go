package worker

import (
    "context"
    "errors"
    "fmt"
    "regexp"
    "testing"
    "time"

    "github.com/DATA-DOG/go-sqlmock"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/BalazsVokHeloXD/ShippingManager/internal/payment"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/queue"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/repository"
)

// stubGateway records Start calls and returns a canned intent or error.
type stubGateway struct {
    intent *payment.Intent
    err    error
    calls  int
}

func (s *stubGateway) Start(ctx context.Context, reservationID, routeID, amount int64) (*payment.Intent, error) {
    s.calls++
    if s.err != nil {
        return nil, s.err
    }
    return s.intent, nil
}

func newFulfiller(t *testing.T, gw Gateway) (*Fulfiller, sqlmock.Sqlmock) {
    t.Helper()
    db, mock, err := sqlmock.New()
    require.NoError(t, err)
    t.Cleanup(func() { _ = db.Close() })
    f := NewFulfiller(
        db,
        repository.NewReservationRepo(db),
        repository.NewRouteRepo(db),
        repository.NewContainerRepo(db),
        repository.NewPaymentRepo(db),
        gw,
    )
    return f, mock
}

func pendingStatusRows(reservationID int64) *sqlmock.Rows {
    return sqlmock.NewRows([]string{"reservation_id", "status", "error"}).
        AddRow(reservationID, "pending", nil)
}

func routeInfoRows(price int64, departure, destination int64, capacity int) *sqlmock.Rows {
    return sqlmock.NewRows([]string{"id", "price", "departure_harbor", "destination_harbor", "arrival_time", "capacity"}).
        AddRow(10, price, departure, destination, time.Now().Add(48*time.Hour), capacity)
}

var workItem = queue.ReservationRequest{
    ReservationID: 1,
    UserID:        "alice",
    RouteID:       10,
    ContainerIDs:  []int64{101, 102},
}

func TestProcessSuccess(t *testing.T) {
    gw := &stubGateway{intent: &payment.Intent{PaymentID: "pid", GatewayURL: "https://gateway/pay/pid"}}
    f, mock := newFulfiller(t, gw)

    mock.ExpectQuery("SELECT reservation_id, status, error FROM reservation_status").
        WithArgs(int64(1)).WillReturnRows(pendingStatusRows(1))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM reservation_container")).
        WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"e"}).AddRow(0))

    // reserve phase
    mock.ExpectBegin()
    mock.ExpectQuery("SELECT r.id, r.price, r.departure_harbor, r.destination_harbor, r.arrival_time, s.capacity").
        WithArgs(int64(10)).WillReturnRows(routeInfoRows(1000, 5, 7, 2))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM container WHERE id IN (?,?) ORDER BY id FOR UPDATE")).
        WithArgs(int64(101), int64(102)).
        WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101).AddRow(102))
    mock.ExpectQuery("SELECT c.id FROM container c JOIN").
        WithArgs(int64(101), int64(102)).WillReturnRows(sqlmock.NewRows([]string{"id"}))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM reservation_container rc")).
        WithArgs(int64(10)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
    mock.ExpectExec("INSERT INTO reservation_container").
        WithArgs(int64(1), int64(101), int64(1), int64(102)).
        WillReturnResult(sqlmock.NewResult(1, 2))
    mock.ExpectExec("UPDATE container SET harbor_id").
        WithArgs(int64(7), int64(101), int64(102)).
        WillReturnResult(sqlmock.NewResult(0, 2))
    mock.ExpectCommit()

    // pay phase
    mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(ct.price), 0)")).
        WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(500))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM payment")).
        WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"e"}).AddRow(0))
    mock.ExpectBegin()
    mock.ExpectExec("INSERT INTO payment").
        WithArgs(int64(1), "RES-1", "alice", int64(1500), "Pending", "https://gateway/pay/pid").
        WillReturnResult(sqlmock.NewResult(1, 1))
    mock.ExpectExec("UPDATE reservation_status SET status").
        WithArgs("success", int64(1), "pending").
        WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectCommit()

    requeue := f.Process(context.Background(), workItem, false)
    assert.False(t, requeue)
    assert.Equal(t, 1, gw.calls)
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessCapacityExceeded(t *testing.T) {
    gw := &stubGateway{}
    f, mock := newFulfiller(t, gw)

    mock.ExpectQuery("SELECT reservation_id, status, error FROM reservation_status").
        WithArgs(int64(1)).WillReturnRows(pendingStatusRows(1))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM reservation_container")).
        WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"e"}).AddRow(0))

    mock.ExpectBegin()
    mock.ExpectQuery("SELECT r.id, r.price, r.departure_harbor, r.destination_harbor, r.arrival_time, s.capacity").
        WithArgs(int64(10)).WillReturnRows(routeInfoRows(1000, 5, 7, 2))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM container WHERE id IN (?,?) ORDER BY id FOR UPDATE")).
        WithArgs(int64(101), int64(102)).
        WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101).AddRow(102))
    mock.ExpectQuery("SELECT c.id FROM container c JOIN").
        WithArgs(int64(101), int64(102)).WillReturnRows(sqlmock.NewRows([]string{"id"}))
    // the ship already carries two containers, capacity 2
    mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM reservation_container rc")).
        WithArgs(int64(10)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))
    mock.ExpectRollback()

    mock.ExpectExec("UPDATE reservation_status SET status").
        WithArgs("failed", sqlmock.AnyArg(), int64(1), "pending").
        WillReturnResult(sqlmock.NewResult(0, 1))

    requeue := f.Process(context.Background(), workItem, false)
    assert.False(t, requeue, "capacity overrun is terminal, never requeued")
    assert.Equal(t, 0, gw.calls, "no payment intent may be created for a failed allocation")
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessConflict(t *testing.T) {
    gw := &stubGateway{}
    f, mock := newFulfiller(t, gw)

    mock.ExpectQuery("SELECT reservation_id, status, error FROM reservation_status").
        WithArgs(int64(1)).WillReturnRows(pendingStatusRows(1))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM reservation_container")).
        WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"e"}).AddRow(0))

    mock.ExpectBegin()
    mock.ExpectQuery("SELECT r.id, r.price, r.departure_harbor, r.destination_harbor, r.arrival_time, s.capacity").
        WithArgs(int64(10)).WillReturnRows(routeInfoRows(1000, 5, 7, 10))
    // container 101 is still in transit
    mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM container WHERE id IN (?,?) ORDER BY id FOR UPDATE")).
        WithArgs(int64(101), int64(102)).
        WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101).AddRow(102))
    mock.ExpectQuery("SELECT c.id FROM container c JOIN").
        WithArgs(int64(101), int64(102)).
        WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))
    mock.ExpectRollback()

    mock.ExpectExec("UPDATE reservation_status SET status").
        WithArgs("failed", "containers already reserved or in transit: 101", int64(1), "pending").
        WillReturnResult(sqlmock.NewResult(0, 1))

    requeue := f.Process(context.Background(), workItem, false)
    assert.False(t, requeue)
    assert.Equal(t, 0, gw.calls)
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessSkipsTerminalReservation(t *testing.T) {
    gw := &stubGateway{}
    f, mock := newFulfiller(t, gw)

    // status is already terminal: nothing else may be touched
    mock.ExpectQuery("SELECT reservation_id, status, error FROM reservation_status").
        WithArgs(int64(1)).
        WillReturnRows(sqlmock.NewRows([]string{"reservation_id", "status", "error"}).AddRow(1, "success", nil))

    requeue := f.Process(context.Background(), workItem, true)
    assert.False(t, requeue)
    assert.Equal(t, 0, gw.calls)
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessResumesPayPhaseAfterCrash(t *testing.T) {
    // Links and payment already exist; status is still pending because the
    // previous worker died between its final commit and the ack.  The
    // redelivered item must finish the status transition without a second
    // allocation or a second payment intent.
    gw := &stubGateway{}
    f, mock := newFulfiller(t, gw)

    mock.ExpectQuery("SELECT reservation_id, status, error FROM reservation_status").
        WithArgs(int64(1)).WillReturnRows(pendingStatusRows(1))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM reservation_container")).
        WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"e"}).AddRow(1))
    mock.ExpectQuery("SELECT r.id, r.price, r.departure_harbor, r.destination_harbor, r.arrival_time, s.capacity").
        WithArgs(int64(10)).WillReturnRows(routeInfoRows(1000, 5, 7, 2))

    mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(ct.price), 0)")).
        WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(500))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM payment")).
        WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"e"}).AddRow(1))
    mock.ExpectBegin()
    mock.ExpectExec("UPDATE reservation_status SET status").
        WithArgs("success", int64(1), "pending").
        WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectCommit()

    requeue := f.Process(context.Background(), workItem, true)
    assert.False(t, requeue)
    assert.Equal(t, 0, gw.calls, "redelivery must not create a duplicate payment intent")
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessGatewayRejectionReleasesAllocation(t *testing.T) {
    gw := &stubGateway{err: fmt.Errorf("%w: start returned 400", payment.ErrGatewayRejected)}
    f, mock := newFulfiller(t, gw)

    mock.ExpectQuery("SELECT reservation_id, status, error FROM reservation_status").
        WithArgs(int64(1)).WillReturnRows(pendingStatusRows(1))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM reservation_container")).
        WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"e"}).AddRow(0))

    mock.ExpectBegin()
    mock.ExpectQuery("SELECT r.id, r.price, r.departure_harbor, r.destination_harbor, r.arrival_time, s.capacity").
        WithArgs(int64(10)).WillReturnRows(routeInfoRows(1000, 5, 7, 2))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM container WHERE id IN (?,?) ORDER BY id FOR UPDATE")).
        WithArgs(int64(101), int64(102)).
        WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101).AddRow(102))
    mock.ExpectQuery("SELECT c.id FROM container c JOIN").
        WithArgs(int64(101), int64(102)).WillReturnRows(sqlmock.NewRows([]string{"id"}))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM reservation_container rc")).
        WithArgs(int64(10)).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
    mock.ExpectExec("INSERT INTO reservation_container").
        WithArgs(int64(1), int64(101), int64(1), int64(102)).
        WillReturnResult(sqlmock.NewResult(1, 2))
    mock.ExpectExec("UPDATE container SET harbor_id").
        WithArgs(int64(7), int64(101), int64(102)).
        WillReturnResult(sqlmock.NewResult(0, 2))
    mock.ExpectCommit()

    mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(SUM(ct.price), 0)")).
        WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"total"}).AddRow(500))
    mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS(SELECT 1 FROM payment")).
        WithArgs(int64(1)).WillReturnRows(sqlmock.NewRows([]string{"e"}).AddRow(0))

    // compensation: the committed allocation is rolled back manually
    mock.ExpectBegin()
    mock.ExpectExec("DELETE FROM reservation_container").
        WithArgs(int64(1)).WillReturnResult(sqlmock.NewResult(0, 2))
    mock.ExpectExec("UPDATE container SET harbor_id").
        WithArgs(int64(5), int64(101), int64(102)).
        WillReturnResult(sqlmock.NewResult(0, 2))
    mock.ExpectCommit()

    mock.ExpectExec("UPDATE reservation_status SET status").
        WithArgs("failed", sqlmock.AnyArg(), int64(1), "pending").
        WillReturnResult(sqlmock.NewResult(0, 1))

    requeue := f.Process(context.Background(), workItem, false)
    assert.False(t, requeue)
    assert.Equal(t, 1, gw.calls)
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessTransientErrorRequeuesOnce(t *testing.T) {
    gw := &stubGateway{}
    f, mock := newFulfiller(t, gw)

    mock.ExpectQuery("SELECT reservation_id, status, error FROM reservation_status").
        WithArgs(int64(1)).WillReturnError(errors.New("connection refused"))

    requeue := f.Process(context.Background(), workItem, false)
    assert.True(t, requeue, "first transient failure goes back to the queue")
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessTransientErrorOnRedeliveryIsTerminal(t *testing.T) {
    gw := &stubGateway{}
    f, mock := newFulfiller(t, gw)

    mock.ExpectQuery("SELECT reservation_id, status, error FROM reservation_status").
        WithArgs(int64(1)).WillReturnError(errors.New("connection refused"))
    mock.ExpectExec("UPDATE reservation_status SET status").
        WithArgs("failed", sqlmock.AnyArg(), int64(1), "pending").
        WillReturnResult(sqlmock.NewResult(0, 1))

    requeue := f.Process(context.Background(), workItem, true)
    assert.False(t, requeue, "a redelivered item must not loop forever")
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessInvalidPayload(t *testing.T) {
    gw := &stubGateway{}
    f, mock := newFulfiller(t, gw)

    bad := queue.ReservationRequest{ReservationID: 9, UserID: "alice", RouteID: 10} // no containers
    mock.ExpectExec("UPDATE reservation_status SET status").
        WithArgs("failed", sqlmock.AnyArg(), int64(9), "pending").
        WillReturnResult(sqlmock.NewResult(0, 1))

    requeue := f.Process(context.Background(), bad, false)
    assert.False(t, requeue)
    assert.Equal(t, 0, gw.calls)
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSweepStuckPending(t *testing.T) {
    gw := &stubGateway{}
    f, mock := newFulfiller(t, gw)

    mock.ExpectQuery("SELECT r.id FROM reservation r JOIN reservation_status rs").
        WithArgs("pending", int64(900)).
        WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(3).AddRow(4))
    mock.ExpectExec("UPDATE reservation_status SET status").
        WithArgs("failed", stuckMessage, int64(3), "pending").
        WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectExec("UPDATE reservation_status SET status").
        WithArgs("failed", stuckMessage, int64(4), "pending").
        WillReturnResult(sqlmock.NewResult(0, 1))

    marked, err := f.SweepStuckPending(context.Background(), 15*time.Minute)
    require.NoError(t, err)
    assert.Equal(t, 2, marked)
    assert.NoError(t, mock.ExpectationsWereMet())
}

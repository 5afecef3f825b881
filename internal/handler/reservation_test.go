package handler

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "regexp"
    "strings"
    "testing"

    "github.com/DATA-DOG/go-sqlmock"
    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/BalazsVokHeloXD/ShippingManager/internal/queue"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/repository"
)

// stubPublisher records published work items and the state of the context
// they were published with, captured at publish time: the handler cancels
// its own timeout context on return, so the live context cannot be
// inspected afterwards.
type stubPublisher struct {
    published   []queue.ReservationRequest
    ctx         context.Context
    ctxErr      error
    hasDeadline bool
    err         error
}

func (s *stubPublisher) PublishReservation(ctx context.Context, req queue.ReservationRequest) error {
    s.ctx = ctx
    s.ctxErr = ctx.Err()
    _, s.hasDeadline = ctx.Deadline()
    if s.err != nil {
        return s.err
    }
    s.published = append(s.published, req)
    return nil
}

func newReservationHandler(t *testing.T, pub WorkPublisher) (*ReservationHandler, sqlmock.Sqlmock) {
    t.Helper()
    db, mock, err := sqlmock.New()
    require.NoError(t, err)
    t.Cleanup(func() { _ = db.Close() })
    h := NewReservationHandler(repository.NewReservationRepo(db), repository.NewContainerRepo(db), pub)
    return h, mock
}

func doJSON(h echo.HandlerFunc, method, target, body, username string, params ...string) *httptest.ResponseRecorder {
    e := echo.New()
    req := httptest.NewRequest(method, target, strings.NewReader(body))
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    rec := httptest.NewRecorder()
    c := e.NewContext(req, rec)
    if username != "" {
        c.Set("username", username)
    }
    for i := 0; i+1 < len(params); i += 2 {
        c.SetParamNames(params[i])
        c.SetParamValues(params[i+1])
    }
    _ = h(c)
    return rec
}

func TestCreateReservation(t *testing.T) {
    pub := &stubPublisher{}
    h, mock := newReservationHandler(t, pub)

    mock.ExpectBegin()
    mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservation (username, route_id)")).
        WithArgs("alice", int64(10)).
        WillReturnResult(sqlmock.NewResult(7, 1))
    mock.ExpectExec(regexp.QuoteMeta("INSERT INTO reservation_status (reservation_id, status)")).
        WithArgs(int64(7), "pending").
        WillReturnResult(sqlmock.NewResult(1, 1))
    mock.ExpectCommit()

    rec := doJSON(h.Create, http.MethodPost, "/v1/reservations",
        `{"routeId":10,"containerIds":[101,102,101]}`, "alice")

    require.Equal(t, http.StatusCreated, rec.Code)
    var resp struct {
        Message       string `json:"message"`
        ReservationID int64  `json:"reservationId"`
    }
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
    assert.Equal(t, int64(7), resp.ReservationID)
    assert.Contains(t, resp.Message, "Processing")

    require.Len(t, pub.published, 1)
    item := pub.published[0]
    assert.Equal(t, int64(7), item.ReservationID)
    assert.Equal(t, "alice", item.UserID)
    assert.Equal(t, int64(10), item.RouteID)
    assert.Equal(t, []int64{101, 102}, item.ContainerIDs, "duplicate container ids must be dropped")
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateReservationValidation(t *testing.T) {
    cases := []struct {
        name string
        body string
    }{
        {"missing route", `{"containerIds":[101]}`},
        {"missing containers", `{"routeId":10}`},
        {"empty containers", `{"routeId":10,"containerIds":[]}`},
        {"only invalid containers", `{"routeId":10,"containerIds":[0,-5]}`},
        {"malformed json", `{"routeId":`},
    }
    for _, tc := range cases {
        t.Run(tc.name, func(t *testing.T) {
            pub := &stubPublisher{}
            h, mock := newReservationHandler(t, pub)

            rec := doJSON(h.Create, http.MethodPost, "/v1/reservations", tc.body, "alice")
            assert.Equal(t, http.StatusBadRequest, rec.Code)
            assert.Empty(t, pub.published)
            assert.NoError(t, mock.ExpectationsWereMet(), "no DB work before validation passes")
        })
    }
}

func TestCreateReservationUnauthenticated(t *testing.T) {
    pub := &stubPublisher{}
    h, _ := newReservationHandler(t, pub)

    rec := doJSON(h.Create, http.MethodPost, "/v1/reservations",
        `{"routeId":10,"containerIds":[101]}`, "")
    assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateReservationPublishFailureStillAccepted(t *testing.T) {
    // The reservation row is committed before the publish; a broker outage
    // must not turn an accepted reservation into an error response.
    pub := &stubPublisher{err: errors.New("broker down")}
    h, mock := newReservationHandler(t, pub)

    mock.ExpectBegin()
    mock.ExpectExec("INSERT INTO reservation").
        WithArgs("alice", int64(10)).
        WillReturnResult(sqlmock.NewResult(7, 1))
    mock.ExpectExec("INSERT INTO reservation_status").
        WithArgs(int64(7), "pending").
        WillReturnResult(sqlmock.NewResult(1, 1))
    mock.ExpectCommit()

    rec := doJSON(h.Create, http.MethodPost, "/v1/reservations",
        `{"routeId":10,"containerIds":[101]}`, "alice")
    assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateReservationPublishDetachedFromRequest(t *testing.T) {
    // The reservation is durable once the transaction commits; a client
    // disconnecting right after must not cancel the queue hand-off and
    // strand the reservation in the sweep.
    pub := &stubPublisher{}
    h, mock := newReservationHandler(t, pub)

    mock.ExpectBegin()
    mock.ExpectExec("INSERT INTO reservation").
        WithArgs("alice", int64(10)).
        WillReturnResult(sqlmock.NewResult(7, 1))
    mock.ExpectExec("INSERT INTO reservation_status").
        WithArgs(int64(7), "pending").
        WillReturnResult(sqlmock.NewResult(1, 1))
    mock.ExpectCommit()

    reqCtx, cancel := context.WithCancel(context.Background())
    e := echo.New()
    req := httptest.NewRequest(http.MethodPost, "/v1/reservations",
        strings.NewReader(`{"routeId":10,"containerIds":[101]}`)).WithContext(reqCtx)
    req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
    rec := httptest.NewRecorder()
    c := e.NewContext(req, rec)
    c.Set("username", "alice")
    require.NoError(t, h.Create(c))
    require.Equal(t, http.StatusCreated, rec.Code)

    // simulate the client going away after the response
    cancel()
    require.NotNil(t, pub.ctx)
    assert.NoError(t, pub.ctxErr, "publish context must not follow the request context")
    assert.True(t, pub.hasDeadline, "publish context must be bounded")
}

func TestStatusPolling(t *testing.T) {
    pub := &stubPublisher{}
    h, mock := newReservationHandler(t, pub)

    mock.ExpectQuery("SELECT reservation_id, status, error FROM reservation_status").
        WithArgs(int64(7)).
        WillReturnRows(sqlmock.NewRows([]string{"reservation_id", "status", "error"}).
            AddRow(7, "failed", "containers already reserved or in transit: 101"))

    rec := doJSON(h.Status, http.MethodGet, "/v1/reservations/7/status", "", "alice", "id", "7")
    require.Equal(t, http.StatusOK, rec.Code)
    var resp map[string]string
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
    assert.Equal(t, "failed", resp["status"])
    assert.Equal(t, "containers already reserved or in transit: 101", resp["error"])
}

func TestStatusOmitsErrorWhenPending(t *testing.T) {
    pub := &stubPublisher{}
    h, mock := newReservationHandler(t, pub)

    mock.ExpectQuery("SELECT reservation_id, status, error FROM reservation_status").
        WithArgs(int64(7)).
        WillReturnRows(sqlmock.NewRows([]string{"reservation_id", "status", "error"}).
            AddRow(7, "pending", nil))

    rec := doJSON(h.Status, http.MethodGet, "/v1/reservations/7/status", "", "alice", "id", "7")
    require.Equal(t, http.StatusOK, rec.Code)
    var resp map[string]any
    require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
    assert.Equal(t, "pending", resp["status"])
    _, hasError := resp["error"]
    assert.False(t, hasError)
}

func TestStatusNotFound(t *testing.T) {
    pub := &stubPublisher{}
    h, mock := newReservationHandler(t, pub)

    mock.ExpectQuery("SELECT reservation_id, status, error FROM reservation_status").
        WithArgs(int64(99)).
        WillReturnRows(sqlmock.NewRows([]string{"reservation_id", "status", "error"}))

    rec := doJSON(h.Status, http.MethodGet, "/v1/reservations/99/status", "", "alice", "id", "99")
    assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteReservationRevertsContainers(t *testing.T) {
    pub := &stubPublisher{}
    h, mock := newReservationHandler(t, pub)

    mock.ExpectBegin()
    mock.ExpectQuery("SELECT r.username, r.route_id, ro.departure_harbor").
        WithArgs(int64(7)).
        WillReturnRows(sqlmock.NewRows([]string{"username", "route_id", "departure_harbor"}).
            AddRow("alice", 10, 5))
    mock.ExpectQuery("SELECT container_id FROM reservation_container").
        WithArgs(int64(7)).
        WillReturnRows(sqlmock.NewRows([]string{"container_id"}).AddRow(101).AddRow(102))
    mock.ExpectExec("UPDATE container SET harbor_id").
        WithArgs(int64(5), int64(101), int64(102)).
        WillReturnResult(sqlmock.NewResult(0, 2))
    mock.ExpectExec("DELETE FROM payment").
        WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectExec("DELETE FROM reservation_container").
        WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 2))
    mock.ExpectExec("DELETE FROM reservation_status").
        WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectExec("DELETE FROM reservation WHERE id").
        WithArgs(int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
    mock.ExpectCommit()

    rec := doJSON(h.Delete, http.MethodDelete, "/v1/reservations/7", "", "alice", "id", "7")
    assert.Equal(t, http.StatusOK, rec.Code)
    assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteReservationForbidden(t *testing.T) {
    pub := &stubPublisher{}
    h, mock := newReservationHandler(t, pub)

    mock.ExpectBegin()
    mock.ExpectQuery("SELECT r.username, r.route_id, ro.departure_harbor").
        WithArgs(int64(7)).
        WillReturnRows(sqlmock.NewRows([]string{"username", "route_id", "departure_harbor"}).
            AddRow("bob", 10, 5))
    mock.ExpectRollback()

    rec := doJSON(h.Delete, http.MethodDelete, "/v1/reservations/7", "", "alice", "id", "7")
    assert.Equal(t, http.StatusForbidden, rec.Code)
    assert.NoError(t, mock.ExpectationsWereMet())
}

// Package payment implements the outbound adapter to the Barion-style
// payment gateway: creating payment intents during fulfillment and
// re-querying payment state when the gateway calls back.
package payment

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "regexp"
    "strconv"
    "time"

    "github.com/BalazsVokHeloXD/ShippingManager/internal/model"
)

// ErrGatewayUnavailable wraps network-level failures talking to the
// gateway.  The worker treats these as transient and may requeue the
// work item once.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

// ErrGatewayRejected wraps responses where the gateway answered but
// refused the payment.  These are terminal fulfillment failures.
var ErrGatewayRejected = errors.New("payment gateway rejected request")

// Client talks to the payment gateway.  BaseURL is configurable so tests
// can point it at a local httptest server.
type Client struct {
    POSKey    string
    Payee     string
    BaseURL   string
    PublicURL string
    Currency  string
    HTTP      *http.Client
}

// NewClient builds a gateway client.  A nil http.Client falls back to a
// client with a 15 second timeout; the gateway call is the slowest link in
// the fulfillment pipeline and must not hang a worker forever.
func NewClient(posKey, payee, baseURL, publicURL, currency string, hc *http.Client) *Client {
    if hc == nil {
        hc = &http.Client{Timeout: 15 * time.Second}
    }
    return &Client{
        POSKey:    posKey,
        Payee:     payee,
        BaseURL:   baseURL,
        PublicURL: publicURL,
        Currency:  currency,
        HTTP:      hc,
    }
}

// Intent is the result of creating a payment at the gateway.
type Intent struct {
    PaymentID  string // gateway-side payment identifier
    GatewayURL string // redirect link where the user completes payment
}

// State is the gateway's view of an existing payment.
type State struct {
    Status         string // gateway status (Succeeded, Failed, Canceled, Expired, ...)
    TransactionRef string // POS transaction reference, RES-<reservationId>
}

type startItem struct {
    Name        string `json:"Name"`
    Quantity    int    `json:"Quantity"`
    Unit        string `json:"Unit"`
    Description string `json:"Description"`
    UnitPrice   string `json:"UnitPrice"`
    ItemTotal   string `json:"ItemTotal"`
}

type startTransaction struct {
    POSTransactionID string      `json:"POSTransactionId"`
    Payee            string      `json:"Payee"`
    Total            string      `json:"Total"`
    Comment          string      `json:"Comment"`
    Items            []startItem `json:"Items"`
}

type startPayload struct {
    POSKey         string             `json:"POSKey"`
    PaymentType    string             `json:"PaymentType"`
    GuestCheckOut  bool               `json:"GuestCheckOut"`
    Locale         string             `json:"Locale"`
    FundingSources []string           `json:"FundingSources"`
    Currency       string             `json:"Currency"`
    Transactions   []startTransaction `json:"Transactions"`
    RedirectURL    string             `json:"RedirectUrl"`
    CallbackURL    string             `json:"CallbackUrl"`
}

type startResponse struct {
    PaymentID  string `json:"PaymentId"`
    GatewayURL string `json:"GatewayUrl"`
}

// Start creates an immediate payment for a fulfilled reservation.  The POS
// transaction reference is derived from the reservation id so the gateway
// side stays resolvable back to a reservation.
func (c *Client) Start(ctx context.Context, reservationID, routeID, amount int64) (*Intent, error) {
    total := strconv.FormatInt(amount, 10)
    payload := startPayload{
        POSKey:         c.POSKey,
        PaymentType:    "Immediate",
        GuestCheckOut:  true,
        Locale:         "en-US",
        FundingSources: []string{"BankCard"},
        Currency:       c.Currency,
        Transactions: []startTransaction{{
            POSTransactionID: ReservationRef(reservationID),
            Payee:            c.Payee,
            Total:            total,
            Comment:          fmt.Sprintf("Reservation #%d", reservationID),
            Items: []startItem{{
                Name:        "Shipping Reservation",
                Quantity:    1,
                Unit:        "unit",
                Description: fmt.Sprintf("Route #%d", routeID),
                UnitPrice:   total,
                ItemTotal:   total,
            }},
        }},
        RedirectURL: c.PublicURL,
        CallbackURL: c.PublicURL + "/v1/payments/callback",
    }
    body, err := json.Marshal(payload)
    if err != nil {
        return nil, err
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v2/Payment/Start", bytes.NewReader(body))
    if err != nil {
        return nil, err
    }
    req.Header.Set("Content-Type", "application/json")
    resp, err := c.HTTP.Do(req)
    if err != nil {
        return nil, fmt.Errorf("%w: start: %v", ErrGatewayUnavailable, err)
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
        return nil, fmt.Errorf("%w: start returned %d: %s", ErrGatewayRejected, resp.StatusCode, msg)
    }
    var out startResponse
    if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
        return nil, fmt.Errorf("%w: decode start response: %v", ErrGatewayRejected, err)
    }
    if out.GatewayURL == "" {
        return nil, fmt.Errorf("%w: start response carried no gateway url", ErrGatewayRejected)
    }
    return &Intent{PaymentID: out.PaymentID, GatewayURL: out.GatewayURL}, nil
}

type stateResponse struct {
    Status       string `json:"Status"`
    Transactions []struct {
        POSTransactionID string `json:"POSTransactionId"`
    } `json:"Transactions"`
}

// GetState re-queries the gateway for the state of a payment.  The callback
// handler uses it to resolve the notified payment id back to a reservation
// via the POS transaction reference.
func (c *Client) GetState(ctx context.Context, paymentID string) (*State, error) {
    url := fmt.Sprintf("%s/v4/payment/%s/paymentstate", c.BaseURL, paymentID)
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
    if err != nil {
        return nil, err
    }
    req.Header.Set("x-pos-key", c.POSKey)
    req.Header.Set("Accept", "application/json")
    resp, err := c.HTTP.Do(req)
    if err != nil {
        return nil, fmt.Errorf("%w: paymentstate: %v", ErrGatewayUnavailable, err)
    }
    defer resp.Body.Close()
    if resp.StatusCode != http.StatusOK {
        return nil, fmt.Errorf("%w: paymentstate returned %d", ErrGatewayRejected, resp.StatusCode)
    }
    var out stateResponse
    if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
        return nil, fmt.Errorf("%w: decode paymentstate response: %v", ErrGatewayRejected, err)
    }
    if out.Status == "" || len(out.Transactions) == 0 {
        return nil, fmt.Errorf("%w: paymentstate response incomplete", ErrGatewayRejected)
    }
    return &State{Status: out.Status, TransactionRef: out.Transactions[0].POSTransactionID}, nil
}

// MapStatus translates a gateway-reported status onto the internal payment
// status enum.  Unknown gateway states stay Pending.
func MapStatus(gatewayStatus string) string {
    switch gatewayStatus {
    case "Succeeded":
        return model.PaymentSettled
    case "Failed", "Canceled":
        return model.PaymentDue
    case "Expired":
        return model.PaymentOverdue
    default:
        return model.PaymentPending
    }
}

// ReservationRef derives the gateway transaction reference for a reservation.
func ReservationRef(reservationID int64) string {
    return fmt.Sprintf("RES-%d", reservationID)
}

var refPattern = regexp.MustCompile(`^RES-(\d+)$`)

// ParseRef resolves a transaction reference back to a reservation id.
func ParseRef(ref string) (int64, error) {
    m := refPattern.FindStringSubmatch(ref)
    if m == nil {
        return 0, fmt.Errorf("invalid transaction reference %q", ref)
    }
    return strconv.ParseInt(m[1], 10, 64)
}

package repository

import (
    "context"
    "database/sql"
    "strings"
    "time"
)

// RouteRepo reads routes, their ships and the per-route allocation count.
// Routes are never written by this service.
type RouteRepo struct {
    db *sql.DB
}

// NewRouteRepo constructs a RouteRepo given a DB handle.
func NewRouteRepo(db *sql.DB) *RouteRepo { return &RouteRepo{db: db} }

// RouteInfo is the subset of route and ship data the fulfillment worker
// needs: pricing, both harbors for the eager move and its compensation,
// and the ship capacity for the capacity check.
type RouteInfo struct {
    ID                int64
    Price             int64
    DepartureHarbor   int64
    DestinationHarbor int64
    ArrivalTime       time.Time
    Capacity          int
}

const routeInfoQuery = `SELECT r.id, r.price, r.departure_harbor, r.destination_harbor, r.arrival_time, s.capacity
                        FROM route r
                        JOIN ship s ON s.id = r.ship
                        WHERE r.id = ?`

// GetForUpdateTx loads a route with its ship capacity and locks the route
// row for the remainder of the transaction.  The row lock serializes the
// capacity check and the subsequent link insert per route, so two workers
// cannot jointly overbook a ship.  Returns ErrRouteNotFound when the route
// does not exist.
func (r *RouteRepo) GetForUpdateTx(ctx context.Context, tx *sql.Tx, routeID int64) (*RouteInfo, error) {
    return scanRouteInfo(tx.QueryRowContext(ctx, routeInfoQuery+` FOR UPDATE`, routeID))
}

// Get loads a route without locking.  The worker uses it when resuming the
// pay phase after a redelivery, when the allocation already committed and
// no exclusion is needed anymore.
func (r *RouteRepo) Get(ctx context.Context, routeID int64) (*RouteInfo, error) {
    return scanRouteInfo(r.db.QueryRowContext(ctx, routeInfoQuery, routeID))
}

func scanRouteInfo(row *sql.Row) (*RouteInfo, error) {
    var info RouteInfo
    err := row.Scan(&info.ID, &info.Price, &info.DepartureHarbor, &info.DestinationHarbor, &info.ArrivalTime, &info.Capacity)
    if err == sql.ErrNoRows {
        return nil, ErrRouteNotFound
    }
    if err != nil {
        return nil, err
    }
    return &info, nil
}

// ReservedCountTx counts containers already linked to reservations on a
// route, inside the worker's transaction.  Together with the route row
// lock this makes the check-then-insert sequence effectively exclusive
// per route.
func (r *RouteRepo) ReservedCountTx(ctx context.Context, tx *sql.Tx, routeID int64) (int, error) {
    const q = `SELECT COUNT(*)
               FROM reservation_container rc
               JOIN reservation r ON r.id = rc.reservation_id
               WHERE r.route_id = ?`
    var count int
    if err := tx.QueryRowContext(ctx, q, routeID).Scan(&count); err != nil {
        return 0, err
    }
    return count, nil
}

// RouteSearchQuery defines the optional filters for the public route search.
// Empty fields add no predicate.
type RouteSearchQuery struct {
    DepContinent string
    DepCountry   string
    DepHarbor    string
    ArrContinent string
    ArrCountry   string
    ArrHarbor    string
}

// RouteRow is one public search result.
type RouteRow struct {
    ID                int64  `json:"id"`
    DepartureHarborID int64  `json:"departure_harbor_id"`
    DepartureHarbor   string `json:"departure_harbor"`
    DepartureFlag     string `json:"departure_flag"`
    DestinationHarbor string `json:"destination_harbor"`
    DestinationFlag   string `json:"destination_flag"`
    DepartureTime     string `json:"departure_time"`
    ArrivalTime       string `json:"arrival_time"`
    ShipName          string `json:"shipname"`
    Price             int64  `json:"price"`
}

// Search returns future routes matching the given filters.  The WHERE
// clause is assembled from a fixed set of optional predicates with
// placeholder arguments; filter values never end up concatenated into
// the SQL text.
func (r *RouteRepo) Search(ctx context.Context, q RouteSearchQuery) ([]RouteRow, error) {
    where := []string{"route.departure_time > NOW()"}
    args := []any{}

    if q.DepContinent != "" {
        where = append(where, "c1.continent_code = ?")
        args = append(args, q.DepContinent)
    }
    if q.DepCountry != "" {
        where = append(where, "h1.country_iso3 = ?")
        args = append(args, q.DepCountry)
    }
    if q.DepHarbor != "" {
        where = append(where, "h1.name = ?")
        args = append(args, q.DepHarbor)
    }
    if q.ArrContinent != "" {
        where = append(where, "c2.continent_code = ?")
        args = append(args, q.ArrContinent)
    }
    if q.ArrCountry != "" {
        where = append(where, "h2.country_iso3 = ?")
        args = append(args, q.ArrCountry)
    }
    if q.ArrHarbor != "" {
        where = append(where, "h2.name = ?")
        args = append(args, q.ArrHarbor)
    }

    query := `SELECT route.id,
                     h1.id, h1.name, h1.country_iso3,
                     h2.name, h2.country_iso3,
                     DATE_FORMAT(route.departure_time, '%Y-%m-%d %T'),
                     DATE_FORMAT(route.arrival_time, '%Y-%m-%d %T'),
                     ship.name, route.price
              FROM route
              JOIN ship ON ship.id = route.ship
              JOIN harbor h1 ON h1.id = route.departure_harbor
              JOIN country c1 ON c1.iso3 = h1.country_iso3
              JOIN harbor h2 ON h2.id = route.destination_harbor
              JOIN country c2 ON c2.iso3 = h2.country_iso3
              WHERE ` + strings.Join(where, " AND ") + `
              ORDER BY route.departure_time ASC`

    rows, err := r.db.QueryContext(ctx, query, args...)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    out := make([]RouteRow, 0)
    for rows.Next() {
        var d RouteRow
        if err := rows.Scan(
            &d.ID,
            &d.DepartureHarborID, &d.DepartureHarbor, &d.DepartureFlag,
            &d.DestinationHarbor, &d.DestinationFlag,
            &d.DepartureTime, &d.ArrivalTime,
            &d.ShipName, &d.Price,
        ); err != nil {
            return nil, err
        }
        out = append(out, d)
    }
    return out, rows.Err()
}

package repository

import (
    "context"
    "database/sql"

    "github.com/BalazsVokHeloXD/ShippingManager/internal/model"
)

// HarborRepo reads the geographic reference data backing the route search
// filter dropdowns.  All of it is read-only to this service.
type HarborRepo struct {
    db *sql.DB
}

// NewHarborRepo constructs a HarborRepo given a DB handle.
func NewHarborRepo(db *sql.DB) *HarborRepo { return &HarborRepo{db: db} }

// FilterOptions aggregates the selectable continents, countries and harbors.
type FilterOptions struct {
    Continents []model.Continent `json:"continents"`
    Countries  []model.Country   `json:"countries"`
    Harbors    []model.Harbor    `json:"harbors"`
}

// Filters loads all filter options.  Only countries that actually have a
// harbor are returned.
func (r *HarborRepo) Filters(ctx context.Context) (*FilterOptions, error) {
    out := &FilterOptions{
        Continents: []model.Continent{},
        Countries:  []model.Country{},
        Harbors:    []model.Harbor{},
    }

    rows, err := r.db.QueryContext(ctx, `SELECT code, name FROM continent ORDER BY name`)
    if err != nil {
        return nil, err
    }
    defer rows.Close()
    for rows.Next() {
        var c model.Continent
        if err := rows.Scan(&c.Code, &c.Name); err != nil {
            return nil, err
        }
        out.Continents = append(out.Continents, c)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }

    const countryQ = `SELECT DISTINCT c.iso3, c.name, c.continent_code
                      FROM country c
                      JOIN harbor h ON h.country_iso3 = c.iso3
                      ORDER BY c.name`
    crows, err := r.db.QueryContext(ctx, countryQ)
    if err != nil {
        return nil, err
    }
    defer crows.Close()
    for crows.Next() {
        var c model.Country
        if err := crows.Scan(&c.ISO3, &c.Name, &c.ContinentCode); err != nil {
            return nil, err
        }
        out.Countries = append(out.Countries, c)
    }
    if err := crows.Err(); err != nil {
        return nil, err
    }

    hrows, err := r.db.QueryContext(ctx, `SELECT id, name, country_iso3 FROM harbor ORDER BY name`)
    if err != nil {
        return nil, err
    }
    defer hrows.Close()
    for hrows.Next() {
        var h model.Harbor
        if err := hrows.Scan(&h.ID, &h.Name, &h.CountryISO3); err != nil {
            return nil, err
        }
        out.Harbors = append(out.Harbors, h)
    }
    return out, hrows.Err()
}

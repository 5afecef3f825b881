package model

// Harbor is a named location that owns zero or more containers and is the
// endpoint of routes.  Harbors belong to a country, which in turn belongs
// to a continent; both are used only for route search filtering.
//
// Fields:
//  ID          – primary key identifier.
//  Name        – display name of the harbor.
//  CountryISO3 – ISO 3166-1 alpha-3 code of the owning country.
type Harbor struct {
    ID          int64  // harbor.id
    Name        string // harbor.name
    CountryISO3 string // harbor.country_iso3
}

// Country groups harbors for search filtering.
type Country struct {
    ISO3          string // country.iso3
    Name          string // country.name
    ContinentCode string // country.continent_code
}

// Continent is the coarsest search filter level.
type Continent struct {
    Code string // continent.code
    Name string // continent.name
}

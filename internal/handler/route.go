package handler

import (
    "net/http"

    "github.com/labstack/echo/v4"

    "github.com/BalazsVokHeloXD/ShippingManager/internal/repository"
)

// PublicHandler exposes the unauthenticated browse endpoints: route search
// and the filter reference lists.  Responses are cached by the Redis
// response middleware, not here.
type PublicHandler struct {
    RouteRepo  *repository.RouteRepo
    HarborRepo *repository.HarborRepo
}

// NewPublicHandler constructs a PublicHandler and panics if any dependency is nil.
func NewPublicHandler(routeRepo *repository.RouteRepo, harborRepo *repository.HarborRepo) *PublicHandler {
    if routeRepo == nil || harborRepo == nil {
        panic("nil repository passed to NewPublicHandler")
    }
    return &PublicHandler{RouteRepo: routeRepo, HarborRepo: harborRepo}
}

// GetRoutes handles GET /v1/routes.  All filters are optional query
// parameters; omitted ones add no predicate.
func (h *PublicHandler) GetRoutes(c echo.Context) error {
    q := repository.RouteSearchQuery{
        DepContinent: c.QueryParam("depContinent"),
        DepCountry:   c.QueryParam("depCountry"),
        DepHarbor:    c.QueryParam("depHarbor"),
        ArrContinent: c.QueryParam("arrContinent"),
        ArrCountry:   c.QueryParam("arrCountry"),
        ArrHarbor:    c.QueryParam("arrHarbor"),
    }
    routes, err := h.RouteRepo.Search(c.Request().Context(), q)
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch routes"})
    }
    return c.JSON(http.StatusOK, routes)
}

// GetFilters handles GET /v1/filters, returning the continents, countries
// and harbors selectable in the route search.
func (h *PublicHandler) GetFilters(c echo.Context) error {
    filters, err := h.HarborRepo.Filters(c.Request().Context())
    if err != nil {
        return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch filters"})
    }
    return c.JSON(http.StatusOK, filters)
}

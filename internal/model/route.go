package model

import "time"

// Ship is the vessel sailing a route.  Its capacity caps the total number
// of containers that may ever be linked to reservations on any single
// route it sails.
type Ship struct {
    ID       int64  // ship.id
    Name     string // ship.name
    Capacity int    // ship.capacity
}

// Route is a scheduled sailing between two harbors on a specific ship.
// Routes are read-only to the reservation core: they are created by the
// admin surface and only consulted here for pricing, capacity and the
// conflict window.
//
// Fields:
//  ID                – primary key identifier.
//  ShipID            – ship sailing this route.
//  DepartureHarbor   – harbor the ship leaves from.
//  DestinationHarbor – harbor the ship arrives at.
//  DepartureTime     – scheduled departure.
//  ArrivalTime       – scheduled arrival; drives the active-assignment window.
//  Price             – base price of the route, excluding per-container fees.
type Route struct {
    ID                int64     // route.id
    ShipID            int64     // route.ship
    DepartureHarbor   int64     // route.departure_harbor
    DestinationHarbor int64     // route.destination_harbor
    DepartureTime     time.Time // route.departure_time
    ArrivalTime       time.Time // route.arrival_time
    Price             int64     // route.price
}

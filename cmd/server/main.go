package main // Entry point of the API server

import (
    "log"

    "github.com/joho/godotenv"
    "github.com/labstack/echo/v4"

    "github.com/BalazsVokHeloXD/ShippingManager/internal/config"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/database"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/handler"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/payment"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/repository"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/router"
    queue_publisher "github.com/BalazsVokHeloXD/ShippingManager/internal/service"
)

func main() {
    _ = godotenv.Load() // .env is optional; real deployments use the environment
    cfg := config.Load()

    db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
    if err != nil {
        log.Fatalf("database: %v", err)
    }

    rdb := config.NewRedisClient()
    if rdb == nil {
        log.Println("redis unavailable; response cache and rate limiting disabled")
    }

    reservationRepo := repository.NewReservationRepo(db)
    containerRepo := repository.NewContainerRepo(db)
    routeRepo := repository.NewRouteRepo(db)
    harborRepo := repository.NewHarborRepo(db)
    paymentRepo := repository.NewPaymentRepo(db)

    gateway := payment.NewClient(cfg.BarionPOSKey, cfg.BarionPayee, cfg.BarionBaseURL, cfg.PublicURL, cfg.Currency, nil)
    publisher := queue_publisher.NewPublisher(cfg.RabbitURL)

    res := handler.NewReservationHandler(reservationRepo, containerRepo, publisher)
    pub := handler.NewPublicHandler(routeRepo, harborRepo)
    pay := handler.NewPaymentHandler(gateway, paymentRepo, reservationRepo)

    e := echo.New()
    router.RegisterRoutes(e, cfg, rdb, res, pub, pay)

    addr := ":" + cfg.Port
    log.Printf("listening on %s (env=%s)", addr, cfg.Env)
    if err := e.Start(addr); err != nil {
        log.Fatal(err)
    }
}

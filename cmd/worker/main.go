package main // Entry point of the fulfillment worker

import (
    "context"
    "log"

    "github.com/joho/godotenv"

    "github.com/BalazsVokHeloXD/ShippingManager/internal/config"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/database"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/payment"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/queue"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/repository"
    "github.com/BalazsVokHeloXD/ShippingManager/internal/worker"
)

func main() {
    _ = godotenv.Load()
    cfg := config.Load()

    db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
    if err != nil {
        log.Fatalf("database: %v", err)
    }

    gateway := payment.NewClient(cfg.BarionPOSKey, cfg.BarionPayee, cfg.BarionBaseURL, cfg.PublicURL, cfg.Currency, nil)
    fulfiller := worker.NewFulfiller(
        db,
        repository.NewReservationRepo(db),
        repository.NewRouteRepo(db),
        repository.NewContainerRepo(db),
        repository.NewPaymentRepo(db),
        gateway,
    )

    // Background sweep for reservations whose work item was lost between
    // the intake commit and the queue publish.
    go fulfiller.StartSweep(context.Background(), cfg.SweepInterval, cfg.SweepAge)

    log.Printf("reservation worker listening on %s", queue.ReservationQueue)
    if err := queue.StartReservationConsumer(cfg.RabbitURL, cfg.Prefetch, fulfiller); err != nil {
        log.Fatal(err)
    }
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/kota727/bookstore/internal/catalog"
	"github.com/kota727/bookstore/internal/config"
	"github.com/kota727/bookstore/internal/httpx"
	kafkax "github.com/kota727/bookstore/internal/kafka"
	"github.com/kota727/bookstore/internal/orders"
	"github.com/kota727/bookstore/internal/postgres"
	"github.com/kota727/bookstore/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers, one per topic
	producers := []*kafkax.Producer{
		kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCreated, 1024),
		kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024),
		kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderCancelled, 1024),
	}
	for _, p := range producers {
		p.Start()
	}
	pubs := &httpx.Publishers{
		Created:       producers[0],
		StatusChanged: producers[1],
		Cancelled:     producers[2],
	}

	// Core wiring
	svc := orders.NewService(&orders.ReservationRepo{DB: db}, &orders.Repo{DB: db})

	router := httpx.NewRouter()
	(&httpx.BooksHandler{Repo: &catalog.Repo{DB: db}}).Register(router)
	(&httpx.OrdersHandler{
		Svc:       svc,
		Redis:     rdb,
		Producers: pubs,
		Service:   cfg.ServiceName,
	}).Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = srv.Shutdown(shutdownCtx)

	for _, p := range producers {
		p.Close()
	}
	for _, p := range producers {
		p.WaitClosed()
	}
}

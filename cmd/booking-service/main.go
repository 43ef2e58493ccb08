package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"

	"ms-booking/internal/allocation"
	allocation_api "ms-booking/internal/allocation/api"
	"ms-booking/internal/allocation/db"
	"ms-booking/internal/auth"
	"ms-booking/internal/cache"
	"ms-booking/internal/config"
	"ms-booking/internal/database/migrations"
	"ms-booking/internal/kafka"
	"ms-booking/internal/logger"
	"ms-booking/internal/parent"
	"ms-booking/internal/slots"
	slots_api "ms-booking/internal/slots/api"
	"ms-booking/internal/utils"
)

func connectDatabase(cfg config.DatabaseConfig, log *logger.Logger) *bun.DB {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		log.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err == nil {
			err = sqldb.Ping()
			if err == nil {
				break
			}
		}
		log.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL after %d attempts: %v", maxRetries, err))
	}

	sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.MaxLifetime)

	log.Info("DATABASE", "PostgreSQL connection successful")
	return bun.NewDB(sqldb, pgdialect.New())
}

func main() {
	log := logger.NewLogger()
	defer log.Close()

	log.Info("APP", "Starting Booking Service initialization")

	if err := godotenv.Load(); err != nil {
		log.Warn("CONFIG", ".env file not found, using environment variables")
	} else {
		log.Info("CONFIG", "Loaded environment variables from .env file")
	}
	cfg := config.Load()

	bunDB := connectDatabase(cfg.Database, log)
	defer bunDB.Close()

	runner := migrations.NewRunner(bunDB, migrations.DefaultOptions(), log)
	if err := runner.MigrateUp(); err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Migrations failed: %v", err))
	}
	defer runner.Close()

	redisClient, err := cache.InitializeRedis(cfg.Redis.Addr, log)
	if err != nil {
		log.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	defer redisClient.Close()

	availability := cache.NewAvailability(redisClient, cfg.Redis.AvailabilityTTL, log)
	parentClient := parent.NewClient(cfg.Parent.ServiceURL, cfg.Parent.Timeout, redisClient, cfg.Redis.ParentBookableTTL, log)

	var producer *kafka.Producer
	var consumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		requiredTopics := []string{
			cfg.Kafka.Topics.Granted,
			cfg.Kafka.Topics.Waitlisted,
			cfg.Kafka.Topics.Released,
			cfg.Kafka.Topics.Promoted,
			cfg.Kafka.Topics.ParentEvents,
		}
		if err := kafka.EnsureTopicsExist(cfg.Kafka.Brokers, requiredTopics); err != nil {
			log.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		} else {
			log.Info("KAFKA", "Required topics ensured successfully")
		}

		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics, log)
		defer producer.Close()

		consumer = kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.Topics.ParentEvents, cfg.Kafka.GroupID, log)
		defer consumer.Close()
	} else {
		log.Warn("KAFKA", "Kafka disabled, allocation notifications will not be published")
	}

	dbLayer := &db.DB{Bun: bunDB}

	allocationService := allocation.NewService(dbLayer, parentClient, producerOrNil(producer), availability, log)
	slotService := slots.NewService(dbLayer, availability, parentClient, log)

	allocationHandler := allocation_api.NewHandler(allocationService)
	slotHandler := slots_api.NewHandler(slotService)
	authMiddleware := auth.NewMiddleware(cfg.Auth.JWTSecret, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if consumer != nil {
		go consumer.Start(ctx, slotService.HandleParentEvent)
	}

	log.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()

	// --- Public Routes ---
	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
	})
	r.Get("/api/v1/slots/{slotId}/availability", slotHandler.GetAvailability)

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireAuth)

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/slots", func(r chi.Router) {
				r.Post("/", slotHandler.CreateSlot)
				r.Delete("/{slotId}", slotHandler.DeleteSlot)
				r.Get("/{slotId}/occupancy", slotHandler.GetOccupancy)
				r.Get("/{slotId}/waitlist", slotHandler.GetWaitlist)
				r.Post("/{slotId}/reservations", allocationHandler.Reserve)
			})

			r.Route("/bookings", func(r chi.Router) {
				r.Get("/", slotHandler.GetMyBookings)
				r.Get("/{bookingId}", allocationHandler.GetBooking)
				r.Delete("/{bookingId}", allocationHandler.Release)
			})

			r.Get("/parents/{parentKind}/{parentId}/slots", slotHandler.GetSlotsByParent)
		})
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("HTTP", fmt.Sprintf("Booking Service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	log.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	log.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Error("HTTP", fmt.Sprintf("Server shutdown failed: %v", err))
	} else {
		log.Info("HTTP", "Booking Service shutdown complete")
	}
}

// producerOrNil keeps the service's publisher interface nil when Kafka is
// disabled, instead of a non-nil interface wrapping a nil producer.
func producerOrNil(p *kafka.Producer) allocation.NotificationPublisher {
	if p == nil {
		return nil
	}
	return p
}

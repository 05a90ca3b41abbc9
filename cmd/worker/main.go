// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/streadway/amqp"

	"github.com/unclebandit/clinicreach-backend/internal/config"
	"github.com/unclebandit/clinicreach-backend/internal/db"
	"github.com/unclebandit/clinicreach-backend/internal/gateway"
	"github.com/unclebandit/clinicreach-backend/internal/queue"
	"github.com/unclebandit/clinicreach-backend/internal/repository"
	"github.com/unclebandit/clinicreach-backend/internal/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config:", err)
	}

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to DB:", err)
	}

	campaignRepo := &repository.CampaignRepository{DB: conn}
	enrollmentRepo := &repository.EnrollmentRepository{DB: conn}
	executionRepo := &repository.ExecutionRepository{DB: conn}
	recipientRepo := &repository.RecipientRepository{DB: conn}
	suppressionRepo := &repository.SuppressionRepository{DB: conn}

	matcher := &service.AudienceMatcher{Directory: recipientRepo}
	listener := &service.TriggerListener{
		Campaigns:   campaignRepo,
		Enrollments: enrollmentRepo,
		Matcher:     matcher,
	}

	guard := &service.ConsentRateGuard{
		Suppressions: suppressionRepo,
		Executions:   executionRepo,
	}

	var hub gateway.MessagingHub
	if cfg.HubURL != "" {
		hub = &gateway.HTTPHub{URL: cfg.HubURL, Client: &http.Client{Timeout: cfg.HubTimeout}}
	} else {
		log.Println("⚠️ HUB_URL not set, using mock messaging hub")
		hub = &gateway.MockHub{}
	}

	executor := &service.StepExecutor{
		Enrollments: enrollmentRepo,
		Executions:  executionRepo,
		Directory:   recipientRepo,
		Guard:       guard,
		Gateway:     &gateway.Gateway{Hub: hub, Timeout: cfg.HubTimeout},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Scheduler loops: each worker goroutine owns its lease identity;
	// exclusivity lives in the store, not in this process.
	for i := 0; i < cfg.WorkerCount; i++ {
		s := service.NewScheduler(enrollmentRepo, campaignRepo, executor)
		s.PollInterval = cfg.PollInterval
		s.LeaseDuration = cfg.LeaseDuration
		s.BatchSize = cfg.LeaseBatchSize
		go s.Run(ctx)
	}

	// Trigger ticks: scheduled/recurring campaigns are evaluated on a
	// fixed cadence; the engine keeps no timer state of its own.
	go func() {
		ticker := time.NewTicker(cfg.TickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := listener.OnTick(time.Now()); err != nil {
					log.Println("⚠️ trigger tick failed:", err)
				}
			}
		}
	}()

	// Domain events from the broker.
	go func() {
		for {
			if ctx.Err() != nil {
				return
			}
			amqpConn, err := amqp.Dial(cfg.AMQPURL)
			if err != nil {
				log.Println("⚠️ Failed to connect to RabbitMQ, retrying in 5s:", err)
				time.Sleep(5 * time.Second)
				continue
			}
			if err := queue.ConsumeDomainEvents(amqpConn, listener); err != nil {
				log.Println("⚠️ Domain event consumer stopped:", err)
			}
			amqpConn.Close()
			time.Sleep(time.Second)
		}
	}()

	log.Printf("Worker running with %d scheduler loops, waiting for work...", cfg.WorkerCount)
	<-ctx.Done()
	log.Println("Worker shutting down")
}

// cmd/server/main.go
package main

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/unclebandit/clinicreach-backend/internal/config"
	"github.com/unclebandit/clinicreach-backend/internal/controller"
	"github.com/unclebandit/clinicreach-backend/internal/db"
	"github.com/unclebandit/clinicreach-backend/internal/handler"
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

	q := queue.NewInMemoryQueue()
	queue.StartDomainEventSubscriber(q, listener)

	campaignService := &service.CampaignService{
		CampaignRepo:   campaignRepo,
		EnrollmentRepo: enrollmentRepo,
		RecipientRepo:  recipientRepo,
	}

	campaignController := &controller.CampaignController{
		CampaignService: campaignService,
	}

	campaignHandler := &handler.CampaignHandler{
		Service:      campaignService,
		Executions:   executionRepo,
		Suppressions: suppressionRepo,
		Queue:        q,
	}

	r := chi.NewRouter()

	// Campaign authoring + lifecycle
	r.Post("/campaigns", campaignController.CreateCampaign)
	r.Get("/campaigns", campaignController.ListCampaigns)
	r.Get("/campaigns/{id}", campaignController.GetCampaignDetails)
	r.Get("/campaigns/{id}/stats", campaignHandler.GetCampaignHandlerWithStats)
	r.Put("/campaigns/{id}", campaignController.UpdateCampaign)
	r.Delete("/campaigns/{id}", campaignController.DeleteCampaign)
	r.Post("/campaigns/{id}/activate", campaignController.Activate)
	r.Post("/campaigns/{id}/pause", campaignController.Pause)
	r.Post("/campaigns/{id}/resume", campaignController.Resume)
	r.Post("/campaigns/{id}/archive", campaignController.Archive)
	r.Post("/campaigns/{id}/test-send", campaignController.TestSend)
	r.Post("/campaigns/{id}/personalized-preview", campaignController.PersonalizedPreview)

	// Engine surface
	r.Get("/enrollments/{id}/history", campaignHandler.ListEnrollmentHistory)
	r.Post("/events", campaignHandler.IngestEvent)
	r.Post("/callbacks/delivery", campaignHandler.DeliveryCallback)
	r.Post("/suppressions", campaignHandler.AddSuppression)

	log.Println("🚀 Server running on", cfg.HTTPAddr)
	log.Fatal(http.ListenAndServe(cfg.HTTPAddr, r))
}

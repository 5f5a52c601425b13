package app

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/myaview/backend/internal/platform/apierr"
	"github.com/myaview/backend/internal/platform/logger"
	"github.com/myaview/backend/internal/services"
)

type Services struct {
	Embedding    services.EmbeddingService
	Retrieval    services.RetrievalService
	Privacy      services.PrivacyGate
	Assembler    services.ContextAssembler
	Chat         services.ChatService
	Family       services.FamilyService
	Orchestrator services.ChatOrchestrator
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, clients Clients, repos Repos) (Services, error) {
	log.Info("Wiring services...")

	embedding := services.NewEmbeddingService(log, clients.Ollama, clients.Cache)
	if err := checkEmbeddingDimension(log, embedding, repos); err != nil {
		return Services{}, err
	}

	retrieval := services.NewRetrievalService(log, embedding, repos.Graph, cfg.MaxTopK)
	privacy := services.NewPrivacyGate(log)
	assembler := services.NewContextAssembler(log)
	chatService := services.NewChatService(db, repos.Session, repos.Message, log)
	family := services.NewFamilyService(log, repos.Graph, privacy, cfg.AppointmentWindow)

	orchestrator := services.NewChatOrchestrator(
		log,
		services.OrchestratorConfig{
			HistoryLimit:      cfg.HistoryLimit,
			ContextBudget:     cfg.ContextBudget,
			TopK:              cfg.TopK,
			AppointmentWindow: cfg.AppointmentWindow,
			TitleModel:        cfg.TitleModel,
			TitleTimeout:      cfg.TitleTimeout,
		},
		chatService,
		retrieval,
		privacy,
		assembler,
		repos.Graph,
		clients.Ollama,
	)

	return Services{
		Embedding:    embedding,
		Retrieval:    retrieval,
		Privacy:      privacy,
		Assembler:    assembler,
		Chat:         chatService,
		Family:       family,
		Orchestrator: orchestrator,
	}, nil
}

// checkEmbeddingDimension verifies at startup that the embedding model and
// the vector index agree on dimensionality. A mismatch would make every
// similarity score garbage, so it is fatal, not per-request.
func checkEmbeddingDimension(log *logger.Logger, embedding services.EmbeddingService, repos Repos) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	modelDim, err := embedding.Probe(ctx)
	if err != nil {
		return apierr.Configuration(fmt.Errorf("probe embedding model: %w", err))
	}
	indexDim, err := repos.Graph.IndexDimension(ctx)
	if err != nil {
		return apierr.Configuration(fmt.Errorf("read vector index config: %w", err))
	}
	if modelDim != indexDim {
		return apierr.Configuration(fmt.Errorf(
			"embedding model emits %d-dimensional vectors but vector index stores %d", modelDim, indexDim))
	}
	log.Info("Embedding dimension check passed", "dimension", modelDim)
	return nil
}

package app

import (
	"fmt"

	"github.com/myaview/backend/internal/platform/logger"
	"github.com/myaview/backend/internal/platform/neo4jdb"
	"github.com/myaview/backend/internal/platform/ollama"
	"github.com/myaview/backend/internal/platform/rediscache"
)

type Clients struct {
	Neo4j  *neo4jdb.Client
	Ollama ollama.Client
	Cache  rediscache.VectorCache
}

func wireClients(log *logger.Logger) (Clients, error) {
	log.Info("Wiring clients...")

	neo, err := neo4jdb.NewFromEnv(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init neo4j: %w", err)
	}

	llm, err := ollama.NewClient(log)
	if err != nil {
		return Clients{}, fmt.Errorf("init ollama: %w", err)
	}

	// Cache is optional; nil means embeddings are computed every time.
	cache, err := rediscache.NewVectorCache(log)
	if err != nil {
		log.Warn("Could not init vector cache, continuing without", "error", err)
		cache = nil
	}

	return Clients{Neo4j: neo, Ollama: llm, Cache: cache}, nil
}

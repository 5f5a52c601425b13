package app

import (
	"github.com/gin-gonic/gin"

	"github.com/myaview/backend/internal/handlers"
	"github.com/myaview/backend/internal/platform/logger"
	"github.com/myaview/backend/internal/server"
)

type Handlers struct {
	Chat     *handlers.ChatHandler
	ChatWS   *handlers.ChatWSHandler
	Family   *handlers.FamilyHandler
	GraphRAG *handlers.GraphRAGHandler
}

func wireHandlers(log *logger.Logger, svcs Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Chat:     handlers.NewChatHandler(svcs.Chat, svcs.Orchestrator),
		ChatWS:   handlers.NewChatWSHandler(svcs.Orchestrator, log),
		Family:   handlers.NewFamilyHandler(svcs.Family),
		GraphRAG: handlers.NewGraphRAGHandler(svcs.Retrieval),
	}
}

func wireRouter(h Handlers) *gin.Engine {
	return server.NewRouter(server.RouterConfig{
		ChatHandler:     h.Chat,
		ChatWSHandler:   h.ChatWS,
		FamilyHandler:   h.Family,
		GraphRAGHandler: h.GraphRAG,
	})
}

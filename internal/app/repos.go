package app

import (
	"gorm.io/gorm"

	"github.com/myaview/backend/internal/data/graph"
	chatrepo "github.com/myaview/backend/internal/data/repos/chat"
	"github.com/myaview/backend/internal/platform/logger"
	"github.com/myaview/backend/internal/platform/neo4jdb"
)

type Repos struct {
	Session chatrepo.SessionRepo
	Message chatrepo.MessageRepo
	Graph   graph.Querier
}

func wireRepos(db *gorm.DB, neo *neo4jdb.Client, cfg Config, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Session: chatrepo.NewSessionRepo(db, log),
		Message: chatrepo.NewMessageRepo(db, log),
		Graph:   graph.WithTimeout(graph.NewQuerier(neo, log), cfg.GraphQueryTimeout),
	}
}

package app

import (
	"time"

	"github.com/myaview/backend/internal/platform/envutil"
	"github.com/myaview/backend/internal/platform/logger"
)

type Config struct {
	Port string

	// Retrieval
	TopK              int
	MaxTopK           int
	ContextBudget     int
	AppointmentWindow time.Duration
	GraphQueryTimeout time.Duration

	// Chat
	HistoryLimit int
	TitleModel   string
	TitleTimeout time.Duration
}

func LoadConfig(log *logger.Logger) Config {
	apptWindowDays := envutil.GetEnvAsInt("APPOINTMENT_WINDOW_DAYS", 180, log)
	return Config{
		Port:              envutil.GetEnv("PORT", "8080", log),
		TopK:              envutil.GetEnvAsInt("RETRIEVAL_TOP_K", 3, log),
		MaxTopK:           envutil.GetEnvAsInt("RETRIEVAL_MAX_TOP_K", 10, log),
		ContextBudget:     envutil.GetEnvAsInt("CONTEXT_BUDGET_CHARS", 8000, log),
		AppointmentWindow: time.Duration(apptWindowDays) * 24 * time.Hour,
		GraphQueryTimeout: envutil.GetEnvAsDuration("NEO4J_QUERY_TIMEOUT_SECONDS", 10*time.Second, log),
		HistoryLimit:      envutil.GetEnvAsInt("CHAT_HISTORY_LIMIT", 20, log),
		TitleModel:        envutil.GetEnv("OLLAMA_TITLE_MODEL", "", log),
		TitleTimeout:      envutil.GetEnvAsDuration("TITLE_TIMEOUT_SECONDS", 15*time.Second, log),
	}
}

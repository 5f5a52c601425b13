package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/myaview/backend/internal/data/graph"
	chatdomain "github.com/myaview/backend/internal/domain/chat"
	"github.com/myaview/backend/internal/domain/profile"
	"github.com/myaview/backend/internal/platform/apierr"
	"github.com/myaview/backend/internal/platform/logger"
	"github.com/myaview/backend/internal/platform/ollama"
)

// TurnState tracks one session-turn through its lifecycle. Terminal states
// are Finalized and Errored.
type TurnState int

const (
	StateIdle TurnState = iota
	StateAwaitingContext
	StateAwaitingCompletion
	StateStreaming
	StateFinalized
	StateErrored
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingContext:
		return "awaiting_context"
	case StateAwaitingCompletion:
		return "awaiting_completion"
	case StateStreaming:
		return "streaming"
	case StateFinalized:
		return "finalized"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Turn event types, mirrored onto the chat transport.
const (
	EventToken   = "token"
	EventContext = "context"
	EventDone    = "done"
	EventError   = "error"
)

type TurnEvent struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Model   string `json:"model,omitempty"`
}

// TurnEmitter forwards one event to the client. A non-nil return means the
// client can no longer receive (disconnect); the turn keeps running.
type TurnEmitter func(ev TurnEvent) error

type TurnRequest struct {
	SessionID uuid.UUID
	// MemberID overrides the session's owner for this turn when non-nil.
	MemberID *uuid.UUID
	Message  string
	// Images are base64 payloads attached to the model request; ImagePath
	// is the stored upload reference persisted on the message record.
	Images    []string
	ImagePath string
	// SkipContext disables retrieval for this turn (plain chat).
	SkipContext bool
}

type OrchestratorConfig struct {
	// HistoryLimit bounds conversation history in the prompt (messages).
	HistoryLimit int
	// ContextBudget is the assembled-context character budget.
	ContextBudget int
	// TopK is the retrieval depth per turn.
	TopK int
	// AppointmentWindow is the forward-looking recency window.
	AppointmentWindow time.Duration
	// TitleModel generates session titles; empty means the chat model.
	TitleModel string
	// TitleTimeout bounds the fire-and-forget title generation.
	TitleTimeout time.Duration
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.ContextBudget <= 0 {
		c.ContextBudget = 8000
	}
	if c.TopK <= 0 {
		c.TopK = 3
	}
	if c.AppointmentWindow <= 0 {
		c.AppointmentWindow = defaultAppointmentWindow
	}
	if c.TitleTimeout <= 0 {
		c.TitleTimeout = 15 * time.Second
	}
	return c
}

// ChatOrchestrator drives one chat turn end to end: persist the user
// message, build privacy-filtered context, stream the completion, persist
// the assistant message. Turns within one session run strictly one at a
// time; sessions are independent.
type ChatOrchestrator interface {
	RunTurn(ctx context.Context, req TurnRequest, emit TurnEmitter) error
	// GenerateTitle derives a short session title from the opening exchange
	// and stores it. Also used as the post-first-turn side effect.
	GenerateTitle(ctx context.Context, sessionID uuid.UUID) (string, error)
}

type orchestrator struct {
	log       *logger.Logger
	cfg       OrchestratorConfig
	chat      ChatService
	retrieval RetrievalService
	gate      PrivacyGate
	assembler ContextAssembler
	graph     graph.Querier
	llm       ollama.Client

	mu    sync.Mutex
	gates map[uuid.UUID]*turnGate
}

// turnGate serializes turns on one session. refs counts the holder plus all
// waiters so the map entry can be dropped once the session goes quiet.
type turnGate struct {
	mu   sync.Mutex
	refs int
}

func NewChatOrchestrator(
	log *logger.Logger,
	cfg OrchestratorConfig,
	chat ChatService,
	retrieval RetrievalService,
	gate PrivacyGate,
	assembler ContextAssembler,
	g graph.Querier,
	llm ollama.Client,
) ChatOrchestrator {
	return &orchestrator{
		log:       log.With("service", "ChatOrchestrator"),
		cfg:       cfg.withDefaults(),
		chat:      chat,
		retrieval: retrieval,
		gate:      gate,
		assembler: assembler,
		graph:     g,
		llm:       llm,
		gates:     make(map[uuid.UUID]*turnGate),
	}
}

// acquireGate returns the per-session turn gate. It serializes whole turns,
// not data access: a second turn on the same session blocks until the first
// reaches a terminal state.
func (o *orchestrator) acquireGate(id uuid.UUID) *turnGate {
	o.mu.Lock()
	defer o.mu.Unlock()
	g, ok := o.gates[id]
	if !ok {
		g = &turnGate{}
		o.gates[id] = g
	}
	g.refs++
	return g
}

func (o *orchestrator) releaseGate(id uuid.UUID, g *turnGate) {
	g.mu.Unlock()
	o.mu.Lock()
	defer o.mu.Unlock()
	g.refs--
	if g.refs == 0 {
		delete(o.gates, id)
	}
}

func (o *orchestrator) RunTurn(ctx context.Context, req TurnRequest, emit TurnEmitter) error {
	if req.Message == "" {
		err := apierr.Validation("message cannot be empty")
		o.emitError(emit, err)
		return err
	}
	if req.SessionID == uuid.Nil {
		err := apierr.Validation("missing session id")
		o.emitError(emit, err)
		return err
	}

	gate := o.acquireGate(req.SessionID)
	gate.mu.Lock()
	defer o.releaseGate(req.SessionID, gate)

	turn := &turnRun{req: req, emit: emit, state: StateIdle}
	err := o.runLocked(ctx, turn)
	if err != nil {
		turn.state = StateErrored
		o.emitError(emit, err)
		return err
	}
	return nil
}

// turnRun is the mutable state of one in-flight turn.
type turnRun struct {
	req   TurnRequest
	emit  TurnEmitter
	state TurnState

	// clientGone flips when the emitter fails; forwarding stops but the
	// completion drains so the full text can be persisted.
	clientGone bool

	session     *chatdomain.ChatSession
	personID    *uuid.UUID
	contextText string
	items       []profile.ContextItem
}

func (o *orchestrator) runLocked(ctx context.Context, t *turnRun) error {
	sess, err := o.chat.GetSession(ctx, t.req.SessionID)
	if err != nil {
		return err
	}
	t.session = sess

	t.personID = t.req.MemberID
	if t.personID == nil {
		t.personID = sess.FamilyMemberID
	}

	// The user's turn is history the moment it arrives. Everything that can
	// fail afterwards leaves it in place so retry is possible.
	userMsg := &chatdomain.ChatMessage{
		SessionID: sess.ID,
		Role:      chatdomain.RoleUser,
		Content:   t.req.Message,
		HasImage:  len(t.req.Images) > 0 || t.req.ImagePath != "",
		ImagePath: t.req.ImagePath,
	}
	if _, err := o.chat.AppendMessage(ctx, userMsg); err != nil {
		return err
	}

	t.state = StateAwaitingContext
	if err := o.buildContext(ctx, t); err != nil {
		return err
	}

	t.state = StateAwaitingCompletion
	messages, err := o.buildPrompt(ctx, t)
	if err != nil {
		return err
	}

	result, err := o.llm.ChatStream(ctx, ollama.ChatRequest{Messages: messages}, func(token string) error {
		if t.state == StateAwaitingCompletion {
			t.state = StateStreaming
		}
		if t.clientGone {
			return errClientGone
		}
		if err := t.emit(TurnEvent{Type: EventToken, Content: token}); err != nil {
			t.clientGone = true
			o.log.Warn("client gone mid-stream, draining completion", "session_id", t.session.ID)
			return errClientGone
		}
		return nil
	})
	if err != nil {
		// Partial output is discarded: a known-incomplete assistant claim
		// is never persisted as if complete.
		if errors.Is(err, context.DeadlineExceeded) {
			return apierr.GenerationTimeout(err)
		}
		return apierr.GenerationFailure(err)
	}

	assistantMsg := &chatdomain.ChatMessage{
		SessionID: t.session.ID,
		Role:      chatdomain.RoleAssistant,
		Content:   result.Content,
		Model:     result.Model,
	}
	if len(t.items) > 0 {
		if raw, err := json.Marshal(t.items); err == nil {
			assistantMsg.RetrievalContext = raw
		}
	}
	if _, err := o.chat.AppendMessage(ctx, assistantMsg); err != nil {
		return err
	}
	t.state = StateFinalized

	if !t.clientGone {
		if err := t.emit(TurnEvent{Type: EventDone, Content: result.Content, Model: result.Model}); err != nil {
			t.clientGone = true
		}
	}

	o.maybeGenerateTitle(t.session)
	return nil
}

var errClientGone = errors.New("client gone")

func (o *orchestrator) buildContext(ctx context.Context, t *turnRun) error {
	if t.req.SkipContext || t.personID == nil || *t.personID == uuid.Nil {
		return nil
	}
	personID := *t.personID

	prof, err := o.graph.GetProfile(ctx, personID, o.cfg.AppointmentWindow)
	if err != nil {
		return apierr.RetrievalUnavailable(fmt.Errorf("load profile: %w", err))
	}
	// A dangling member reference is an unknown owner, not a failure.
	if prof == nil {
		o.log.Warn("session references unknown family member", "member_id", personID)
		return nil
	}

	items, err := o.retrieval.Retrieve(ctx, t.req.Message, personID, o.cfg.TopK, o.cfg.AppointmentWindow)
	if err != nil {
		return err
	}

	actor := profile.ActorContext{ActorID: personID}
	filtered := o.gate.FilterItems(items, prof.Person, actor)
	filteredProfile := o.gate.FilterProfile(prof, actor)

	t.items = filtered
	t.contextText = o.assembler.Assemble(filteredProfile, filtered, o.cfg.ContextBudget)

	if t.contextText != "" && !t.clientGone {
		if err := t.emit(TurnEvent{Type: EventContext, Content: t.contextText}); err != nil {
			t.clientGone = true
		}
	}
	return nil
}

func (o *orchestrator) buildPrompt(ctx context.Context, t *turnRun) ([]ollama.Message, error) {
	messages := []ollama.Message{{Role: chatdomain.RoleSystem, Content: PersonaPrompt()}}
	if cp := ContextPrompt(t.contextText); cp != "" {
		messages = append(messages, ollama.Message{Role: chatdomain.RoleSystem, Content: cp})
	}

	// History already ends with the just-persisted user message.
	history, err := o.chat.RecentHistory(ctx, t.session.ID, o.cfg.HistoryLimit)
	if err != nil {
		return nil, err
	}
	for _, m := range history {
		if m.Role == chatdomain.RoleSystem {
			continue
		}
		messages = append(messages, ollama.Message{Role: m.Role, Content: m.Content})
	}

	if len(t.req.Images) > 0 && len(messages) > 0 {
		last := &messages[len(messages)-1]
		if last.Role == chatdomain.RoleUser {
			last.Images = t.req.Images
		}
	}
	return messages, nil
}

// maybeGenerateTitle fires the one-time title side effect after the first
// assistant turn. Best effort: failure never touches the turn's outcome.
func (o *orchestrator) maybeGenerateTitle(sess *chatdomain.ChatSession) {
	if sess.Title != "" && sess.Title != "New Chat" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), o.cfg.TitleTimeout)
		defer cancel()
		if _, err := o.GenerateTitle(ctx, sess.ID); err != nil {
			o.log.Warn("title generation failed", "session_id", sess.ID, "error", err)
		}
	}()
}

func (o *orchestrator) GenerateTitle(ctx context.Context, sessionID uuid.UUID) (string, error) {
	msgs, err := o.chat.ListMessages(ctx, sessionID, 4, 0)
	if err != nil {
		return "", err
	}
	if len(msgs) == 0 {
		return "New Chat", nil
	}

	transcript := make([]string, 0, len(msgs))
	for _, m := range msgs {
		transcript = append(transcript, m.Role+": "+truncateRunes(m.Content, 200))
	}

	title := ""
	result, err := o.llm.Chat(ctx, ollama.ChatRequest{
		Model: o.cfg.TitleModel,
		Messages: []ollama.Message{
			{Role: chatdomain.RoleUser, Content: TitlePrompt(transcript)},
		},
	})
	if err == nil {
		title = CleanTitle(result.Content)
	} else {
		o.log.Warn("title model call failed, falling back to first message", "session_id", sessionID, "error", err)
	}
	if title == "" {
		title = fallbackTitle(msgs)
	}

	if _, err := o.chat.UpdateSession(ctx, sessionID, SessionUpdate{Title: &title}); err != nil {
		return "", err
	}
	return title, nil
}

func fallbackTitle(msgs []*chatdomain.ChatMessage) string {
	for _, m := range msgs {
		if m.Role == chatdomain.RoleUser && m.Content != "" {
			return truncateRunes(m.Content, 50)
		}
	}
	return "New Chat"
}

func (o *orchestrator) emitError(emit TurnEmitter, err error) {
	if emit == nil {
		return
	}
	// Clients get the taxonomy text, never raw collaborator errors.
	_ = emit(TurnEvent{Type: EventError, Content: apierr.UserMessage(err)})
}

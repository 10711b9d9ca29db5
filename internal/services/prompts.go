package services

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"naviguard/backend/internal/executor"
	"naviguard/backend/internal/models"
)

var (
	ErrPromptNotFound = errors.New("credential prompt not found")
	ErrPromptTimeout  = errors.New("credential prompt timed out")
)

// Prompt is a pending credential request shown to the operator of a session.
type Prompt struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	RunID     string    `json:"run_id"`
	Step      int       `json:"step"`
	Domain    string    `json:"domain"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"created_at"`
}

// PromptAnswer is the operator's reply. Cancel declines the prompt.
type PromptAnswer struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Cancel   bool   `json:"cancel"`
}

type pendingPrompt struct {
	prompt Prompt
	answer chan PromptAnswer
}

// PromptBroker turns replay credential requests into websocket prompts and
// routes the operator's answer back to the waiting replay.
type PromptBroker struct {
	publisher Publisher
	timeout   time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingPrompt
}

// NewPromptBroker creates a broker. A zero timeout waits until the replay is
// cancelled.
func NewPromptBroker(publisher Publisher, timeout time.Duration, logger *zap.Logger) *PromptBroker {
	return &PromptBroker{
		publisher: publisher,
		timeout:   timeout,
		logger:    logger.Named("prompt_broker"),
		pending:   make(map[string]*pendingPrompt),
	}
}

// For returns a Prompter that asks the operator of sessionID.
func (b *PromptBroker) For(sessionID string) executor.Prompter {
	return sessionPrompter{broker: b, sessionID: sessionID}
}

type sessionPrompter struct {
	broker    *PromptBroker
	sessionID string
}

func (p sessionPrompter) PromptCredentials(ctx context.Context, req executor.PromptRequest) (models.Credential, bool, error) {
	return p.broker.ask(ctx, p.sessionID, req)
}

func (b *PromptBroker) ask(ctx context.Context, sessionID string, req executor.PromptRequest) (models.Credential, bool, error) {
	p := &pendingPrompt{
		prompt: Prompt{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			RunID:     req.RunID,
			Step:      req.Step,
			Domain:    req.Domain,
			URL:       req.URL,
			CreatedAt: time.Now(),
		},
		answer: make(chan PromptAnswer, 1),
	}

	b.mu.Lock()
	b.pending[p.prompt.ID] = p
	b.mu.Unlock()
	defer b.forget(p.prompt.ID)

	log := b.logger.With(
		zap.String("prompt_id", p.prompt.ID),
		zap.String("session_id", sessionID),
		zap.String("domain", req.Domain))
	log.Info("Waiting for operator credentials")
	b.publisher.Publish(sessionID, KindPrompt, p.prompt)

	var timeout <-chan time.Time
	if b.timeout > 0 {
		timer := time.NewTimer(b.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case a := <-p.answer:
		if a.Cancel {
			log.Info("Operator declined credential prompt")
			return models.Credential{}, false, nil
		}
		log.Info("Operator supplied credentials", zap.String("username", a.Username))
		return models.Credential{Username: a.Username, Password: a.Password}, true, nil
	case <-ctx.Done():
		return models.Credential{}, false, ctx.Err()
	case <-timeout:
		log.Warn("Credential prompt timed out")
		return models.Credential{}, false, ErrPromptTimeout
	}
}

func (b *PromptBroker) forget(id string) {
	b.mu.Lock()
	p, ok := b.pending[id]
	delete(b.pending, id)
	b.mu.Unlock()
	if ok {
		b.publisher.Publish(p.prompt.SessionID, KindPromptClosed, map[string]string{"id": id})
	}
}

// Lookup returns a pending prompt.
func (b *PromptBroker) Lookup(id string) (Prompt, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.pending[id]
	if !ok {
		return Prompt{}, false
	}
	return p.prompt, true
}

// Pending lists the open prompts of sessionID, oldest first.
func (b *PromptBroker) Pending(sessionID string) []Prompt {
	b.mu.Lock()
	prompts := make([]Prompt, 0, len(b.pending))
	for _, p := range b.pending {
		if p.prompt.SessionID == sessionID {
			prompts = append(prompts, p.prompt)
		}
	}
	b.mu.Unlock()
	sort.Slice(prompts, func(i, j int) bool { return prompts[i].CreatedAt.Before(prompts[j].CreatedAt) })
	return prompts
}

// Answer delivers the operator's reply. Each prompt accepts one answer.
func (b *PromptBroker) Answer(id string, answer PromptAnswer) error {
	b.mu.Lock()
	p, ok := b.pending[id]
	delete(b.pending, id)
	b.mu.Unlock()
	if !ok {
		return ErrPromptNotFound
	}
	p.answer <- answer
	b.publisher.Publish(p.prompt.SessionID, KindPromptClosed, map[string]string{"id": id})
	return nil
}

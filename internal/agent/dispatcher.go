package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/lightupdev/lightup/internal/apperr"
	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/events"
	"github.com/lightupdev/lightup/internal/plan"
)

// Dispatcher runs the card dispatch pipeline: plan generation, session
// creation, and the initial prompt.
type Dispatcher struct {
	store  *db.DB
	client *Client
	bus    *events.Bus
	logger *slog.Logger
}

// DispatcherConfig holds Dispatcher dependencies.
type DispatcherConfig struct {
	Store  *db.DB
	Client *Client
	Bus    *events.Bus
	Logger *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		store:  cfg.Store,
		client: cfg.Client,
		bus:    cfg.Bus,
		logger: logger,
	}
}

// Dispatch generates a fresh plan for the card and hands it to a new agent
// session. Plan generation failures propagate without marking the card
// failed; session failures mark it failed while preserving the plan path.
func (d *Dispatcher) Dispatch(ctx context.Context, card *db.Card) error {
	if err := d.checkWorkingDirectory(card); err != nil {
		return err
	}

	subtasks, err := d.store.ListSubtasks(card.ID)
	if err != nil {
		return fmt.Errorf("list subtasks: %w", err)
	}
	planPath, err := plan.Write(card, subtasks)
	if err != nil {
		return fmt.Errorf("generate plan: %w", err)
	}

	return d.startSession(ctx, card, planPath)
}

// DispatchWithPlan hands an already-written plan to a new agent session.
// Used when a reviewed card returns to todo with feedback appended.
func (d *Dispatcher) DispatchWithPlan(ctx context.Context, card *db.Card, planPath string) error {
	if err := d.checkWorkingDirectory(card); err != nil {
		return err
	}
	return d.startSession(ctx, card, planPath)
}

// Forward sends a follow-up message, such as a question answer, to an
// existing session.
func (d *Dispatcher) Forward(ctx context.Context, sessionID, message string) error {
	return d.client.PromptAsync(ctx, sessionID, message)
}

// Abort asks the runtime to stop the card's session.
func (d *Dispatcher) Abort(ctx context.Context, card *db.Card) error {
	if card.AiSessionID == nil || *card.AiSessionID == "" {
		return apperr.ErrNoSession(card.ID)
	}
	return d.client.Abort(ctx, *card.AiSessionID)
}

func (d *Dispatcher) checkWorkingDirectory(card *db.Card) error {
	info, err := os.Stat(card.WorkingDirectory)
	if err == nil && info.IsDir() {
		return nil
	}

	d.logger.Warn("working directory missing, dispatch failed",
		"card_id", card.ID, "working_directory", card.WorkingDirectory)
	if dbErr := d.markFailed(card, card.PlanPath); dbErr != nil {
		return dbErr
	}
	return apperr.ErrWorkdirMissing(card.WorkingDirectory)
}

func (d *Dispatcher) startSession(ctx context.Context, card *db.Card, planPath string) error {
	sessionID, err := d.client.CreateSession(ctx, card.WorkingDirectory)
	if err != nil {
		d.logger.Error("session creation failed", "card_id", card.ID, "error", err)
		if dbErr := d.markFailed(card, &planPath); dbErr != nil {
			return dbErr
		}
		return apperr.ErrAgentUnavailable(err)
	}

	prompt := fmt.Sprintf("Work through the plan at %s. Check off each TODO as you finish it.", planPath)
	if err := d.client.PromptAsync(ctx, sessionID, prompt); err != nil {
		d.logger.Error("initial prompt failed", "card_id", card.ID, "session_id", sessionID, "error", err)
		if dbErr := d.markFailed(card, &planPath); dbErr != nil {
			return dbErr
		}
		return fmt.Errorf("prompt session: %w", err)
	}

	if err := d.store.SetDispatched(card.ID, sessionID, planPath); err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	d.logger.Info("card dispatched", "card_id", card.ID, "session_id", sessionID, "plan_path", planPath)
	d.publishStatus(card.ID)
	return nil
}

func (d *Dispatcher) markFailed(card *db.Card, planPath *string) error {
	if err := d.store.SetDispatchFailed(card.ID, planPath); err != nil {
		return fmt.Errorf("mark dispatch failed: %w", err)
	}
	d.publishStatus(card.ID)
	return nil
}

func (d *Dispatcher) publishStatus(cardID string) {
	card, err := d.store.GetCard(cardID)
	if err != nil {
		d.logger.Error("load card for event", "card_id", cardID, "error", err)
		return
	}
	d.bus.Publish(events.AiStatusChanged(card.ID, string(card.AiStatus), card.AiProgress,
		string(card.Stage), card.AiSessionID))
}

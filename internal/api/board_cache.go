package api

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/workflow"
)

// StageColumn is one column of a board summary.
type StageColumn struct {
	Stage workflow.Stage `json:"stage"`
	Cards []*db.Card     `json:"cards"`
	Count int            `json:"count"`
}

// BoardSummary groups a board's cards by stage in board order.
type BoardSummary struct {
	BoardID     string        `json:"board_id"`
	Columns     []StageColumn `json:"columns"`
	TotalCards  int           `json:"total_cards"`
	GeneratedAt time.Time     `json:"generated_at"`
}

type cachedSummary struct {
	summary  *BoardSummary
	loadedAt time.Time
}

// boardCache provides a TTL-based cache for board summaries, with
// singleflight coalescing to prevent redundant concurrent loads.
type boardCache struct {
	mu        sync.RWMutex
	summaries map[string]cachedSummary
	ttl       time.Duration
	group     singleflight.Group
	store     *db.DB
}

// newBoardCache creates a new board summary cache with the given TTL.
func newBoardCache(store *db.DB, ttl time.Duration) *boardCache {
	return &boardCache{
		summaries: make(map[string]cachedSummary),
		ttl:       ttl,
		store:     store,
	}
}

// Summary returns the cached summary or builds it from the store.
// Concurrent callers for the same board share a single load.
func (c *boardCache) Summary(boardID string) (*BoardSummary, error) {
	c.mu.RLock()
	if entry, ok := c.summaries[boardID]; ok && time.Since(entry.loadedAt) < c.ttl {
		c.mu.RUnlock()
		return entry.summary, nil
	}
	c.mu.RUnlock()

	result, err, _ := c.group.Do(boardID, func() (any, error) {
		// Double-check after acquiring the singleflight slot
		c.mu.RLock()
		if entry, ok := c.summaries[boardID]; ok && time.Since(entry.loadedAt) < c.ttl {
			c.mu.RUnlock()
			return entry.summary, nil
		}
		c.mu.RUnlock()

		summary, err := c.build(boardID)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.summaries[boardID] = cachedSummary{summary: summary, loadedAt: time.Now()}
		c.mu.Unlock()
		return summary, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*BoardSummary), nil
}

func (c *boardCache) build(boardID string) (*BoardSummary, error) {
	cards, err := c.store.ListCards(boardID)
	if err != nil {
		return nil, err
	}

	byStage := make(map[workflow.Stage][]*db.Card)
	for _, card := range cards {
		byStage[card.Stage] = append(byStage[card.Stage], card)
	}

	summary := &BoardSummary{
		BoardID:     boardID,
		TotalCards:  len(cards),
		GeneratedAt: time.Now(),
	}
	for _, stage := range workflow.Stages {
		column := StageColumn{Stage: stage, Cards: byStage[stage], Count: len(byStage[stage])}
		if column.Cards == nil {
			column.Cards = []*db.Card{}
		}
		summary.Columns = append(summary.Columns, column)
	}
	return summary, nil
}

// Invalidate clears one board's summary, forcing the next call to rebuild.
func (c *boardCache) Invalidate(boardID string) {
	c.mu.Lock()
	delete(c.summaries, boardID)
	c.mu.Unlock()
}

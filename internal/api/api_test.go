package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lightupdev/lightup/internal/agent"
	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/events"
	"github.com/lightupdev/lightup/internal/gitx"
	"github.com/lightupdev/lightup/internal/workflow"
)

// fakeRuntime stands in for the agent runtime HTTP API.
type fakeRuntime struct {
	mu       sync.Mutex
	sessions int
	prompts  []string
	aborted  []string
}

func (f *fakeRuntime) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /session", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.sessions++
		id := fmt.Sprintf("sess-%d", f.sessions)
		f.mu.Unlock()
		json.NewEncoder(w).Encode(map[string]string{"id": id})
	})
	mux.HandleFunc("POST /session/{id}/prompt_async", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.prompts = append(f.prompts, body["prompt"])
		f.mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("POST /session/{id}/abort", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.aborted = append(f.aborted, r.PathValue("id"))
		f.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

type testEnv struct {
	server     *Server
	store      *db.DB
	bus        *events.Bus
	runtime    *fakeRuntime
	dispatcher *agent.Dispatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	runtime := &fakeRuntime{}
	runtimeSrv := httptest.NewServer(runtime.handler())
	t.Cleanup(runtimeSrv.Close)

	store := db.NewTestDB(t)
	bus := events.NewBus()
	t.Cleanup(bus.Close)

	dispatcher := agent.NewDispatcher(agent.DispatcherConfig{
		Store:  store,
		Client: agent.NewClient(runtimeSrv.URL),
		Bus:    bus,
	})
	server := New(Config{
		Addr:       ":0",
		Store:      store,
		Bus:        bus,
		Git:        gitx.NewService(gitx.ServiceConfig{}),
		Dispatcher: dispatcher,
	})
	return &testEnv{server: server, store: store, bus: bus, runtime: runtime, dispatcher: dispatcher}
}

// do performs a request against the server and decodes the JSON response.
func (e *testEnv) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	if out != nil && rec.Code < 300 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
	}
	return rec
}

func (e *testEnv) newBoard(t *testing.T) *db.Board {
	t.Helper()
	var board db.Board
	rec := e.do(t, "POST", "/api/boards", map[string]any{"name": "Main"}, &board)
	require.Equal(t, http.StatusCreated, rec.Code)
	return &board
}

func (e *testEnv) newCard(t *testing.T, boardID string, fields map[string]any) *db.Card {
	t.Helper()
	payload := map[string]any{"board_id": boardID, "title": "Test card"}
	for k, v := range fields {
		payload[k] = v
	}
	var card db.Card
	rec := e.do(t, "POST", "/api/cards", payload, &card)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return &card
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t)
	var out map[string]string
	rec := e.do(t, "GET", "/api/health", nil, &out)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", out["status"])
}

func TestFullLifecycle(t *testing.T) {
	e := newTestEnv(t)
	board := e.newBoard(t)
	card := e.newCard(t, board.ID, map[string]any{
		"title":             "E2E",
		"working_directory": t.TempDir(),
	})
	assert.Equal(t, workflow.StageBacklog, card.Stage)

	for _, title := range []string{"first", "second", "third"} {
		rec := e.do(t, "POST", "/api/cards/"+card.ID+"/subtasks", map[string]any{"title": title}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := e.do(t, "POST", "/api/cards/"+card.ID+"/comments",
		map[string]any{"author": "alice", "content": "looks promising"}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var label db.Label
	rec = e.do(t, "POST", "/api/labels", map[string]any{"name": "backend", "color": "#00f"}, &label)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = e.do(t, "POST", "/api/cards/"+card.ID+"/labels", map[string]any{"label_id": label.ID}, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	var moved db.Card
	rec = e.do(t, "PATCH", "/api/cards/"+card.ID+"/move", map[string]any{"stage": "plan"}, &moved)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StagePlan, moved.Stage)

	rec = e.do(t, "PATCH", "/api/cards/"+card.ID+"/move", map[string]any{"stage": "todo"}, &moved)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StageTodo, moved.Stage)

	var fresh db.Card
	rec = e.do(t, "GET", "/api/cards/"+card.ID, nil, &fresh)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, workflow.StageTodo, fresh.Stage)

	var subtasks []*db.Subtask
	e.do(t, "GET", "/api/cards/"+card.ID+"/subtasks", nil, &subtasks)
	assert.Len(t, subtasks, 3)
	var comments []*db.Comment
	e.do(t, "GET", "/api/cards/"+card.ID+"/comments", nil, &comments)
	assert.Len(t, comments, 1)
	var labels []*db.Label
	e.do(t, "GET", "/api/cards/"+card.ID+"/labels", nil, &labels)
	assert.Len(t, labels, 1)
}

func TestBoardSummary(t *testing.T) {
	e := newTestEnv(t)
	board := e.newBoard(t)
	e.newCard(t, board.ID, map[string]any{"title": "one"})
	card := e.newCard(t, board.ID, map[string]any{"title": "two"})

	var summary BoardSummary
	rec := e.do(t, "GET", "/api/boards/"+board.ID+"/summary", nil, &summary)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, summary.Columns, 6)
	assert.Equal(t, workflow.StageBacklog, summary.Columns[0].Stage)
	assert.Equal(t, 2, summary.Columns[0].Count)
	assert.Equal(t, 2, summary.TotalCards)

	// Moving a card invalidates the cached summary.
	rec = e.do(t, "PATCH", "/api/cards/"+card.ID+"/move", map[string]any{"stage": "plan"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.do(t, "GET", "/api/boards/"+board.ID+"/summary", nil, &summary)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, summary.Columns[0].Count)
	assert.Equal(t, 1, summary.Columns[1].Count)
}

func TestIllegalMoveRejected(t *testing.T) {
	e := newTestEnv(t)
	board := e.newBoard(t)
	card := e.newCard(t, board.ID, nil)

	rec := e.do(t, "PATCH", "/api/cards/"+card.ID+"/move", map[string]any{"stage": "done"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadRequest, body.Status)
	assert.Contains(t, body.Error, "backlog")
	assert.Contains(t, body.Error, "done")
}

func TestMoveToTodoDispatches(t *testing.T) {
	e := newTestEnv(t)
	board := e.newBoard(t)
	card := e.newCard(t, board.ID, map[string]any{
		"stage":             "plan",
		"working_directory": t.TempDir(),
	})

	var moved db.Card
	rec := e.do(t, "PATCH", "/api/cards/"+card.ID+"/move", map[string]any{"stage": "todo"}, &moved)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StageTodo, moved.Stage)
	assert.Equal(t, workflow.AiDispatched, moved.AiStatus)
	require.NotNil(t, moved.AiSessionID)
	assert.Equal(t, 1, e.runtime.sessions)
}

func TestCreateInTodoEntersQueue(t *testing.T) {
	e := newTestEnv(t)
	board := e.newBoard(t)
	card := e.newCard(t, board.ID, map[string]any{
		"stage":             "todo",
		"working_directory": t.TempDir(),
	})
	assert.Equal(t, workflow.AiQueued, card.AiStatus)
	assert.Equal(t, 0, e.runtime.sessions, "creation must not dispatch directly")

	q := agent.NewQueue(agent.QueueConfig{Store: e.store, Dispatcher: e.dispatcher})
	q.Tick(context.Background())

	fresh, err := e.store.GetCard(card.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.AiDispatched, fresh.AiStatus)
	require.NotNil(t, fresh.AiSessionID)
	assert.Equal(t, 1, e.runtime.sessions)
}

func TestUpdateCardQueuesForDispatch(t *testing.T) {
	e := newTestEnv(t)
	board := e.newBoard(t)
	card := e.newCard(t, board.ID, map[string]any{
		"stage":             "todo",
		"working_directory": t.TempDir(),
	})
	require.NoError(t, e.store.SetAiStatus(card.ID, workflow.AiIdle))

	var updated db.Card
	rec := e.do(t, "PATCH", "/api/cards/"+card.ID, map[string]any{"ai_status": "queued"}, &updated)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.AiQueued, updated.AiStatus)

	queued, err := e.store.ListQueuedCards(10)
	require.NoError(t, err)
	require.Len(t, queued, 1)
	assert.Equal(t, card.ID, queued[0].ID)

	// The dispatcher-owned statuses are not settable over the API.
	rec = e.do(t, "PATCH", "/api/cards/"+card.ID, map[string]any{"ai_status": "working"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedispatchAfterReview(t *testing.T) {
	e := newTestEnv(t)
	board := e.newBoard(t)
	workDir := t.TempDir()
	card := e.newCard(t, board.ID, map[string]any{
		"title":             "Reviewed card",
		"stage":             "plan",
		"working_directory": workDir,
	})

	// First dispatch writes the plan.
	rec := e.do(t, "PATCH", "/api/cards/"+card.ID+"/move", map[string]any{"stage": "todo"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// Simulate the agent finishing: relay would park the card in review.
	require.NoError(t, e.store.MoveCard(card.ID, workflow.StageReview, 1000))
	require.NoError(t, e.store.SetAiStatus(card.ID, workflow.AiCompleted))

	for _, content := range []string{"rename the helper", "add a test", "tighten the query"} {
		rec := e.do(t, "POST", "/api/cards/"+card.ID+"/comments",
			map[string]any{"author": "reviewer", "content": content}, nil)
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	var moved db.Card
	rec = e.do(t, "PATCH", "/api/cards/"+card.ID+"/move", map[string]any{"stage": "todo"}, &moved)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, workflow.StageTodo, moved.Stage)
	assert.Equal(t, workflow.AiDispatched, moved.AiStatus)
	assert.Equal(t, 2, e.runtime.sessions, "re-dispatch opens a fresh session")

	require.NotNil(t, moved.PlanPath)
	body, err := os.ReadFile(*moved.PlanPath)
	require.NoError(t, err)
	text := string(body)
	idx := strings.Index(text, "## Review Feedback")
	require.GreaterOrEqual(t, idx, 0, "plan must carry the feedback block:\n%s", text)
	block := text[idx:]
	first := strings.Index(block, "rename the helper")
	second := strings.Index(block, "add a test")
	third := strings.Index(block, "tighten the query")
	require.True(t, first >= 0 && second >= 0 && third >= 0, block)
	assert.Less(t, first, second)
	assert.Less(t, second, third)
}

func TestRedispatchWithoutPlanFails(t *testing.T) {
	e := newTestEnv(t)
	board := e.newBoard(t)
	card := e.newCard(t, board.ID, map[string]any{"working_directory": t.TempDir()})

	// Park the card in review without a plan on record.
	require.NoError(t, e.store.MoveCard(card.ID, workflow.StageReview, 1000))

	var moved db.Card
	rec := e.do(t, "PATCH", "/api/cards/"+card.ID+"/move", map[string]any{"stage": "todo"}, &moved)
	require.Equal(t, http.StatusOK, rec.Code, "the move itself stands")
	assert.Equal(t, workflow.StageTodo, moved.Stage)
	assert.Equal(t, workflow.AiFailed, moved.AiStatus)
	assert.Equal(t, 0, e.runtime.sessions)
}

func TestCardNotFound(t *testing.T) {
	e := newTestEnv(t)
	rec := e.do(t, "GET", "/api/cards/nope", nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var body struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, http.StatusNotFound, body.Status)
	assert.Contains(t, body.Error, "nope")
}

func TestUpdateCardSnapshotsVersion(t *testing.T) {
	e := newTestEnv(t)
	board := e.newBoard(t)
	card := e.newCard(t, board.ID, nil)

	rec := e.do(t, "PATCH", "/api/cards/"+card.ID, map[string]any{"title": "Renamed"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var versions []*db.CardVersion
	e.do(t, "GET", "/api/cards/"+card.ID+"/versions", nil, &versions)
	require.Len(t, versions, 1)
}

func TestDeleteCard(t *testing.T) {
	e := newTestEnv(t)
	board := e.newBoard(t)
	card := e.newCard(t, board.ID, nil)

	rec := e.do(t, "DELETE", "/api/cards/"+card.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = e.do(t, "GET", "/api/cards/"+card.ID, nil, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettingsRoundTrip(t *testing.T) {
	e := newTestEnv(t)

	rec := e.do(t, "PUT", "/api/settings/ai_concurrency", map[string]any{"value": "3"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var out map[string]string
	rec = e.do(t, "GET", "/api/settings/ai_concurrency", nil, &out)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "3", out["value"])
}

func TestBoardSettingsRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	board := e.newBoard(t)

	rec := e.do(t, "PUT", "/api/boards/"+board.ID+"/settings",
		map[string]any{"codebase_path": "/srv/repo"}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var settings db.BoardSettings
	rec = e.do(t, "GET", "/api/boards/"+board.ID+"/settings", nil, &settings)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "/srv/repo", settings.CodebasePath)
}

func TestAuthToken(t *testing.T) {
	runtime := &fakeRuntime{}
	runtimeSrv := httptest.NewServer(runtime.handler())
	t.Cleanup(runtimeSrv.Close)

	store := db.NewTestDB(t)
	bus := events.NewBus()
	t.Cleanup(bus.Close)
	server := New(Config{
		Store:     store,
		Bus:       bus,
		Git:       gitx.NewService(gitx.ServiceConfig{}),
		AuthToken: "secret",
		Dispatcher: agent.NewDispatcher(agent.DispatcherConfig{
			Store: store, Client: agent.NewClient(runtimeSrv.URL), Bus: bus,
		}),
	})

	req := httptest.NewRequest("GET", "/api/boards", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest("GET", "/api/boards", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAnswerQuestion(t *testing.T) {
	e := newTestEnv(t)
	board := e.newBoard(t)
	card := e.newCard(t, board.ID, map[string]any{"working_directory": t.TempDir()})
	require.NoError(t, e.store.SetDispatched(card.ID, "sess-q", "/tmp/plan.md"))
	require.NoError(t, e.store.SetAiStatus(card.ID, workflow.AiWaitingInput))

	question := &db.AiQuestion{
		CardID:       card.ID,
		SessionID:    "sess-q",
		Question:     "Which database?",
		QuestionType: db.QuestionSelect,
		Options:      []string{"sqlite", "postgres"},
	}
	require.NoError(t, e.store.CreateQuestion(question))

	rec := e.do(t, "POST", "/api/questions/"+question.ID+"/answer", map[string]any{"answer": "sqlite"}, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	fresh, err := e.store.GetCard(card.ID)
	require.NoError(t, err)
	assert.Equal(t, workflow.AiWorking, fresh.AiStatus)

	e.runtime.mu.Lock()
	defer e.runtime.mu.Unlock()
	require.Len(t, e.runtime.prompts, 1)
	assert.Contains(t, e.runtime.prompts[0], "sqlite")
}

func TestAnswerQuestionRejectsUnknownOption(t *testing.T) {
	e := newTestEnv(t)
	board := e.newBoard(t)
	card := e.newCard(t, board.ID, nil)

	question := &db.AiQuestion{
		CardID:       card.ID,
		Question:     "Which database?",
		QuestionType: db.QuestionSelect,
		Options:      []string{"sqlite", "postgres"},
	}
	require.NoError(t, e.store.CreateQuestion(question))

	rec := e.do(t, "POST", "/api/questions/"+question.ID+"/answer", map[string]any{"answer": "mysql"}, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "one of")
}

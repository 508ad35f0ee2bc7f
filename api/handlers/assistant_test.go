package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leesite/agentlee/agent/conversation"
	"github.com/leesite/agentlee/agent/memory"
	"github.com/leesite/agentlee/agent/persistence"
	"github.com/leesite/agentlee/types"
)

const testFallback = "I'm not sure yet."

type assistantFixture struct {
	handler  *AssistantHandler
	mux      *http.ServeMux
	training *memory.TrainingSystem
	convo    *conversation.Manager
}

func newAssistantFixture(t *testing.T) *assistantFixture {
	t.Helper()
	store := persistence.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	training, err := memory.NewTrainingSystem(memory.DefaultConfig(), store, nil, zap.NewNop())
	require.NoError(t, err)
	convo, err := conversation.NewManager(conversation.DefaultConfig(), store, zap.NewNop())
	require.NoError(t, err)

	h := NewAssistantHandler(training, convo, testFallback, zap.NewNop())
	mux := http.NewServeMux()
	h.Register(mux)
	return &assistantFixture{handler: h, mux: mux, training: training, convo: convo}
}

func (f *assistantFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, r)
	return w
}

// decodeData 将 Response.Data 解码到 dst
func decodeData(t *testing.T, w *httptest.ResponseRecorder, dst any) {
	t.Helper()
	var raw struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&raw))
	require.True(t, raw.Success, "response should succeed")
	require.NoError(t, json.Unmarshal(raw.Data, dst))
}

func (f *assistantFixture) ask(t *testing.T, userID, message string) AskResponse {
	t.Helper()
	w := f.do(t, http.MethodPost, "/api/v1/ask", AskRequest{UserID: userID, Message: message})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp AskResponse
	decodeData(t, w, &resp)
	return resp
}

// =============================================================================
// 🧪 Ask
// =============================================================================

func TestAssistantHandler_AskKnowledgeHit(t *testing.T) {
	f := newAssistantFixture(t)
	w := f.do(t, http.MethodPost, "/api/v1/teach", TeachRequest{Pattern: "What are your hours?", Response: "We are open 9am to 5pm."})
	require.Equal(t, http.StatusOK, w.Code)

	resp := f.ask(t, "u1", "what are your hours")
	assert.Equal(t, "u1", resp.UserID)
	assert.Equal(t, "We are open 9am to 5pm.", resp.Reply)
	assert.Equal(t, memory.SourceKnowledge, resp.Source)
	assert.Equal(t, 1.0, resp.Confidence)
	assert.Equal(t, conversation.IntentQuestion, resp.Intent)

	history := f.convo.History(context.Background(), "u1", 0)
	require.Len(t, history, 2)
	assert.Equal(t, types.RoleUser, history[0].Role)
	assert.Equal(t, types.RoleAgent, history[1].Role)
	assert.Equal(t, "We are open 9am to 5pm.", history[1].Text)
	assert.Equal(t, memory.SourceKnowledge, history[1].Metadata["source"])
}

func TestAssistantHandler_AskMissUsesFallback(t *testing.T) {
	f := newAssistantFixture(t)

	resp := f.ask(t, "u1", "xyzzy plugh")
	assert.Equal(t, testFallback, resp.Reply)
	assert.Equal(t, memory.SourceNone, resp.Source)
	assert.Zero(t, resp.Confidence)

	f.handler.SetFallbackResponse("Ask me later.")
	assert.Equal(t, "Ask me later.", f.ask(t, "u1", "xyzzy plugh").Reply)
}

func TestAssistantHandler_AskRecordsInteraction(t *testing.T) {
	f := newAssistantFixture(t)

	f.ask(t, "u1", "xyzzy plugh")
	stats := f.training.Stats()
	assert.Equal(t, int64(1), stats.TotalInteractions)
	assert.Equal(t, int64(1), stats.FailedResponses)
	assert.Zero(t, stats.SuccessfulResponses)
	assert.Equal(t, 1, stats.ShortTermMemories)
	assert.Zero(t, f.training.CountKnowledgeItems())

	f.do(t, http.MethodPost, "/api/v1/teach", TeachRequest{Pattern: "What are your hours?", Response: "We are open 9am to 5pm."})
	f.ask(t, "u1", "what are your hours")
	stats = f.training.Stats()
	assert.Equal(t, int64(2), stats.TotalInteractions)
	assert.Equal(t, int64(1), stats.SuccessfulResponses)

	resp := f.ask(t, "u1", "hello")
	require.Equal(t, conversation.IntentGreeting, resp.Intent)
	assert.Equal(t, int64(2), f.training.Stats().TotalInteractions)
}

func TestAssistantHandler_AskGreetingExtractsName(t *testing.T) {
	f := newAssistantFixture(t)

	resp := f.ask(t, "u2", "Hello, my name is Sam")
	assert.Equal(t, conversation.IntentGreeting, resp.Intent)
	assert.Equal(t, "greeting", resp.Source)
	assert.Contains(t, resp.Reply, "Sam")
	require.NotNil(t, resp.Extracted)
	assert.Equal(t, "Sam", resp.Extracted.Name)

	profile, ok := f.convo.Profile(context.Background(), "u2")
	require.True(t, ok)
	assert.Equal(t, "Sam", profile.Name)
	assert.Equal(t, 1, profile.VisitCount)
}

func TestAssistantHandler_AskAssignsVisitorID(t *testing.T) {
	f := newAssistantFixture(t)

	resp := f.ask(t, "", "anything new?")
	assert.True(t, strings.HasPrefix(resp.UserID, "visitor-"), resp.UserID)
	_, ok := f.convo.Profile(context.Background(), resp.UserID)
	assert.True(t, ok)
}

func TestAssistantHandler_AskValidation(t *testing.T) {
	f := newAssistantFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/ask", AskRequest{UserID: "u1", Message: "   "})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/ask", map[string]string{"text": "hi"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown fields are rejected")

	w = f.do(t, http.MethodGet, "/api/v1/ask", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

// =============================================================================
// 🧪 Learn / Correct / Train
// =============================================================================

func TestAssistantHandler_LearnThenAsk(t *testing.T) {
	f := newAssistantFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/learn", LearnRequest{Input: "Do you build websites?", Response: "Yes, we build websites."})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res memory.LearnResult
	decodeData(t, w, &res)
	assert.Equal(t, types.CategoryLearned, res.Memory.Category)
	assert.NotEmpty(t, res.Patterns)

	resp := f.ask(t, "u1", "do you build websites")
	assert.Equal(t, "Yes, we build websites.", resp.Reply)

	// /learn 与 /ask 各计一次
	stats := f.training.Stats()
	assert.Equal(t, int64(2), stats.TotalInteractions)
	assert.Equal(t, int64(2), stats.SuccessfulResponses)
}

func TestAssistantHandler_LearnFailureStoresNoPatterns(t *testing.T) {
	f := newAssistantFixture(t)
	failed := false

	w := f.do(t, http.MethodPost, "/api/v1/learn", LearnRequest{Input: "what is the price", Response: "no idea", Successful: &failed})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Zero(t, f.training.CountKnowledgeItems())
	assert.Equal(t, int64(1), f.training.Stats().FailedResponses)
}

func TestAssistantHandler_LearnRejectsMalformed(t *testing.T) {
	f := newAssistantFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/learn", LearnRequest{Input: "hello"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(types.ErrMalformedRecord), resp.Error.Code)
}

func TestAssistantHandler_Correct(t *testing.T) {
	f := newAssistantFixture(t)
	f.do(t, http.MethodPost, "/api/v1/learn", LearnRequest{Input: "what is the price", Response: "100 dollars"})

	w := f.do(t, http.MethodPost, "/api/v1/correct", CorrectRequest{Input: "what is the price", Response: "200 dollars"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, "200 dollars", f.ask(t, "u1", "what is the price").Reply)
}

func TestAssistantHandler_TrainMarkdown(t *testing.T) {
	f := newAssistantFixture(t)
	md := "## Web Design\nWe build fast sites.\n\nQ: Do you offer hosting?\nA: Yes, managed hosting.\n"

	w := f.do(t, http.MethodPost, "/api/v1/train", TrainRequest{Format: "markdown", Content: md})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res TrainResponse
	decodeData(t, w, &res)
	assert.Equal(t, 4, res.Stored)
	assert.Equal(t, 4, res.KnowledgeItems)

	assert.Equal(t, "We build fast sites.", f.ask(t, "u1", "what is web design").Reply)
}

func TestAssistantHandler_TrainValidation(t *testing.T) {
	f := newAssistantFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/train", TrainRequest{Format: "pdf", Content: "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/train", TrainRequest{Format: "html"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// =============================================================================
// 🧪 运维端点
// =============================================================================

func TestAssistantHandler_ConsolidateAndStats(t *testing.T) {
	f := newAssistantFixture(t)
	f.do(t, http.MethodPost, "/api/v1/learn", LearnRequest{Input: "do you do seo", Response: "Yes."})

	w := f.do(t, http.MethodPost, "/api/v1/consolidate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report memory.ConsolidationReport
	decodeData(t, w, &report)
	assert.Equal(t, 1, report.ShortTerm+report.LongTerm)

	w = f.do(t, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats types.TrainingStats
	decodeData(t, w, &stats)
	assert.Equal(t, int64(1), stats.TotalInteractions)
	assert.False(t, stats.LastConsolidation.IsZero())
}

func TestAssistantHandler_Reset(t *testing.T) {
	f := newAssistantFixture(t)
	f.do(t, http.MethodPost, "/api/v1/learn", LearnRequest{Input: "do you do seo", Response: "Yes."})

	w := f.do(t, http.MethodPost, "/api/v1/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats types.TrainingStats
	decodeData(t, w, &stats)
	assert.Zero(t, stats.TotalInteractions)
	assert.Zero(t, stats.KnowledgeItems)
	assert.Zero(t, stats.ShortTermMemories)
}

func TestAssistantHandler_ExportImport(t *testing.T) {
	src := newAssistantFixture(t)
	src.do(t, http.MethodPost, "/api/v1/teach", TeachRequest{Pattern: "where are you located", Response: "Downtown."})

	w := src.do(t, http.MethodGet, "/api/v1/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), "attachment")
	snap, err := memory.ReadSnapshot(w.Body)
	require.NoError(t, err)
	require.Len(t, snap.Knowledge, 1)

	dst := newAssistantFixture(t)
	w = dst.do(t, http.MethodPost, "/api/v1/import", snap)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var report memory.ImportReport
	decodeData(t, w, &report)
	assert.Equal(t, 1, report.Knowledge)
	assert.Zero(t, report.Skipped)
	assert.Equal(t, "Downtown.", dst.ask(t, "u1", "where are you located").Reply)
}

// =============================================================================
// 🧪 查询端点
// =============================================================================

func TestAssistantHandler_Greeting(t *testing.T) {
	f := newAssistantFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/greeting?user_id=nobody", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data map[string]string
	decodeData(t, w, &data)
	assert.Contains(t, data["greeting"], "Agent Lee")
	_, ok := f.convo.Profile(context.Background(), "nobody")
	assert.False(t, ok, "greeting does not create a profile")
}

func TestAssistantHandler_Search(t *testing.T) {
	f := newAssistantFixture(t)
	f.do(t, http.MethodPost, "/api/v1/learn", LearnRequest{Input: "do you build mobile apps", Response: "Yes, iOS and Android."})

	w := f.do(t, http.MethodGet, "/api/v1/memories/search?q=mobile+apps&limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res memory.SearchResult
	decodeData(t, w, &res)
	require.NotEmpty(t, res.Memories)
	assert.Equal(t, "Yes, iOS and Android.", res.Memories[0].Record.Response)

	tests := []string{
		"/api/v1/memories/search",
		"/api/v1/memories/search?q=x&limit=abc",
		"/api/v1/memories/search?q=x&limit=1000",
	}
	for _, path := range tests {
		w := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
	}
}

func TestAssistantHandler_ProfileAndHistory(t *testing.T) {
	f := newAssistantFixture(t)
	f.ask(t, "u9", "I'm interested in branding")
	f.ask(t, "u9", "what about seo?")

	w := f.do(t, http.MethodGet, "/api/v1/users/u9/profile", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var data struct {
		Profile types.UserProfile `json:"profile"`
	}
	decodeData(t, w, &data)
	assert.Equal(t, "u9", data.Profile.ID)
	assert.Equal(t, 2, data.Profile.VisitCount)
	assert.Contains(t, data.Profile.Interests, "branding")

	w = f.do(t, http.MethodGet, "/api/v1/users/u9/history?limit=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []types.ConversationEntry
	decodeData(t, w, &history)
	require.Len(t, history, 3)
	assert.Equal(t, "what about seo?", history[1].Text)

	for _, path := range []string{"/api/v1/users/ghost/profile", "/api/v1/users/ghost/history"} {
		w := f.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, w.Code, path)
	}
}

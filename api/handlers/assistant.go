package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/leesite/agentlee/agent/content"
	"github.com/leesite/agentlee/agent/conversation"
	"github.com/leesite/agentlee/agent/memory"
	"github.com/leesite/agentlee/types"
)

// maxListLimit 检索与历史查询的 limit 上限
const maxListLimit = 100

// AdminPaths 需要 API Key 的写入/运维端点
var AdminPaths = []string{
	"/api/v1/teach",
	"/api/v1/correct",
	"/api/v1/train",
	"/api/v1/consolidate",
	"/api/v1/reset",
	"/api/v1/export",
	"/api/v1/import",
}

// =============================================================================
// 🤖 Assistant Handler
// =============================================================================

// AssistantHandler 聊天挂件使用的问答、学习与训练端点
type AssistantHandler struct {
	training *memory.TrainingSystem
	convo    *conversation.Manager
	fallback atomic.Value // string
	logger   *zap.Logger
}

// NewAssistantHandler 创建 AssistantHandler
func NewAssistantHandler(training *memory.TrainingSystem, convo *conversation.Manager, fallback string, logger *zap.Logger) *AssistantHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &AssistantHandler{
		training: training,
		convo:    convo,
		logger:   logger.With(zap.String("component", "assistant_handler")),
	}
	h.SetFallbackResponse(fallback)
	return h
}

// SetFallbackResponse 替换未命中时的回复，可在热更新时调用
func (h *AssistantHandler) SetFallbackResponse(s string) {
	h.fallback.Store(s)
}

// FallbackResponse 返回当前未命中回复
func (h *AssistantHandler) FallbackResponse() string {
	s, _ := h.fallback.Load().(string)
	return s
}

// Register 注册全部 /api/v1 路由
func (h *AssistantHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/ask", h.HandleAsk)
	mux.HandleFunc("POST /api/v1/learn", h.HandleLearn)
	mux.HandleFunc("POST /api/v1/teach", h.HandleTeach)
	mux.HandleFunc("POST /api/v1/correct", h.HandleCorrect)
	mux.HandleFunc("POST /api/v1/train", h.HandleTrain)
	mux.HandleFunc("POST /api/v1/consolidate", h.HandleConsolidate)
	mux.HandleFunc("POST /api/v1/reset", h.HandleReset)
	mux.HandleFunc("GET /api/v1/export", h.HandleExport)
	mux.HandleFunc("POST /api/v1/import", h.HandleImport)
	mux.HandleFunc("GET /api/v1/greeting", h.HandleGreeting)
	mux.HandleFunc("GET /api/v1/memories/search", h.HandleSearch)
	mux.HandleFunc("GET /api/v1/stats", h.HandleStats)
	mux.HandleFunc("GET /api/v1/users/{id}/profile", h.HandleProfile)
	mux.HandleFunc("GET /api/v1/users/{id}/history", h.HandleHistory)
}

// =============================================================================
// 📦 请求/响应结构
// =============================================================================

// AskRequest 访客消息
type AskRequest struct {
	UserID  string `json:"user_id,omitempty"`
	Message string `json:"message"`
}

// AskResponse 助手回复
type AskResponse struct {
	UserID     string                   `json:"user_id"`
	Reply      string                   `json:"reply"`
	Source     string                   `json:"source"`
	Confidence float64                  `json:"confidence"`
	Intent     conversation.Intent      `json:"intent"`
	Extracted  *conversation.Extraction `json:"extracted,omitempty"`
}

// LearnRequest 学习一次交互；Successful 缺省为 true
type LearnRequest struct {
	Input      string `json:"input"`
	Response   string `json:"response"`
	Successful *bool  `json:"successful,omitempty"`
	Category   string `json:"category,omitempty"`
}

// TeachRequest 显式教学
type TeachRequest struct {
	Pattern  string `json:"pattern"`
	Response string `json:"response"`
}

// CorrectRequest 纠正某个输入的回答
type CorrectRequest struct {
	Input    string `json:"input"`
	Response string `json:"response"`
}

// TrainRequest 站点内容训练，Format 为 html 或 markdown
type TrainRequest struct {
	Format  string `json:"format"`
	Content string `json:"content"`
}

// TrainResponse 训练结果
type TrainResponse struct {
	Stored         int `json:"stored"`
	KnowledgeItems int `json:"knowledge_items"`
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleAsk 处理 POST /api/v1/ask
//
// 流程：记录访问 -> 抽取档案信息 -> 记录用户消息 -> 问候意图走问候语，
// 其余走知识库与记忆检索，未命中使用兜底回复并记入学习 -> 记录助手回复。
// 问候不计入学习统计。
func (h *AssistantHandler) HandleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "message is required", h.logger)
		return
	}
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		userID = conversation.NewVisitorID()
	}

	ctx := r.Context()
	if _, err := h.convo.Touch(ctx, userID); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	extracted, err := h.convo.ExtractInfo(ctx, message, userID)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	if _, err := h.convo.AppendConversation(ctx, userID, types.RoleUser, message, nil); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}

	resp := AskResponse{
		UserID: userID,
		Intent: h.convo.Classifier().Classify(message),
	}
	if !extracted.Empty() {
		resp.Extracted = &extracted
	}

	if resp.Intent == conversation.IntentGreeting {
		resp.Reply = h.convo.Greeting(ctx, userID)
		resp.Source = "greeting"
		resp.Confidence = 1
	} else {
		reply := h.training.Respond(ctx, message)
		resp.Source = reply.Source
		resp.Confidence = reply.Confidence
		resp.Reply = reply.Text
		if !reply.Found() {
			resp.Reply = h.FallbackResponse()
		}
		if _, err := h.training.Learn(ctx, message, resp.Reply, reply.Found(), reply.Category); err != nil {
			h.logger.Warn("interaction not learned", zap.String("user_id", userID), zap.Error(err))
		}
	}

	if _, err := h.convo.AppendConversation(ctx, userID, types.RoleAgent, resp.Reply, map[string]any{
		"source":     resp.Source,
		"confidence": resp.Confidence,
		"intent":     string(resp.Intent),
	}); err != nil {
		h.logger.Warn("agent reply not recorded", zap.String("user_id", userID), zap.Error(err))
	}

	WriteSuccess(w, resp)
}

// HandleLearn 处理 POST /api/v1/learn
func (h *AssistantHandler) HandleLearn(w http.ResponseWriter, r *http.Request) {
	var req LearnRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	successful := true
	if req.Successful != nil {
		successful = *req.Successful
	}
	res, err := h.training.Learn(r.Context(), req.Input, req.Response, successful, req.Category)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// HandleTeach 处理 POST /api/v1/teach
func (h *AssistantHandler) HandleTeach(w http.ResponseWriter, r *http.Request) {
	var req TeachRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if err := h.training.Teach(r.Context(), req.Pattern, req.Response); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"pattern":         memory.Normalize(req.Pattern),
		"knowledge_items": h.training.CountKnowledgeItems(),
	})
}

// HandleCorrect 处理 POST /api/v1/correct
func (h *AssistantHandler) HandleCorrect(w http.ResponseWriter, r *http.Request) {
	var req CorrectRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	res, err := h.training.Correct(r.Context(), req.Input, req.Response)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, res)
}

// HandleTrain 处理 POST /api/v1/train
func (h *AssistantHandler) HandleTrain(w http.ResponseWriter, r *http.Request) {
	var req TrainRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "content is required", h.logger)
		return
	}

	var (
		doc *content.Document
		err error
	)
	switch strings.ToLower(strings.TrimSpace(req.Format)) {
	case "html", "":
		doc, err = content.ParseHTMLString(req.Content)
	case "markdown", "md":
		doc, err = content.ParseMarkdown(strings.NewReader(req.Content))
	default:
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "format must be html or markdown", h.logger)
		return
	}
	if err != nil {
		WriteError(w, types.NewMalformedRecordError("content could not be parsed").WithCause(err), h.logger)
		return
	}

	n := h.training.TrainFromContent(r.Context(), doc)
	WriteSuccess(w, TrainResponse{Stored: n, KnowledgeItems: h.training.CountKnowledgeItems()})
}

// HandleConsolidate 处理 POST /api/v1/consolidate
func (h *AssistantHandler) HandleConsolidate(w http.ResponseWriter, r *http.Request) {
	report, err := h.training.Consolidate(r.Context())
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, report)
}

// HandleReset 处理 POST /api/v1/reset
func (h *AssistantHandler) HandleReset(w http.ResponseWriter, r *http.Request) {
	if err := h.training.ResetTraining(r.Context()); err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, h.training.Stats())
}

// HandleExport 处理 GET /api/v1/export
func (h *AssistantHandler) HandleExport(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Disposition", `attachment; filename="agentlee-snapshot.json"`)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := memory.WriteSnapshot(w, h.training.Export()); err != nil {
		h.logger.Error("snapshot export failed", zap.Error(err))
	}
}

// HandleImport 处理 POST /api/v1/import
func (h *AssistantHandler) HandleImport(w http.ResponseWriter, r *http.Request) {
	var snap memory.Snapshot
	if err := DecodeJSONBody(w, r, &snap, h.logger); err != nil {
		return
	}
	report, err := h.training.Import(r.Context(), snap)
	if err != nil {
		WriteServiceError(w, err, h.logger)
		return
	}
	WriteSuccess(w, report)
}

// HandleGreeting 处理 GET /api/v1/greeting?user_id=
func (h *AssistantHandler) HandleGreeting(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	WriteSuccess(w, map[string]string{
		"user_id":  userID,
		"greeting": h.convo.Greeting(r.Context(), userID),
	})
}

// HandleSearch 处理 GET /api/v1/memories/search?q=&limit=
func (h *AssistantHandler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest, "q is required", h.logger)
		return
	}
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}
	WriteSuccess(w, h.training.SearchMemories(q, limit))
}

// HandleStats 处理 GET /api/v1/stats
func (h *AssistantHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	WriteSuccess(w, h.training.Stats())
}

// HandleProfile 处理 GET /api/v1/users/{id}/profile
func (h *AssistantHandler) HandleProfile(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	profile, ok := h.convo.Profile(r.Context(), userID)
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "unknown user", h.logger)
		return
	}
	WriteSuccess(w, map[string]any{
		"profile":     profile,
		"preferences": h.convo.Preferences(r.Context(), userID),
	})
}

// HandleHistory 处理 GET /api/v1/users/{id}/history?limit=
func (h *AssistantHandler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	if _, ok := h.convo.Profile(r.Context(), userID); !ok {
		WriteErrorMessage(w, http.StatusNotFound, types.ErrNotFound, "unknown user", h.logger)
		return
	}
	limit, ok := h.parseLimit(w, r)
	if !ok {
		return
	}
	history := h.convo.History(r.Context(), userID, limit)
	if history == nil {
		history = []types.ConversationEntry{}
	}
	WriteSuccess(w, history)
}

// parseLimit 解析可选的 limit 参数；0 表示使用默认值
func (h *AssistantHandler) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 || limit > maxListLimit {
		WriteErrorMessage(w, http.StatusBadRequest, types.ErrInvalidRequest,
			"limit must be an integer between 0 and "+strconv.Itoa(maxListLimit), h.logger)
		return 0, false
	}
	return limit, true
}

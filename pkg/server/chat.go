package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/freedive-ai/coach/pkg/budget"
	"github.com/freedive-ai/coach/pkg/cache"
	"github.com/freedive-ai/coach/pkg/coach"
	"github.com/freedive-ai/coach/pkg/llm"
	"github.com/freedive-ai/coach/pkg/models"
	"github.com/freedive-ai/coach/pkg/resilience"
	"github.com/freedive-ai/coach/pkg/retrieval"
)

const (
	maxBodyBytes      = 1 << 20
	embedMaxTokens    = 300
	cacheHeader       = "X-Coach-Cache"
	defaultFetchLimit = 5
)

// cachedReply is what the response cache stores per key.
type cachedReply struct {
	Content string `json:"content"`
	Model   string `json:"model"`
}

// chatTurn carries per-request state through the chat pipeline.
type chatTurn struct {
	endpoint  string
	mode      coach.Mode
	req       models.ChatRequest
	level     coach.Level
	intent    bool
	cacheKey  string
	cacheable bool
	start     time.Time
	meta      models.ChatMetadata
}

func (s *Server) chatHandler(endpoint string, mode coach.Mode) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req models.ChatRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Message = strings.TrimSpace(req.Message)
		if req.Message == "" {
			writeJSONError(w, http.StatusBadRequest, "message is required")
			return
		}

		turn := s.newTurn(r, endpoint, mode, req)
		writeJSON(w, http.StatusOK, s.runChat(r.Context(), w, turn))
	}
}

func (s *Server) newTurn(r *http.Request, endpoint string, mode coach.Mode, req models.ChatRequest) *chatTurn {
	requestID := chimw.GetReqID(r.Context())
	if requestID == "" {
		requestID = uuid.NewString()
	}
	level := coach.ExperienceLevel(req.Profile)
	intent := coach.DetectAnalysisIntent(req.Message, req.History)

	t := &chatTurn{
		endpoint: endpoint,
		mode:     mode,
		req:      req,
		level:    level,
		intent:   intent,
		start:    time.Now(),
		meta: models.ChatMetadata{
			RequestID:       requestID,
			Endpoint:        endpoint,
			ExperienceLevel: string(level),
			AnalysisIntent:  intent,
			DiveLogsUsed:    len(req.DiveLogs),
			EmbedMode:       req.EmbedMode,
		},
	}

	// A reply is only reusable when the message alone identifies the
	// question and no per-user dive logs will be pulled in.
	t.cacheable = s.cache != nil && len(req.History) == 0 && !s.willFetchDiveLogs(t)
	if t.cacheable {
		t.cacheKey = cache.Key(string(mode)+"/"+string(level), req.Message, coach.DiveSignature(req.DiveLogs))
	}
	return t
}

func (s *Server) willFetchDiveLogs(t *chatTurn) bool {
	return s.diveLogs != nil && t.intent && len(t.req.DiveLogs) == 0 && t.req.UserID != ""
}

func (s *Server) runChat(ctx context.Context, w http.ResponseWriter, t *chatTurn) models.ChatResponse {
	if t.cacheable {
		if reply, ok := s.lookupCache(t.cacheKey); ok {
			s.metrics.CacheLookup(ctx, true)
			w.Header().Set(cacheHeader, "hit")
			t.meta.Cached = true
			t.meta.Model = reply.Model
			return t.respond(reply.Content)
		}
		s.metrics.CacheLookup(ctx, false)
		w.Header().Set(cacheHeader, "miss")
	}

	if err := s.budget.Check(ctx, t.req.UserID); err != nil {
		if errors.Is(err, budget.ErrBudgetExceeded) {
			return s.fallback(ctx, t, coach.ReasonBudgetExceeded)
		}
		log.Warn().Err(err).Str("user_id", t.req.UserID).Msg("budget check failed, allowing request")
	}

	logs := t.req.DiveLogs
	if s.willFetchDiveLogs(t) {
		fetched, err := s.diveLogs.Recent(ctx, t.req.UserID, s.fetchLimit())
		if err != nil {
			log.Warn().Err(err).Str("user_id", t.req.UserID).Msg("fetch dive logs")
			t.meta.Degraded = true
		} else {
			logs = fetched
			t.meta.DiveLogsFetched = true
			t.meta.DiveLogsUsed = len(fetched)
		}
	}

	knowledge := s.retrieve(ctx, t)

	route := s.router.Resolve(t.endpoint)
	maxTokens := route.MaxTokens
	if t.req.EmbedMode && (maxTokens == 0 || maxTokens > embedMaxTokens) {
		maxTokens = embedMaxTokens
	}
	system := coach.BuildPrompt(coach.PromptInput{
		Mode:      t.mode,
		Level:     t.level,
		Profile:   t.req.Profile,
		DiveLogs:  logs,
		Knowledge: knowledge,
		EmbedMode: t.req.EmbedMode,
	})
	llmReq := llm.Request{
		Model:       route.Model,
		Messages:    coach.BuildMessages(system, t.req.History, t.req.Message),
		Temperature: route.Temperature,
		MaxTokens:   maxTokens,
		JSONMode:    route.JSONMode,
	}

	cc := resilience.CallContext{Endpoint: t.endpoint, UserID: t.req.UserID}
	resp, attempts, err := resilience.Run(ctx, s.exec, cc, func(ctx context.Context) (*llm.Response, error) {
		return s.chat.Complete(ctx, llmReq)
	})
	t.meta.Attempts = attempts
	t.meta.Model = route.Model

	if err != nil {
		cls := resilience.Classify(err)
		if ce, ok := resilience.AsCallError(err); ok {
			cls = ce.Classification
		}
		s.recordUsage(ctx, t, route.Model, models.Usage{}, 0, false, string(cls.Type))
		return s.fallback(ctx, t, string(cls.Type))
	}

	if resp.Model != "" {
		t.meta.Model = resp.Model
	}
	t.meta.TokensUsed = resp.Usage.TotalTokens
	cost := s.router.Cost(t.meta.Model, resp.Usage)
	s.recordUsage(ctx, t, t.meta.Model, resp.Usage, cost, true, "")

	if t.cacheable && !t.meta.Degraded {
		s.storeCache(t.cacheKey, cachedReply{Content: resp.Content, Model: t.meta.Model})
	}
	return t.respond(resp.Content)
}

// retrieve looks up knowledge chunks under the knowledge circuit. Failures
// degrade the reply instead of failing it.
func (s *Server) retrieve(ctx context.Context, t *chatTurn) []retrieval.Chunk {
	if s.knowledge == nil {
		return nil
	}
	cc := resilience.CallContext{Endpoint: EndpointKnowledge, UserID: t.req.UserID}
	chunks, _, err := resilience.Run(ctx, s.exec, cc, func(ctx context.Context) ([]retrieval.Chunk, error) {
		return s.knowledge.Retrieve(ctx, t.req.Message)
	})
	if err != nil {
		log.Warn().Err(err).Str("request_id", t.meta.RequestID).Msg("knowledge retrieval unavailable")
		t.meta.Degraded = true
		return nil
	}
	t.meta.KnowledgeChunks = len(chunks)
	return chunks
}

func (s *Server) fallback(ctx context.Context, t *chatTurn, reason string) models.ChatResponse {
	s.metrics.Fallback(ctx, t.endpoint, reason)
	t.meta.Fallback = true
	t.meta.ErrorType = reason
	log.Warn().
		Str("request_id", t.meta.RequestID).
		Str("endpoint", t.endpoint).
		Str("reason", reason).
		Int("attempts", t.meta.Attempts).
		Msg("serving fallback reply")
	return t.respond(coach.FallbackMessage(reason))
}

func (t *chatTurn) respond(content string) models.ChatResponse {
	t.meta.ResponseTimeMs = time.Since(t.start).Milliseconds()
	return models.ChatResponse{
		AssistantMessage: models.ChatMessage{Role: "assistant", Content: content},
		Metadata:         t.meta,
	}
}

func (s *Server) recordUsage(ctx context.Context, t *chatTurn, model string, usage models.Usage, cost float64, success bool, errorType string) {
	rec := models.UsageRecord{
		UserID:           t.req.UserID,
		Endpoint:         t.endpoint,
		ModelUsed:        model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TokensUsed:       usage.TotalTokens,
		ResponseTimeMs:   time.Since(t.start).Milliseconds(),
		CostEstimate:     cost,
		Success:          success,
		ErrorType:        errorType,
		Metadata: map[string]any{
			"requestId":       t.meta.RequestID,
			"experienceLevel": t.meta.ExperienceLevel,
			"attempts":        t.meta.Attempts,
			"embedMode":       t.req.EmbedMode,
			"diveLogsUsed":    t.meta.DiveLogsUsed,
			"knowledgeChunks": t.meta.KnowledgeChunks,
		},
	}
	if err := s.usage.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn().Err(err).Str("request_id", t.meta.RequestID).Msg("record usage")
	}
}

func (s *Server) lookupCache(key string) (cachedReply, bool) {
	raw, ok := s.cache.Get(key)
	if !ok {
		return cachedReply{}, false
	}
	var reply cachedReply
	if err := json.Unmarshal(raw, &reply); err != nil {
		log.Warn().Err(err).Msg("decode cached reply")
		return cachedReply{}, false
	}
	return reply, true
}

func (s *Server) storeCache(key string, reply cachedReply) {
	raw, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := s.cache.Set(key, raw); err != nil {
		log.Warn().Err(err).Msg("store cached reply")
	}
}

func (s *Server) fetchLimit() int {
	if s.cfg.DiveLogs.FetchLimit > 0 {
		return s.cfg.DiveLogs.FetchLimit
	}
	return defaultFetchLimit
}

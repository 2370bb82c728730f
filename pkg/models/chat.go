package models

import "time"

// ChatMessage represents a single message in a coaching conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Profile is the diver profile sent along with chat requests.
type Profile struct {
	Nickname           string   `json:"nickname,omitempty"`
	CertificationLevel string   `json:"certificationLevel,omitempty"`
	PersonalBestDepth  float64  `json:"personalBestDepth,omitempty"`
	YearsFreediving    int      `json:"yearsFreediving,omitempty"`
	Disciplines        []string `json:"disciplines,omitempty"`
	Goals              string   `json:"goals,omitempty"`
}

// DiveLog is a single dive-journal entry.
type DiveLog struct {
	ID            string    `json:"id,omitempty"`
	UserID        string    `json:"userId,omitempty"`
	Date          string    `json:"date,omitempty"`
	Discipline    string    `json:"discipline"`
	Location      string    `json:"location,omitempty"`
	TargetDepth   float64   `json:"targetDepth,omitempty"`
	ReachedDepth  float64   `json:"reachedDepth,omitempty"`
	TotalDiveTime string    `json:"totalDiveTime,omitempty"`
	Squeeze       bool      `json:"squeeze,omitempty"`
	Exit          string    `json:"exit,omitempty"`
	Notes         string    `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
}

// Depth returns the reached depth, falling back to the target depth.
func (d DiveLog) Depth() float64 {
	if d.ReachedDepth > 0 {
		return d.ReachedDepth
	}
	return d.TargetDepth
}

// ChatRequest is the body accepted by the chat endpoints.
type ChatRequest struct {
	Message   string        `json:"message"`
	UserID    string        `json:"userId"`
	Profile   *Profile      `json:"profile,omitempty"`
	EmbedMode bool          `json:"embedMode,omitempty"`
	DiveLogs  []DiveLog     `json:"diveLogs,omitempty"`
	History   []ChatMessage `json:"history,omitempty"`
}

// ChatResponse is returned by the chat endpoints, including fallbacks.
type ChatResponse struct {
	AssistantMessage ChatMessage  `json:"assistantMessage"`
	Metadata         ChatMetadata `json:"metadata"`
}

// ChatMetadata describes how a reply was produced.
type ChatMetadata struct {
	RequestID       string `json:"requestId"`
	Endpoint        string `json:"endpoint"`
	Model           string `json:"model,omitempty"`
	ExperienceLevel string `json:"experienceLevel"`
	Cached          bool   `json:"cached"`
	Fallback        bool   `json:"fallback"`
	ErrorType       string `json:"errorType,omitempty"`
	Attempts        int    `json:"attempts"`
	TokensUsed      int    `json:"tokensUsed"`
	ResponseTimeMs  int64  `json:"responseTimeMs"`
	DiveLogsUsed    int    `json:"diveLogsUsed"`
	DiveLogsFetched bool   `json:"diveLogsFetched"`
	AnalysisIntent  bool   `json:"analysisIntent"`
	KnowledgeChunks int    `json:"knowledgeChunks"`
	Degraded        bool   `json:"degraded"`
	EmbedMode       bool   `json:"embedMode"`
}

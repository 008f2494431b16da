package types

import "encoding/json"

// ChatRequest is the payload of POST /chat.
type ChatRequest struct {
	// Required user message text.
	// example: Write a haiku about the ocean.
	Content string `json:"content" example:"Write a haiku about the ocean."`
	// Optional inline image data URLs for vision models.
	Images []string `json:"images,omitempty"`
}

// LoadRequest is the payload of POST /engine/load.
type LoadRequest struct {
	// Model to switch to. Empty reloads the selected model.
	// example: Llama-3.2-1B-Instruct-q4f32_1-MLC
	Model string `json:"model,omitempty" example:"Llama-3.2-1B-Instruct-q4f32_1-MLC"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
	// example: Llama-3.2-1B-Instruct-q4f32_1-MLC
	Selected string `json:"selected" example:"Llama-3.2-1B-Instruct-q4f32_1-MLC"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
	// Optional remediation hint.
	// example: clear the model cache and reload
	Hint string `json:"hint,omitempty" example:"clear the model cache and reload"`
}

// StatusResponse is returned by GET /status and streamed on /events.
type StatusResponse struct {
	// example: ready
	State string `json:"state" example:"ready"`
	// example: Llama-3.2-1B-Instruct-q4f32_1-MLC
	SelectedModel string `json:"selected_model" example:"Llama-3.2-1B-Instruct-q4f32_1-MLC"`
	EngineReady   bool   `json:"engine_ready"`
	Loading       bool   `json:"loading"`
	Generating    bool   `json:"generating"`
	// Latest progress text reported by the engine.
	Progress string `json:"progress,omitempty"`
	// Where the model bytes came from on the last load.
	// example: fast
	LoadPath              string    `json:"load_path,omitempty" example:"fast"`
	CurrentConversationID string    `json:"current_conversation_id,omitempty"`
	Messages              []Message `json:"messages"`
	Error                 string    `json:"error,omitempty"`
	Notice                string    `json:"notice,omitempty"`
	// example: 3600
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
}

// Statistics summarises the conversation store.
type Statistics struct {
	Total                          int            `json:"total"`
	TotalMessages                  int            `json:"totalMessages"`
	ByModel                        map[string]int `json:"byModel"`
	OldestDate                     *int64         `json:"oldestDate"`
	NewestDate                     *int64         `json:"newestDate"`
	AverageMessagesPerConversation float64        `json:"averageMessagesPerConversation"`
}

// ExportDocument is the export/import file format.
type ExportDocument struct {
	Conversations []Conversation             `json:"conversations"`
	Settings      map[string]json.RawMessage `json:"settings"`
	CustomModels  []Model                    `json:"customModels,omitempty"`
	ExportDate    string                     `json:"exportDate"`
	Version       int                        `json:"version"`
	Source        string                     `json:"source"`
}

// ImportSummary reports how many rows an import wrote.
type ImportSummary struct {
	Conversations int `json:"conversations"`
	Settings      int `json:"settings"`
	CustomModels  int `json:"customModels,omitempty"`
}

// MigrationSummary reports what the legacy migration imported.
type MigrationSummary struct {
	Conversations int `json:"conversations"`
	CustomModels  int `json:"customModels"`
}

// PruneRequest is the payload of POST /prune.
type PruneRequest struct {
	// example: 90
	DaysToKeep int `json:"days_to_keep" example:"90"`
}

// PruneResponse reports how many conversations were deleted.
type PruneResponse struct {
	Deleted int `json:"deleted"`
}

// SaveRequest is the payload of POST /session/save and PATCH /conversations/{id}.
type SaveRequest struct {
	Title string `json:"title,omitempty"`
}

// TokenRequest is the payload of PUT /settings/token.
type TokenRequest struct {
	Token string `json:"token"`
}

// CacheEntry describes one cached model directory.
type CacheEntry struct {
	ModelID string `json:"model_id"`
	Files   int    `json:"files"`
	Bytes   int64  `json:"bytes"`
}

// CacheResponse is returned by GET /cache.
type CacheResponse struct {
	Backend   string       `json:"backend"`
	Supported bool         `json:"supported"`
	Entries   []CacheEntry `json:"entries"`
}

// ChatChunk is one NDJSON line of the POST /chat stream. Deltas come first,
// then a single line with Done set, or a line with Error when the stream
// broke after it started.
type ChatChunk struct {
	Delta          string   `json:"delta,omitempty"`
	Done           bool     `json:"done,omitempty"`
	Message        *Message `json:"message,omitempty"`
	ConversationID string   `json:"conversation_id,omitempty"`
	Error          string   `json:"error,omitempty"`
}

// ConversationsResponse wraps the list returned by GET /conversations.
type ConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
}

// CancelResponse reports whether POST /engine/cancel stopped a load.
type CancelResponse struct {
	Canceled bool `json:"canceled"`
}

// RemovedResponse reports how many items a delete touched.
type RemovedResponse struct {
	Removed int `json:"removed"`
}

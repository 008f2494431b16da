package types

// Model is a catalog entry for a model the engine can load.
type Model struct {
	// Stable identifier for the model, also the remote repository name.
	// example: Llama-3.2-1B-Instruct-q4f32_1-MLC
	ID string `json:"id" yaml:"id" example:"Llama-3.2-1B-Instruct-q4f32_1-MLC"`
	// Human-friendly name.
	// example: Llama 3.2 1B
	Name string `json:"name" yaml:"name" example:"Llama 3.2 1B"`
	// Approximate download size.
	// example: ~650 MB
	Size string `json:"size,omitempty" yaml:"size" example:"~650 MB"`
	// Short description shown next to the model.
	Description string `json:"description,omitempty" yaml:"description"`
	// Recommended default for first-time users.
	Recommended bool `json:"recommended" yaml:"recommended"`
	// Added by the user rather than shipped in the catalog.
	Custom bool `json:"custom,omitempty" yaml:"custom"`
	// Optional model URL for custom models.
	URL string `json:"url,omitempty" yaml:"url"`
	// Accepts inline images in user messages.
	Vision bool `json:"vision,omitempty" yaml:"vision"`
}

// Role identifies the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool { return r == RoleUser || r == RoleAssistant }

// Message is one turn of a conversation.
type Message struct {
	// example: user
	Role Role `json:"role" example:"user"`
	// example: Write a haiku about the ocean.
	Content string `json:"content" example:"Write a haiku about the ocean."`
	// Inline image data URLs, only sent to vision-capable models.
	Images []string `json:"images,omitempty"`
}

// Conversation is a stored conversation record.
type Conversation struct {
	// example: conv_1700000000000_k3j9x0a2b
	ID    string `json:"id" example:"conv_1700000000000_k3j9x0a2b"`
	Title string `json:"title"`
	// Messages in conversational order.
	Messages []Message `json:"messages"`
	// Model used when the conversation was last active.
	Model string `json:"model"`
	// Creation time in epoch milliseconds.
	Timestamp int64 `json:"timestamp" example:"1700000000000"`
	// Last save time in epoch milliseconds.
	LastModified int64    `json:"lastModified" example:"1700000000000"`
	Tags         []string `json:"tags,omitempty"`
}

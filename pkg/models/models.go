package models

import "time"

type TaskType string

const (
	TaskGenerate TaskType = "generate"
	TaskPixelate TaskType = "pixelate"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// GenerationTask is one in-flight or finished request against the inference
// service. Generate tasks carry prompt/model/size, pixelate tasks carry the
// source image; exactly one of the two is populated, keyed by Type.
type GenerationTask struct {
	ID        string     `json:"id"`
	Type      TaskType   `json:"type"`
	Status    TaskStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`

	Prompt string `json:"prompt,omitempty"`
	Model  string `json:"model,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`

	SourceImage []byte `json:"-"`

	Result []byte `json:"-"`
	Error  string `json:"error,omitempty"`
}

func (t *GenerationTask) IsTerminal() bool {
	return t.Status == TaskCompleted || t.Status == TaskFailed
}

// LibraryImage is one saved entry in the library: a metadata row plus a PNG
// blob file named after the id. Descriptive fields are nullable.
type LibraryImage struct {
	ID        string    `json:"id" db:"id"`
	FileName  string    `json:"file_name" db:"file_name"`
	CreatedAt time.Time `json:"created_at"`
	Prompt    *string   `json:"prompt,omitempty"`
	Model     *string   `json:"model,omitempty"`
	Width     *int      `json:"width,omitempty"`
	Height    *int      `json:"height,omitempty"`
}

// ImageMetadata carries the optional descriptive fields for a library save.
// Zero values are stored as NULL.
type ImageMetadata struct {
	Prompt string
	Model  string
	Width  int
	Height int
}

type InferenceRequest struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Prompt      string `json:"prompt"`
	NumImages   int    `json:"num_images"`
	PromptStyle string `json:"prompt_style,omitempty"`
	InputImage  string `json:"input_image,omitempty"`
	CheckCost   bool   `json:"check_cost,omitempty"`
}

type InferenceResponse struct {
	CreatedAt        int      `json:"created_at"`
	CreditCost       int      `json:"credit_cost"`
	Base64Images     []string `json:"base64_images"`
	Type             string   `json:"type,omitempty"`
	RemainingCredits *int     `json:"remaining_credits,omitempty"`
	BalanceCost      *float64 `json:"balance_cost,omitempty"`
}

type CreditsResponse struct {
	Credits int `json:"credits"`
}

// Size constraints from the RetroDiffusion API documentation.
const (
	MinImageSize  = 16
	MaxImageSize  = 1024
	MaxEditSize   = 256
	PixelateStyle = "rd_pro__pixelate"
)

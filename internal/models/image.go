package models

// GenerationRequest carries the validated parameters for a single image
// generation. The prompt is already sanitized; instances are never mutated
// after validation. Seed and Enhance stay nil when the caller omitted them so
// the response can echo back exactly what was supplied.
type GenerationRequest struct {
	Prompt  string
	Width   int
	Height  int
	Model   string
	Seed    *int64
	Enhance *bool
}

// GeneratedImage is the product of a successful upstream generation call. It
// lives for the duration of one request and is discarded once the response is
// written.
type GeneratedImage struct {
	Bytes       []byte
	ContentType string
	DataURI     string
}

// EchoedParameters mirrors the request back to the caller. Prompt, width,
// height and model are always present; seed and enhance only when the caller
// supplied them.
type EchoedParameters struct {
	Prompt  string `json:"prompt"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Model   string `json:"model"`
	Seed    *int64 `json:"seed,omitempty"`
	Enhance *bool  `json:"enhance,omitempty"`
}

// GenerationData is the payload of a successful response. PublicURL is set
// only when publishing succeeded; Warnings and UploadError are set only when
// publishing failed after a successful generation.
type GenerationData struct {
	Base64      string           `json:"base64"`
	Parameters  EchoedParameters `json:"parameters"`
	PublicURL   string           `json:"publicUrl,omitempty"`
	Warnings    []string         `json:"warnings,omitempty"`
	UploadError string           `json:"uploadError,omitempty"`
}

// ResponseEnvelope is the JSON shape shared by every endpoint response.
type ResponseEnvelope struct {
	Success bool            `json:"success"`
	Data    *GenerationData `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	Details any             `json:"details,omitempty"`
}

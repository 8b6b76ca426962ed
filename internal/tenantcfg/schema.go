// Package tenantcfg implements the Tenant Config schema, its JSON store
// in the shared Redis instance, and the validation spec.md §6 describes.
package tenantcfg

// Config is the tenant configuration document, schema v1 (spec.md §6).
type Config struct {
	ContractVersion string   `json:"contractVersion" validate:"required,eq=v1"`
	TenantID        string   `json:"tenantId" validate:"required"`
	DIDs            []string `json:"dids"`
	WebhookSecretRef string  `json:"webhookSecretRef,omitempty"`
	WebhookSecret    string  `json:"webhookSecret,omitempty"`

	Caps Caps `json:"caps"`
	STT  STT  `json:"stt"`
	TTS  TTS  `json:"tts"`
	LLM  LLM  `json:"llm"`
	Audio Audio `json:"audio"`
}

// Caps overrides the process-wide capacity defaults per tenant.
type Caps struct {
	MaxConcurrentCallsTenant int `json:"maxConcurrentCallsTenant" validate:"gte=0"`
	MaxCallsPerMinuteTenant  int `json:"maxCallsPerMinuteTenant" validate:"gte=0"`
	MaxConcurrentCallsGlobal int `json:"maxConcurrentCallsGlobal,omitempty" validate:"gte=0"`
}

// STT is the tenant's speech-to-text collaborator configuration.
type STT struct {
	Mode      string                 `json:"mode" validate:"required,oneof=http_wav_json disabled"`
	WhisperURL string                `json:"whisperUrl,omitempty"`
	ChunkMs   int                    `json:"chunkMs" validate:"gte=0"`
	Language  string                 `json:"language,omitempty"`
	Config    map[string]interface{} `json:"config,omitempty"`
}

// TTS is the tenant's text-to-speech collaborator configuration.
type TTS struct {
	Mode       string `json:"mode" validate:"required,oneof=kokoro_http"`
	KokoroURL  string `json:"kokoroUrl" validate:"required"`
	Voice      string `json:"voice,omitempty"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sampleRate,omitempty"`
}

// LLM is the tenant's completion collaborator configuration. A failed or
// disabled completion falls back to a fixed acknowledgement rather than
// failing the turn (spec.md §7).
type LLM struct {
	Mode      string `json:"mode" validate:"required,oneof=http_json disabled"`
	URL       string `json:"url,omitempty"`
	Model     string `json:"model,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// Audio is the tenant's WAV-storage configuration.
type Audio struct {
	PublicBaseURL  string `json:"publicBaseUrl,omitempty"`
	StorageDir     string `json:"storageDir,omitempty"`
	RuntimeManaged bool   `json:"runtimeManaged,omitempty"`
}

// Package config loads process configuration from the environment via
// viper, mirroring the teacher's config.InitConfig/GetApplicationConfig
// pair but widened to the full environment-toggle surface of the bridge.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// TransportMode selects which transport a process instance serves.
type TransportMode string

const (
	TransportPSTN     TransportMode = "pstn"
	TransportWebRTCHD TransportMode = "webrtc_hd"
)

// StreamTrack is the carrier media track this deployment accepts.
type StreamTrack string

const (
	TrackInbound StreamTrack = "inbound"
	TrackOutbound StreamTrack = "outbound"
	TrackBoth     StreamTrack = "both_tracks"
)

// Config is the fully-resolved process configuration, built from the
// environment toggles enumerated in spec.md §6.
type Config struct {
	TransportMode TransportMode `mapstructure:"transport_mode" validate:"required"`
	Host          string        `mapstructure:"host" validate:"required"`
	Port          int           `mapstructure:"port" validate:"required"`
	LogLevel      string        `mapstructure:"log_level" validate:"required"`
	Production    bool          `mapstructure:"production"`
	LogFilePath   string        `mapstructure:"log_file_path"`

	// Telnyx / carrier ingest
	TelnyxStreamTrack        StreamTrack `mapstructure:"telnyx_stream_track"`
	TelnyxTargetSampleRate   int         `mapstructure:"telnyx_target_sample_rate"`
	TelnyxDebugDumpDir       string      `mapstructure:"telnyx_debug_dump_dir"`
	TelnyxDebugEnabled       bool        `mapstructure:"telnyx_debug_enabled"`

	// AMR-WB
	AMRWBRequireBE              bool `mapstructure:"amrwb_require_be"`
	TelnyxAMRWBDefaultBE        bool `mapstructure:"telnyx_amrwb_default_be"`
	AMRWBAllowOctetFallback     bool `mapstructure:"amrwb_allow_octet_fallback"`
	AMRWBStreamStrict           bool `mapstructure:"amrwb_stream_strict"`
	AMRWBStreamDiscardCarryover bool `mapstructure:"amrwb_stream_discard_carryover"`
	AMRWBMinDecodeFrames        int  `mapstructure:"amrwb_min_decode_frames"`
	AMRWBMaxBufferMs            int  `mapstructure:"amrwb_max_buffer_ms"`
	AMRWBStreamChunkFrames      int  `mapstructure:"amrwb_stream_chunk_frames"`
	AMRWBDebug                  bool `mapstructure:"amrwb_debug"`

	// STT / turn-taking
	STTSilenceMs            int  `mapstructure:"stt_silence_ms"`
	STTChunkMs              int  `mapstructure:"stt_chunk_ms"`
	STTEmitMs               int  `mapstructure:"stt_emit_ms"`
	STTPostPlaybackGraceMs  int  `mapstructure:"stt_post_playback_grace_ms"`
	STTPostPlaybackGraceMin int  `mapstructure:"stt_post_playback_grace_min_ms"`
	STTPostPlaybackGraceMax int  `mapstructure:"stt_post_playback_grace_max_ms"`
	STTAECEnabled           bool `mapstructure:"stt_aec_enabled"`
	STTLateFinalGraceMs     int  `mapstructure:"stt_late_final_grace_ms"`
	STTPlaybackGuardMs      int  `mapstructure:"stt_playback_guard_ms"`
	STTPartialIntervalMs    int  `mapstructure:"stt_partial_interval_ms"`
	STTDebug                bool `mapstructure:"stt_debug"`

	// TTS segmentation (WebRTC HD only; PSTN always plays one segment)
	TTSSegmentFirstMinChars int `mapstructure:"tts_segment_first_min_chars"`
	TTSSegmentNextMinChars  int `mapstructure:"tts_segment_next_min_chars"`

	// Dead-air
	DeadAirMs         int `mapstructure:"dead_air_ms"`
	DeadAirNoFramesMs int `mapstructure:"dead_air_no_frames_ms"`

	// Capacity
	GlobalConcurrencyCap       int    `mapstructure:"global_concurrency_cap"`
	TenantConcurrencyCapDefault int   `mapstructure:"tenant_concurrency_cap_default"`
	TenantCallsPerMinCapDefault int   `mapstructure:"tenant_calls_per_min_cap_default"`
	CapacityTTLSeconds          int   `mapstructure:"capacity_ttl_seconds"`
	CapPrefix                   string `mapstructure:"cap_prefix"`
	TenantMapPrefix              string `mapstructure:"tenantmap_prefix"`
	TenantCfgPrefix               string `mapstructure:"tenantcfg_prefix"`

	// Playback
	PlaybackProfile          string `mapstructure:"playback_profile"`
	PlaybackPSTNSampleRate   int    `mapstructure:"playback_pstn_sample_rate"`
	PlaybackEnableHighpass   bool   `mapstructure:"playback_enable_highpass"`

	// Shared store
	RedisAddr     string `mapstructure:"redis_addr" validate:"required"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`

	// Session manager
	IdleTTLMinutes    int `mapstructure:"idle_ttl_minutes"`
	IdleSweepSeconds  int `mapstructure:"idle_sweep_seconds"`
	WatchdogSeconds   int `mapstructure:"watchdog_seconds"`
	MaxRestartAttempts int `mapstructure:"max_restart_attempts"`

	// Collaborators
	CarrierBaseURL string `mapstructure:"carrier_base_url"`
	STTBaseURL     string `mapstructure:"stt_base_url"`
	TTSBaseURL     string `mapstructure:"tts_base_url"`
	LLMFallbackReply string `mapstructure:"llm_fallback_reply"`
	AudioPublicBaseURL string `mapstructure:"audio_public_base_url"`
	AudioStorageDir    string `mapstructure:"audio_storage_dir"`

	// WebRTC signalling
	CORSAllowOrigins string `mapstructure:"cors_allow_origins"`
	JWTSecret        string `mapstructure:"jwt_secret"`
}

// Load reads configuration from the environment (and an optional .env
// file pointed to by ENV_PATH), applies defaults for every toggle in
// spec.md §6, and validates the result.
func Load() (*Config, error) {
	v := viper.NewWithOptions(viper.KeyDelimiter("__"))
	v.AddConfigPath(".")
	v.SetConfigName(".env")
	v.SetConfigType("env")
	if path := os.Getenv("ENV_PATH"); path != "" {
		v.SetConfigFile(path)
	}
	v.AutomaticEnv()
	v.AllowEmptyEnv(true)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("TRANSPORT_MODE", string(TransportPSTN))
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8080)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PRODUCTION", true)
	v.SetDefault("LOG_FILE_PATH", "")

	v.SetDefault("TELNYX_STREAM_TRACK", string(TrackInbound))
	v.SetDefault("TELNYX_TARGET_SAMPLE_RATE", 16000)
	v.SetDefault("TELNYX_DEBUG_DUMP_DIR", "")
	v.SetDefault("TELNYX_DEBUG_ENABLED", false)

	v.SetDefault("AMRWB_REQUIRE_BE", true)
	v.SetDefault("TELNYX_AMRWB_DEFAULT_BE", true)
	v.SetDefault("AMRWB_ALLOW_OCTET_FALLBACK", false)
	v.SetDefault("AMRWB_STREAM_STRICT", false)
	v.SetDefault("AMRWB_STREAM_DISCARD_CARRYOVER", true)
	v.SetDefault("AMRWB_MIN_DECODE_FRAMES", 10)
	v.SetDefault("AMRWB_MAX_BUFFER_MS", 500)
	v.SetDefault("AMRWB_STREAM_CHUNK_FRAMES", 10)
	v.SetDefault("AMRWB_DEBUG", false)

	v.SetDefault("STT_SILENCE_MS", 700)
	v.SetDefault("STT_CHUNK_MS", 20)
	v.SetDefault("STT_EMIT_MS", 100)
	v.SetDefault("STT_POST_PLAYBACK_GRACE_MS", 0)
	v.SetDefault("STT_POST_PLAYBACK_GRACE_MIN_MS", 300)
	v.SetDefault("STT_POST_PLAYBACK_GRACE_MAX_MS", 1500)
	v.SetDefault("STT_AEC_ENABLED", true)
	v.SetDefault("STT_LATE_FINAL_GRACE_MS", 1500)
	v.SetDefault("STT_PLAYBACK_GUARD_MS", 400)
	v.SetDefault("STT_PARTIAL_INTERVAL_MS", 0)
	v.SetDefault("STT_DEBUG", false)

	v.SetDefault("TTS_SEGMENT_FIRST_MIN_CHARS", 20)
	v.SetDefault("TTS_SEGMENT_NEXT_MIN_CHARS", 40)

	v.SetDefault("DEAD_AIR_MS", 8000)
	v.SetDefault("DEAD_AIR_NO_FRAMES_MS", 3000)

	v.SetDefault("GLOBAL_CONCURRENCY_CAP", 200)
	v.SetDefault("TENANT_CONCURRENCY_CAP_DEFAULT", 20)
	v.SetDefault("TENANT_CALLS_PER_MIN_CAP_DEFAULT", 60)
	v.SetDefault("CAPACITY_TTL_SECONDS", 600)
	v.SetDefault("CAP_PREFIX", "cap")
	v.SetDefault("TENANTMAP_PREFIX", "tenantmap")
	v.SetDefault("TENANTCFG_PREFIX", "tenantcfg")

	v.SetDefault("PLAYBACK_PROFILE", "default")
	v.SetDefault("PLAYBACK_PSTN_SAMPLE_RATE", 8000)
	v.SetDefault("PLAYBACK_ENABLE_HIGHPASS", false)

	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("IDLE_TTL_MINUTES", 10)
	v.SetDefault("IDLE_SWEEP_SECONDS", 60)
	v.SetDefault("WATCHDOG_SECONDS", 8)
	v.SetDefault("MAX_RESTART_ATTEMPTS", 1)

	v.SetDefault("CARRIER_BASE_URL", "")
	v.SetDefault("STT_BASE_URL", "")
	v.SetDefault("TTS_BASE_URL", "")
	v.SetDefault("LLM_FALLBACK_REPLY", "Acknowledged.")
	v.SetDefault("AUDIO_PUBLIC_BASE_URL", "")
	v.SetDefault("AUDIO_STORAGE_DIR", "./data/audio")

	v.SetDefault("CORS_ALLOW_ORIGINS", "")
	v.SetDefault("JWT_SECRET", "")
}

// AllowedOrigins splits the comma-separated CORS allow-list.
func (c *Config) AllowedOrigins() []string {
	if c.CORSAllowOrigins == "" {
		return nil
	}
	parts := strings.Split(c.CORSAllowOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

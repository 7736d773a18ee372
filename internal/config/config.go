package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel     string `yaml:"log_level"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

// ExtractConfig controls the external media decoder.
type ExtractConfig struct {
	Command        string `yaml:"command"`
	ProbeStartMS   int    `yaml:"probe_start_timeout_ms"`
	ProbeRunMS     int    `yaml:"probe_run_timeout_ms"`
	StartTimeoutMS int    `yaml:"start_timeout_ms"`
	RunTimeoutMS   int    `yaml:"run_timeout_ms"`
}

// EngineConfig controls the on-device acoustic model.
type EngineConfig struct {
	ModelPath     string `yaml:"model_path"`
	ModelSizeHint string `yaml:"model_size_hint"`
	Language      string `yaml:"language"`
	MaxThreads    int    `yaml:"max_threads"`
}

// RemoteConfig controls the HTTP transcription backend.
type RemoteConfig struct {
	Endpoint  string `yaml:"endpoint"`
	ModelHint string `yaml:"model_hint"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

// RecognitionConfig controls backend selection for incoming requests.
type RecognitionConfig struct {
	PreferRemote bool `yaml:"prefer_remote"`
}

type StoreConfig struct {
	Path           string `yaml:"path"`
	RetentionMode  string `yaml:"retention_mode"`
	RetentionDays  int    `yaml:"retention_days"`
	MaxTranscripts int    `yaml:"max_transcripts"`
	VacuumOnStart  bool   `yaml:"vacuum_on_start"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	Extract     ExtractConfig     `yaml:"extract"`
	Engine      EngineConfig      `yaml:"engine"`
	Remote      RemoteConfig      `yaml:"remote"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Store       StoreConfig       `yaml:"store"`
}

func Default() Config {
	return Config{
		RuntimeName: "scribed",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:     "info",
			OTLPEndpoint: "",
			OTLPInsecure: true,
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		Extract: ExtractConfig{
			Command:        "ffmpeg",
			ProbeStartMS:   2000,
			ProbeRunMS:     3000,
			StartTimeoutMS: 5000,
			RunTimeoutMS:   60000,
		},
		Engine: EngineConfig{
			ModelSizeHint: "small",
			Language:      "auto",
			MaxThreads:    8,
		},
		Remote: RemoteConfig{
			Endpoint:  "",
			ModelHint: "",
			TimeoutMS: 30000,
		},
		Recognition: RecognitionConfig{
			PreferRemote: false,
		},
		Store: StoreConfig{
			Path:           "./data/scribed-transcripts.db",
			RetentionMode:  "session",
			RetentionDays:  30,
			MaxTranscripts: 10000,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "SCRIBED_RUNTIME_NAME")
	overrideString(&cfg.Environment, "SCRIBED_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "SCRIBED_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "SCRIBED_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "SCRIBED_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "SCRIBED_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "SCRIBED_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Bus.Embedded, "SCRIBED_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "SCRIBED_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "SCRIBED_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "SCRIBED_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "SCRIBED_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "SCRIBED_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "SCRIBED_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "SCRIBED_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "SCRIBED_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.Extract.Command, "SCRIBED_EXTRACT_COMMAND")
	overrideInt(&cfg.Extract.ProbeStartMS, "SCRIBED_EXTRACT_PROBE_START_TIMEOUT_MS")
	overrideInt(&cfg.Extract.ProbeRunMS, "SCRIBED_EXTRACT_PROBE_RUN_TIMEOUT_MS")
	overrideInt(&cfg.Extract.StartTimeoutMS, "SCRIBED_EXTRACT_START_TIMEOUT_MS")
	overrideInt(&cfg.Extract.RunTimeoutMS, "SCRIBED_EXTRACT_RUN_TIMEOUT_MS")
	overrideString(&cfg.Engine.ModelPath, "SCRIBED_ENGINE_MODEL_PATH")
	overrideString(&cfg.Engine.ModelSizeHint, "SCRIBED_ENGINE_MODEL_SIZE_HINT")
	overrideString(&cfg.Engine.Language, "SCRIBED_ENGINE_LANGUAGE")
	overrideInt(&cfg.Engine.MaxThreads, "SCRIBED_ENGINE_MAX_THREADS")
	overrideString(&cfg.Remote.Endpoint, "SCRIBED_REMOTE_ENDPOINT")
	overrideString(&cfg.Remote.ModelHint, "SCRIBED_REMOTE_MODEL_HINT")
	overrideInt(&cfg.Remote.TimeoutMS, "SCRIBED_REMOTE_TIMEOUT_MS")
	overrideBool(&cfg.Recognition.PreferRemote, "SCRIBED_RECOGNITION_PREFER_REMOTE")
	overrideString(&cfg.Store.Path, "SCRIBED_STORE_PATH")
	overrideString(&cfg.Store.RetentionMode, "SCRIBED_STORE_RETENTION_MODE")
	overrideInt(&cfg.Store.RetentionDays, "SCRIBED_STORE_RETENTION_DAYS")
	overrideInt(&cfg.Store.MaxTranscripts, "SCRIBED_STORE_MAX_TRANSCRIPTS")
	overrideBool(&cfg.Store.VacuumOnStart, "SCRIBED_STORE_VACUUM_ON_START")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else {
		if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
	}
	if strings.TrimSpace(cfg.Extract.Command) == "" {
		return errors.New("extract.command must not be empty")
	}
	if cfg.Extract.ProbeStartMS <= 0 || cfg.Extract.ProbeRunMS <= 0 {
		return errors.New("extract probe timeouts must be positive")
	}
	if cfg.Extract.StartTimeoutMS <= 0 || cfg.Extract.RunTimeoutMS <= 0 {
		return errors.New("extract timeouts must be positive")
	}
	if cfg.Engine.MaxThreads <= 0 {
		return errors.New("engine.max_threads must be positive")
	}
	if cfg.Engine.Language == "" {
		return errors.New("engine.language must not be empty (use \"auto\" for detection)")
	}
	if cfg.Remote.TimeoutMS <= 0 {
		return errors.New("remote.timeout_ms must be positive")
	}
	if cfg.Recognition.PreferRemote && cfg.Remote.Endpoint == "" && cfg.Engine.ModelPath == "" {
		return errors.New("recognition.prefer_remote requires remote.endpoint or engine.model_path")
	}
	if cfg.Store.Path == "" {
		return errors.New("store.path must not be empty")
	}
	switch cfg.Store.RetentionMode {
	case "ephemeral", "session", "persistent":
		// ok
	default:
		return errors.New("store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.Store.RetentionDays < 0 {
		return errors.New("store.retention_days must be >= 0")
	}
	return nil
}

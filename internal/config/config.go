package config

// Config is the full runtime configuration for the recall daemon and CLI.
type Config struct {
	Server    ServerConfig
	Engine    EngineConfig
	Storage   StorageConfig
	Log       LogConfig
	Chunking  ChunkingConfig
	Embedding EmbeddingConfig
	Search    SearchConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port int
}

// EngineConfig points at the local inference engine (an Ollama-compatible
// HTTP API) and names the models used per capability.
type EngineConfig struct {
	BaseURL     string
	EmbedModel  string
	VisionModel string
	RerankModel string
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type ChunkingConfig struct {
	MaxTokens     int
	OverlapTokens int
	MinChunkSize  int
}

type EmbeddingConfig struct {
	MaxInputLength int
}

type SearchConfig struct {
	RerankEnabled bool
}

type WorkerConfig struct {
	PollInterval string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4400,
		},
		Engine: EngineConfig{
			BaseURL:     "http://localhost:11434",
			EmbedModel:  "nomic-embed-text",
			VisionModel: "llava",
			RerankModel: "phi3.5",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Chunking: ChunkingConfig{
			MaxTokens:     512,
			OverlapTokens: 50,
			MinChunkSize:  100,
		},
		Embedding: EmbeddingConfig{
			MaxInputLength: 2048,
		},
		Search: SearchConfig{
			RerankEnabled: false,
		},
		Worker: WorkerConfig{
			PollInterval: "500ms",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/recall/config.json, then applies RECALL_* environment
// variable overrides on top.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

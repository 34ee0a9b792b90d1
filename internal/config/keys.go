package config

import (
	"fmt"
	"os"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "RECALL_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "engine.base_url", typ: kString, env: "RECALL_ENGINE_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Engine.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.BaseURL },
	},
	{
		key: "engine.embed_model", typ: kString, env: "RECALL_ENGINE_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.EmbedModel },
	},
	{
		key: "engine.vision_model", typ: kString, env: "RECALL_ENGINE_VISION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.VisionModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.VisionModel },
	},
	{
		key: "engine.rerank_model", typ: kString, env: "RECALL_ENGINE_RERANK_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Engine.RerankModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Engine.RerankModel },
	},
	{
		key: "storage.data_dir", typ: kString, env: "RECALL_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "RECALL_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "chunking.max_tokens", typ: kInt, env: "RECALL_CHUNKING_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Chunking.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.MaxTokens },
	},
	{
		key: "chunking.overlap_tokens", typ: kInt, env: "RECALL_CHUNKING_OVERLAP_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Chunking.OverlapTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.OverlapTokens },
	},
	{
		key: "chunking.min_chunk_size", typ: kInt, env: "RECALL_CHUNKING_MIN_CHUNK_SIZE",
		apply:   func(cfg *Config, v any) { cfg.Chunking.MinChunkSize = v.(int) },
		extract: func(cfg Config) any { return cfg.Chunking.MinChunkSize },
	},
	{
		key: "embedding.max_input_length", typ: kInt, env: "RECALL_EMBEDDING_MAX_INPUT_LENGTH",
		apply:   func(cfg *Config, v any) { cfg.Embedding.MaxInputLength = v.(int) },
		extract: func(cfg Config) any { return cfg.Embedding.MaxInputLength },
	},
	{
		key: "search.rerank_enabled", typ: kBool, env: "RECALL_SEARCH_RERANK_ENABLED",
		apply:   func(cfg *Config, v any) { cfg.Search.RerankEnabled = v.(bool) },
		extract: func(cfg Config) any { return cfg.Search.RerankEnabled },
	},
	{
		key: "worker.poll_interval", typ: kString, env: "RECALL_WORKER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Worker.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Worker.PollInterval },
	},
}

func applyBackend(cfg *Config, b Backend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}

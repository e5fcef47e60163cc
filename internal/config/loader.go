package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	yaml "gopkg.in/yaml.v3"

	"ragcore/internal/ragerr"
)

// fileDefaults mirrors a subset of Config, sourced from an optional
// config.yaml/config.yml next to the process (or CONFIG_FILE). The file
// merges in as defaults; env vars win. Every field is a pointer so an
// absent key leaves the hardcoded default untouched.
type fileDefaults struct {
	Embed struct {
		Endpoint      *string `yaml:"endpoint"`
		Dim           *int    `yaml:"dim"`
		AllowFallback *bool   `yaml:"allowFallback"`
		TimeoutMS     *int    `yaml:"timeoutMs"`
		MaxInFlight   *int    `yaml:"maxInFlight"`
	} `yaml:"embed"`
	Retrieval struct {
		TopKDefault         *int `yaml:"topKDefault"`
		MaxCandidates       *int `yaml:"maxCandidates"`
		CandidateMultiplier *int `yaml:"candidateMultiplier"`
		TimeoutMS           *int `yaml:"timeoutMs"`
		MaxInFlight         *int `yaml:"maxInFlight"`
	} `yaml:"retrieval"`
	Vector struct {
		Backend    *string `yaml:"backend"`
		DSN        *string `yaml:"dsn"`
		Collection *string `yaml:"collection"`
		Metric     *string `yaml:"metric"`
	} `yaml:"vector"`
	Cache struct {
		TTLQueryS   *int    `yaml:"ttlQueryS"`
		TTLFeatureS *int    `yaml:"ttlFeatureS"`
		TTLEmbedS   *int    `yaml:"ttlEmbedS"`
		RedisAddr   *string `yaml:"redisAddr"`
	} `yaml:"cache"`
	Weights struct {
		LTR        *float64 `yaml:"ltr"`
		Conceptual *float64 `yaml:"conceptual"`
		Distance   *float64 `yaml:"distance"`
		Recency    *float64 `yaml:"recency"`
		Metadata   *float64 `yaml:"metadata"`
	} `yaml:"weights"`
	Timeouts struct {
		LTRMS     *int `yaml:"ltrMs"`
		RequestMS *int `yaml:"requestMs"`
	} `yaml:"timeouts"`
	HTTP struct {
		Addr *string `yaml:"addr"`
	} `yaml:"http"`
}

// loadFileDefaults reads CONFIG_FILE if set, else probes config.yaml and
// config.yml in the working directory; a missing file is not an error,
// the process proceeds with built-in defaults.
func loadFileDefaults() (fileDefaults, error) {
	var fd fileDefaults
	candidates := []string{"config.yaml", "config.yml"}
	if explicit := strings.TrimSpace(os.Getenv("CONFIG_FILE")); explicit != "" {
		candidates = []string{explicit}
	}
	for _, path := range candidates {
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fd, err
		}
		if err := yaml.Unmarshal(b, &fd); err != nil {
			return fd, ragerr.Wrap(ragerr.KindConfig, "config", err)
		}
		return fd, nil
	}
	return fd, nil
}

// Load reads configuration from an optional YAML file followed by
// environment variables, env taking precedence. godotenv.Overload loads a
// local .env first and lets its values replace variables already set in
// the process environment, so in development the .env file wins.
func Load() (Config, error) {
	_ = godotenv.Overload()

	fd, err := loadFileDefaults()
	if err != nil {
		return Config{}, err
	}

	cfg := Config{}

	cfg.Embed.Endpoint = firstNonEmpty(strings.TrimSpace(os.Getenv("EMBED_ENDPOINT")), strPtr(fd.Embed.Endpoint))
	cfg.Embed.Dim = intFromEnv("EMBED_DIM", intPtr(fd.Embed.Dim, 0))
	cfg.Embed.AllowFallback = boolFromEnv("ALLOW_EMBED_FALLBACK", boolPtr(fd.Embed.AllowFallback, false))
	cfg.Embed.TimeoutMS = intFromEnv("EMBED_TIMEOUT_MS", intPtr(fd.Embed.TimeoutMS, 2000))
	cfg.Embed.MaxInFlight = intFromEnv("EMBED_MAX_INFLIGHT", intPtr(fd.Embed.MaxInFlight, 16))
	cfg.Embed.MaxTextBytes = intFromEnv("EMBED_MAX_TEXT_BYTES", 8*1024)

	cfg.Retrieval.TopKDefault = intFromEnv("RAG_TOP_K_DEFAULT", intPtr(fd.Retrieval.TopKDefault, 10))
	cfg.Retrieval.MaxCandidates = intFromEnv("MAX_CANDIDATES", intPtr(fd.Retrieval.MaxCandidates, 200))
	cfg.Retrieval.CandidateMultiplier = intFromEnv("CANDIDATE_MULTIPLIER", intPtr(fd.Retrieval.CandidateMultiplier, 5))
	cfg.Retrieval.TimeoutMS = intFromEnv("RETRIEVAL_TIMEOUT_MS", intPtr(fd.Retrieval.TimeoutMS, 800))
	cfg.Retrieval.MaxInFlight = intFromEnv("VECTOR_MAX_INFLIGHT", intPtr(fd.Retrieval.MaxInFlight, 32))

	cfg.Vector.Backend = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTOR_BACKEND")), strPtr(fd.Vector.Backend), "memory")
	cfg.Vector.DSN = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTOR_DSN")), strPtr(fd.Vector.DSN))
	cfg.Vector.Collection = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTOR_COLLECTION")), strPtr(fd.Vector.Collection), "chunks")
	cfg.Vector.Dimensions = intFromEnv("VECTOR_DIMENSIONS", cfg.Embed.Dim)
	cfg.Vector.Metric = firstNonEmpty(strings.TrimSpace(os.Getenv("VECTOR_METRIC")), strPtr(fd.Vector.Metric), "cosine")

	cfg.Cache.TTLQueryS = intFromEnv("CACHE_TTL_QUERY_S", intPtr(fd.Cache.TTLQueryS, 30))
	cfg.Cache.TTLFeatureS = intFromEnv("CACHE_TTL_FEATURE_S", intPtr(fd.Cache.TTLFeatureS, 300))
	cfg.Cache.TTLEmbedS = intFromEnv("CACHE_TTL_EMBED_S", intPtr(fd.Cache.TTLEmbedS, 3600))
	cfg.Cache.RedisAddr = firstNonEmpty(strings.TrimSpace(os.Getenv("REDIS_ADDR")), strPtr(fd.Cache.RedisAddr))
	cfg.Cache.RedisDB = intFromEnv("REDIS_DB", 0)
	cfg.Cache.RedisPassword = os.Getenv("REDIS_PASSWORD")
	cfg.Cache.RedisInsecureSkipVerify = boolFromEnv("REDIS_TLS_INSECURE_SKIP_VERIFY", false)

	cfg.Weights.LTR = floatFromEnv("RAG_FUSION_LTR_WEIGHT", floatPtr(fd.Weights.LTR, 0.6))
	cfg.Weights.Conceptual = floatFromEnv("RAG_FUSION_CONCEPTUAL_WEIGHT", floatPtr(fd.Weights.Conceptual, 0.4))
	cfg.Weights.Distance = floatFromEnv("RAG_WEIGHT_DISTANCE", floatPtr(fd.Weights.Distance, 0.7))
	cfg.Weights.Recency = floatFromEnv("RAG_WEIGHT_RECENCY", floatPtr(fd.Weights.Recency, 0.2))
	cfg.Weights.Metadata = floatFromEnv("RAG_WEIGHT_METADATA", floatPtr(fd.Weights.Metadata, 0.1))

	cfg.Timeouts.LTRMS = intFromEnv("LTR_TIMEOUT_MS", intPtr(fd.Timeouts.LTRMS, 300))
	cfg.Timeouts.RequestMS = intFromEnv("REQUEST_TIMEOUT_MS", intPtr(fd.Timeouts.RequestMS, 1500))

	cfg.Obs.ServiceName = firstNonEmpty(strings.TrimSpace(os.Getenv("OTEL_SERVICE_NAME")), "ragcore")
	cfg.Obs.ServiceVersion = firstNonEmpty(strings.TrimSpace(os.Getenv("SERVICE_VERSION")), "dev")
	cfg.Obs.Environment = firstNonEmpty(strings.TrimSpace(os.Getenv("DEPLOYMENT_ENVIRONMENT")), "development")
	cfg.Obs.OTLP = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	cfg.Obs.LogLevel = strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	cfg.Obs.LogPath = strings.TrimSpace(os.Getenv("LOG_PATH"))

	cfg.HTTP.Addr = firstNonEmpty(strings.TrimSpace(os.Getenv("HTTP_ADDR")), strPtr(fd.HTTP.Addr), ":8080")

	cfg.TenantRequired = boolFromEnv("TENANT_REQUIRED", false)

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func strPtr(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func intPtr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func floatPtr(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

func boolPtr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func validate(cfg Config) error {
	if cfg.Embed.Endpoint == "" {
		return ragerr.New(ragerr.KindConfig, "config", "EMBED_ENDPOINT is required")
	}
	if cfg.Embed.Dim <= 0 {
		return ragerr.New(ragerr.KindConfig, "config", "EMBED_DIM must be a positive integer")
	}
	if cfg.Retrieval.TopKDefault <= 0 {
		return ragerr.New(ragerr.KindConfig, "config", "RAG_TOP_K_DEFAULT must be a positive integer")
	}
	if cfg.Retrieval.MaxCandidates <= 0 {
		return ragerr.New(ragerr.KindConfig, "config", "MAX_CANDIDATES must be a positive integer")
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func intFromEnv(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func floatFromEnv(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func boolFromEnv(key string, def bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port    string
	LogMode string

	DatabaseURL string
	SslCertPath string

	StorageBackend  string // s3 | local
	LocalStorageDir string
	AwsAccessKey    string
	AwsSecretKey    string
	AwsRegion       string
	BucketName      string

	AIAPIKey       string
	EmbedModel     string
	GenModel       string
	ModelTimeout   time.Duration
	EmbedBatchSize int
	EmbedCacheSize int
	EmbedCacheTTL  time.Duration

	VectorBackend string // sqlite | postgres
	VectorDBPath  string

	ChunkSize        int
	ChunkOverlap     int
	SnippetLimit     int
	CitationFallback int

	// AIEngineURL points the pipeline at a remote index service; empty indexes in process.
	AIEngineURL         string
	AllowEmptyDocuments bool

	CrawlUA      string
	ScraperURL   string
	FetchTimeout time.Duration
	FetchRPS     float64 // per host
	FetchBurst   int

	QueueBackend  string // memory | redis
	RedisURL      string
	RedisStream   string
	RedisGroup    string
	Workers       int
	ItemRetries   int
	ItemBackoff   time.Duration
	WebJobRetries int
	WebJobBackoff time.Duration

	JWTSecret   string
	CORSOrigins []string
}

// LoadConfig loads the environment variables and return config
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:    getEnv("PORT", "8080"),
		LogMode: getEnv("LOG_MODE", "dev"),

		DatabaseURL: getEnv("DATABASE_URL", "memory"),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),

		StorageBackend:  getEnv("STORAGE_BACKEND", "local"),
		LocalStorageDir: getEnv("LOCAL_STORAGE_DIR", "./data/objects"),
		AwsAccessKey:    getEnv("AWS_ACCESS_KEY", ""),
		AwsSecretKey:    getEnv("AWS_SECRET_KEY", ""),
		AwsRegion:       getEnv("AWS_REGION", "us-east-2"),
		BucketName:      getEnv("BUCKET_NAME", "docuiq-content"),

		AIAPIKey:       getEnv("GEMINI_API_KEY", ""),
		EmbedModel:     getEnv("EMBED_MODEL", "text-embedding-004"),
		GenModel:       getEnv("GEN_MODEL", "gemini-1.5-flash"),
		ModelTimeout:   getEnvDuration("MODEL_TIMEOUT", 60*time.Second),
		EmbedBatchSize: getEnvInt("EMBED_BATCH_SIZE", 16),
		EmbedCacheSize: getEnvInt("EMBED_CACHE_SIZE", 512),
		EmbedCacheTTL:  getEnvDuration("EMBED_CACHE_TTL", 30*time.Minute),

		VectorBackend: getEnv("VECTOR_BACKEND", "sqlite"),
		VectorDBPath:  getEnv("VECTOR_DB_PATH", "./data/vector_store.sqlite3"),

		ChunkSize:        getEnvInt("CHUNK_SIZE", 1200),
		ChunkOverlap:     getEnvInt("CHUNK_OVERLAP", 200),
		SnippetLimit:     getEnvInt("SNIPPET_LIMIT", 280),
		CitationFallback: getEnvInt("CITATION_FALLBACK", 3),

		AIEngineURL:         strings.TrimRight(getEnv("AI_ENGINE_URL", ""), "/"),
		AllowEmptyDocuments: getEnvBool("ALLOW_EMPTY_DOCUMENTS", false),

		CrawlUA:      getEnv("CRAWL_UA", "DocuIQBot/1.0 (+https://docuiq.local)"),
		ScraperURL:   getEnv("SCRAPER_URL", ""),
		FetchTimeout: getEnvDuration("FETCH_TIMEOUT", 25*time.Second),
		FetchRPS:     getEnvFloat("FETCH_RPS", 2),
		FetchBurst:   getEnvInt("FETCH_BURST", 4),

		QueueBackend:  getEnv("QUEUE_BACKEND", "memory"),
		RedisURL:      getEnv("REDIS_URL", "redis://localhost:6379/0"),
		RedisStream:   getEnv("REDIS_STREAM", "docuiq:ingest"),
		RedisGroup:    getEnv("REDIS_GROUP", "docuiq-workers"),
		Workers:       getEnvInt("WORKERS", 4),
		ItemRetries:   getEnvInt("ITEM_RETRIES", 3),
		ItemBackoff:   getEnvDuration("ITEM_RETRY_BACKOFF", 15*time.Second),
		WebJobRetries: getEnvInt("WEB_JOB_RETRIES", 2),
		WebJobBackoff: getEnvDuration("WEB_JOB_RETRY_BACKOFF", 10*time.Second),

		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: getEnvList("CORS_ORIGINS", []string{"http://localhost:5173"}),
	}
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("WARN: %s=%q not an int, using default %d", key, v, def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("WARN: %s=%q not a number, using default %g", key, v, def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("WARN: %s=%q not a bool, using default %t", key, v, def)
		return def
	}
	return b
}

// getEnvDuration accepts Go durations ("15s") or plain seconds ("15").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	log.Printf("WARN: %s=%q not a duration, using default %s", key, v, def)
	return def
}

func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package config

import (
	"os"
	"strconv"
)

// Config holds process configuration loaded from the environment.
type Config struct {
	Port             string
	LogLevel         string
	DatabaseURL      string
	MaxUploadSize    int64
	MigrationsDir    string
	ArtifactBackend  string // "file" | "s3" | "gcs"
	ArtifactDir      string
	ArtifactS3Bucket string
	ArtifactS3Region string
	ArtifactS3Endpoint string
	ArtifactS3Prefix   string
	ArtifactGCSBucket  string
	ArtifactGCSPrefix  string
	CacheTTLSeconds  int
	CacheMaxEntries  int
}

// Load loads configuration from environment variables, applying the
// defaults named in the recognized-environment-variables contract.
func Load() *Config {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		dbURL = "postgres://adsentry@localhost:5432/adsentry?sslmode=disable"
	}

	maxUpload := int64(10 * 1024 * 1024)
	if v := os.Getenv("MAX_UPLOAD_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			maxUpload = n
		}
	}

	migrationsDir := os.Getenv("MIGRATIONS_DIR")

	artifactBackend := os.Getenv("ARTIFACT_BACKEND")
	if artifactBackend == "" {
		artifactBackend = "file"
	}

	artifactDir := os.Getenv("ARTIFACT_DIR")
	if artifactDir == "" {
		artifactDir = "./artifacts"
	}

	cacheTTL := 300
	if v := os.Getenv("CACHE_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cacheTTL = n
		}
	}

	cacheMax := 1000
	if v := os.Getenv("CACHE_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cacheMax = n
		}
	}

	return &Config{
		Port:               port,
		LogLevel:           logLevel,
		DatabaseURL:        dbURL,
		MaxUploadSize:      maxUpload,
		MigrationsDir:      migrationsDir,
		ArtifactBackend:    artifactBackend,
		ArtifactDir:        artifactDir,
		ArtifactS3Bucket:   os.Getenv("ARTIFACT_S3_BUCKET"),
		ArtifactS3Region:   os.Getenv("ARTIFACT_S3_REGION"),
		ArtifactS3Endpoint: os.Getenv("ARTIFACT_S3_ENDPOINT"),
		ArtifactS3Prefix:   os.Getenv("ARTIFACT_S3_PREFIX"),
		ArtifactGCSBucket:  os.Getenv("ARTIFACT_GCS_BUCKET"),
		ArtifactGCSPrefix:  os.Getenv("ARTIFACT_GCS_PREFIX"),
		CacheTTLSeconds:    cacheTTL,
		CacheMaxEntries:    cacheMax,
	}
}

package configloader

import "time"

const (
	// defaultConfPath is the fallback configuration directory when no overrides are provided.
	defaultConfPath = "configs"
	// defaultServiceName is used when neither ldflags nor SERVICE_NAME provide a name.
	defaultServiceName = "reel-ingestion"
	// defaultServiceVersion is used when no version is injected at build time.
	defaultServiceVersion = "dev"
	// defaultEnvironment is used when APP_ENV is missing.
	defaultEnvironment = "development"

	defaultHTTPAddr = "0.0.0.0:8000"
	defaultSchema   = "ingestion"

	// minPartSize is the multipart protocol floor for every part except the last.
	minPartSize = 5 * 1024 * 1024

	defaultSignedURLTTL      = 15 * time.Minute
	defaultBrowserPartSize   = 16 * 1024 * 1024
	defaultStreamPartSize    = 8 * 1024 * 1024
	defaultUploadConcurrency = 3
	defaultUploadAttempts    = 4
	defaultUploadBackoffStep = 500 * time.Millisecond
	defaultSignBatchSize     = 8
	defaultSessionStaleTTL   = 24 * time.Hour
	defaultResolveTimeout    = 20 * time.Second
	defaultPollInterval      = 3 * time.Second
	defaultProcessingTimeout = 10 * time.Second
)

package configloader

import (
	"fmt"
	"time"
)

// bootstrapFile 对应配置文件的原始结构；时长字段以字符串承载，归一化时解析。
type bootstrapFile struct {
	Server struct {
		HTTP struct {
			Network string `json:"network"`
			Addr    string `json:"addr"`
			Timeout string `json:"timeout"`
		} `json:"http"`
		Handlers struct {
			DefaultTimeout string `json:"default_timeout"`
			CommandTimeout string `json:"command_timeout"`
			QueryTimeout   string `json:"query_timeout"`
		} `json:"handlers"`
		MetadataKeys []string `json:"metadata_keys"`
	} `json:"server"`
	Data struct {
		Postgres struct {
			DSN               string `json:"dsn"`
			Schema            string `json:"schema"`
			MaxOpenConns      int    `json:"max_open_conns"`
			MinOpenConns      int    `json:"min_open_conns"`
			MaxConnLifetime   string `json:"max_conn_lifetime"`
			MaxConnIdleTime   string `json:"max_conn_idle_time"`
			HealthCheckPeriod string `json:"health_check_period"`
			PreparedStmts     bool   `json:"prepared_statements_enabled"`
			Transaction       struct {
				DefaultIsolation string `json:"default_isolation"`
				DefaultTimeout   string `json:"default_timeout"`
				LockTimeout      string `json:"lock_timeout"`
				MaxRetries       int    `json:"max_retries"`
				MetricsEnabled   *bool  `json:"metrics_enabled"`
			} `json:"transaction"`
		} `json:"postgres"`
	} `json:"data"`
	ObjectStore struct {
		Endpoint        string `json:"endpoint"`
		Region          string `json:"region"`
		Bucket          string `json:"bucket"`
		AccessKeyID     string `json:"access_key_id"`
		SecretAccessKey string `json:"secret_access_key"`
		UsePathStyle    bool   `json:"use_path_style"`
		SignedURLTTL    string `json:"signed_url_ttl"`
	} `json:"object_store"`
	Upload struct {
		PartSizeBytes   int64  `json:"part_size_bytes"`
		MaxConcurrency  int    `json:"max_concurrency"`
		MaxAttempts     int    `json:"max_attempts"`
		BackoffStep     string `json:"backoff_step"`
		SignBatchSize   int    `json:"sign_batch_size"`
		SessionStaleTTL string `json:"session_stale_ttl"`
	} `json:"upload"`
	StreamIngest struct {
		Enabled        bool     `json:"enabled"`
		PartSizeBytes  int64    `json:"part_size_bytes"`
		Resolvers      []string `json:"resolvers"`
		ResolveTimeout string   `json:"resolve_timeout"`
		PollInterval   string   `json:"poll_interval"`
		Concurrency    int      `json:"concurrency"`
	} `json:"stream_ingest"`
	Relay struct {
		AllowedHosts []string `json:"allowed_hosts"`
	} `json:"relay"`
	Processing struct {
		Endpoint string `json:"endpoint"`
		Timeout  string `json:"timeout"`
	} `json:"processing"`
	Observability struct {
		GlobalAttributes map[string]string `json:"global_attributes"`
		Tracing          struct {
			Enabled       bool    `json:"enabled"`
			Exporter      string  `json:"exporter"`
			Endpoint      string  `json:"endpoint"`
			Insecure      bool    `json:"insecure"`
			SamplingRatio float64 `json:"sampling_ratio"`
			Required      bool    `json:"required"`
		} `json:"tracing"`
		Metrics struct {
			Enabled             bool   `json:"enabled"`
			Exporter            string `json:"exporter"`
			Endpoint            string `json:"endpoint"`
			Insecure            bool   `json:"insecure"`
			Interval            string `json:"interval"`
			DisableRuntimeStats bool   `json:"disable_runtime_stats"`
			Required            bool   `json:"required"`
		} `json:"metrics"`
	} `json:"observability"`
}

// durationParser 解析字符串时长并记住第一处错误，归一化结束后统一上报。
type durationParser struct {
	err error
}

func (p *durationParser) parse(field, value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := time.ParseDuration(value)
	if err != nil && p.err == nil {
		p.err = fmt.Errorf("field %s: %w", field, err)
	}
	return d
}

func normalize(b bootstrapFile) (RuntimeConfig, error) {
	p := &durationParser{}
	rc := RuntimeConfig{
		Server: ServerConfig{
			Network: b.Server.HTTP.Network,
			Address: b.Server.HTTP.Addr,
			Timeout: p.parse("server.http.timeout", b.Server.HTTP.Timeout),
			Handlers: HandlerTimeoutsConfig{
				Default: p.parse("server.handlers.default_timeout", b.Server.Handlers.DefaultTimeout),
				Command: p.parse("server.handlers.command_timeout", b.Server.Handlers.CommandTimeout),
				Query:   p.parse("server.handlers.query_timeout", b.Server.Handlers.QueryTimeout),
			},
			MetadataKeys: append([]string(nil), b.Server.MetadataKeys...),
		},
		Database: DatabaseConfig{
			DSN:               b.Data.Postgres.DSN,
			Schema:            b.Data.Postgres.Schema,
			MaxOpenConns:      b.Data.Postgres.MaxOpenConns,
			MinOpenConns:      b.Data.Postgres.MinOpenConns,
			MaxConnLifetime:   p.parse("data.postgres.max_conn_lifetime", b.Data.Postgres.MaxConnLifetime),
			MaxConnIdleTime:   p.parse("data.postgres.max_conn_idle_time", b.Data.Postgres.MaxConnIdleTime),
			HealthCheckPeriod: p.parse("data.postgres.health_check_period", b.Data.Postgres.HealthCheckPeriod),
			PreparedStmts:     b.Data.Postgres.PreparedStmts,
			Transaction: TransactionConfig{
				DefaultIsolation: b.Data.Postgres.Transaction.DefaultIsolation,
				DefaultTimeout:   p.parse("data.postgres.transaction.default_timeout", b.Data.Postgres.Transaction.DefaultTimeout),
				LockTimeout:      p.parse("data.postgres.transaction.lock_timeout", b.Data.Postgres.Transaction.LockTimeout),
				MaxRetries:       b.Data.Postgres.Transaction.MaxRetries,
				MetricsEnabled:   b.Data.Postgres.Transaction.MetricsEnabled,
			},
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:        b.ObjectStore.Endpoint,
			Region:          b.ObjectStore.Region,
			Bucket:          b.ObjectStore.Bucket,
			AccessKeyID:     b.ObjectStore.AccessKeyID,
			SecretAccessKey: b.ObjectStore.SecretAccessKey,
			UsePathStyle:    b.ObjectStore.UsePathStyle,
			SignedURLTTL:    p.parse("object_store.signed_url_ttl", b.ObjectStore.SignedURLTTL),
		},
		Upload: UploadConfig{
			PartSizeBytes:   b.Upload.PartSizeBytes,
			MaxConcurrency:  b.Upload.MaxConcurrency,
			MaxAttempts:     b.Upload.MaxAttempts,
			BackoffStep:     p.parse("upload.backoff_step", b.Upload.BackoffStep),
			SignBatchSize:   b.Upload.SignBatchSize,
			SessionStaleTTL: p.parse("upload.session_stale_ttl", b.Upload.SessionStaleTTL),
		},
		StreamIngest: StreamIngestConfig{
			Enabled:        b.StreamIngest.Enabled,
			PartSizeBytes:  b.StreamIngest.PartSizeBytes,
			Resolvers:      append([]string(nil), b.StreamIngest.Resolvers...),
			ResolveTimeout: p.parse("stream_ingest.resolve_timeout", b.StreamIngest.ResolveTimeout),
			PollInterval:   p.parse("stream_ingest.poll_interval", b.StreamIngest.PollInterval),
			Concurrency:    b.StreamIngest.Concurrency,
		},
		Relay: RelayConfig{
			AllowedHosts: append([]string(nil), b.Relay.AllowedHosts...),
		},
		Processing: ProcessingConfig{
			Endpoint: b.Processing.Endpoint,
			Timeout:  p.parse("processing.timeout", b.Processing.Timeout),
		},
		Observability: ObservabilityConfig{
			GlobalAttributes: cloneStringMap(b.Observability.GlobalAttributes),
			Tracing: TracingConfig{
				Enabled:       b.Observability.Tracing.Enabled,
				Exporter:      b.Observability.Tracing.Exporter,
				Endpoint:      b.Observability.Tracing.Endpoint,
				Insecure:      b.Observability.Tracing.Insecure,
				SamplingRatio: b.Observability.Tracing.SamplingRatio,
				Required:      b.Observability.Tracing.Required,
			},
			Metrics: MetricsConfig{
				Enabled:             b.Observability.Metrics.Enabled,
				Exporter:            b.Observability.Metrics.Exporter,
				Endpoint:            b.Observability.Metrics.Endpoint,
				Insecure:            b.Observability.Metrics.Insecure,
				Interval:            p.parse("observability.metrics.interval", b.Observability.Metrics.Interval),
				DisableRuntimeStats: b.Observability.Metrics.DisableRuntimeStats,
				Required:            b.Observability.Metrics.Required,
			},
		},
	}
	if p.err != nil {
		return RuntimeConfig{}, p.err
	}
	fillDefaults(&rc)
	return rc, nil
}

func fillDefaults(rc *RuntimeConfig) {
	if rc.Server.Network == "" {
		rc.Server.Network = "tcp"
	}
	if rc.Server.Address == "" {
		rc.Server.Address = defaultHTTPAddr
	}
	if rc.Database.Schema == "" {
		rc.Database.Schema = defaultSchema
	}
	if rc.ObjectStore.SignedURLTTL <= 0 {
		rc.ObjectStore.SignedURLTTL = defaultSignedURLTTL
	}
	if rc.Upload.PartSizeBytes <= 0 {
		rc.Upload.PartSizeBytes = defaultBrowserPartSize
	}
	if rc.Upload.MaxConcurrency <= 0 {
		rc.Upload.MaxConcurrency = defaultUploadConcurrency
	}
	if rc.Upload.MaxAttempts <= 0 {
		rc.Upload.MaxAttempts = defaultUploadAttempts
	}
	if rc.Upload.BackoffStep <= 0 {
		rc.Upload.BackoffStep = defaultUploadBackoffStep
	}
	if rc.Upload.SignBatchSize <= 0 {
		rc.Upload.SignBatchSize = defaultSignBatchSize
	}
	if rc.Upload.SessionStaleTTL <= 0 {
		rc.Upload.SessionStaleTTL = defaultSessionStaleTTL
	}
	if rc.StreamIngest.PartSizeBytes <= 0 {
		rc.StreamIngest.PartSizeBytes = defaultStreamPartSize
	}
	if rc.StreamIngest.ResolveTimeout <= 0 {
		rc.StreamIngest.ResolveTimeout = defaultResolveTimeout
	}
	if rc.StreamIngest.PollInterval <= 0 {
		rc.StreamIngest.PollInterval = defaultPollInterval
	}
	if rc.StreamIngest.Concurrency <= 0 {
		rc.StreamIngest.Concurrency = defaultUploadConcurrency
	}
	if rc.Processing.Timeout <= 0 {
		rc.Processing.Timeout = defaultProcessingTimeout
	}
}

func cloneStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

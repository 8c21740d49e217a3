package configloader

import "time"

// RuntimeConfig 是配置文件归一化后的强类型视图，供各基础设施组件消费。
type RuntimeConfig struct {
	Server        ServerConfig
	Database      DatabaseConfig
	ObjectStore   ObjectStoreConfig
	Upload        UploadConfig
	StreamIngest  StreamIngestConfig
	Relay         RelayConfig
	Processing    ProcessingConfig
	Observability ObservabilityConfig
}

// ServerConfig 描述 HTTP 服务器与请求处理的运行参数。
type ServerConfig struct {
	Network      string
	Address      string
	Timeout      time.Duration
	Handlers     HandlerTimeoutsConfig
	MetadataKeys []string
}

// HandlerTimeoutsConfig 聚合不同类型 Handler 的超时策略。
type HandlerTimeoutsConfig struct {
	Default time.Duration
	Command time.Duration
	Query   time.Duration
}

// DatabaseConfig 描述 PostgreSQL 连接池参数。
type DatabaseConfig struct {
	DSN               string
	Schema            string
	MaxOpenConns      int
	MinOpenConns      int
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	PreparedStmts     bool
	Transaction       TransactionConfig
}

// TransactionConfig 描述事务管理器的默认行为。
type TransactionConfig struct {
	DefaultIsolation string
	DefaultTimeout   time.Duration
	LockTimeout      time.Duration
	MaxRetries       int
	MetricsEnabled   *bool
}

// ObjectStoreConfig 描述 S3 兼容对象存储的接入参数。
// Endpoint 为空时走 AWS 默认端点；MinIO 等自建存储需开启 UsePathStyle。
type ObjectStoreConfig struct {
	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
	SignedURLTTL    time.Duration
}

// UploadConfig 控制浏览器直传链路的分片与重试参数。
type UploadConfig struct {
	PartSizeBytes   int64
	MaxConcurrency  int
	MaxAttempts     int
	BackoffStep     time.Duration
	SignBatchSize   int
	SessionStaleTTL time.Duration
}

// StreamIngestConfig 控制服务端流式摄取任务。
type StreamIngestConfig struct {
	Enabled        bool
	PartSizeBytes  int64
	Resolvers      []string
	ResolveTimeout time.Duration
	PollInterval   time.Duration
	Concurrency    int
}

// RelayConfig 控制中继上传端点的目标主机白名单。
// 为空时仅允许对象存储 Endpoint 自身的主机，防止沦为开放代理。
type RelayConfig struct {
	AllowedHosts []string
}

// ProcessingConfig 描述下游转码协作方的回调触发端点。
type ProcessingConfig struct {
	Endpoint string
	Timeout  time.Duration
}

// ObservabilityConfig 描述追踪与指标的启用与导出参数。
type ObservabilityConfig struct {
	GlobalAttributes map[string]string
	Tracing          TracingConfig
	Metrics          MetricsConfig
}

// TracingConfig 描述分布式追踪导出配置。
type TracingConfig struct {
	Enabled       bool
	Exporter      string
	Endpoint      string
	Insecure      bool
	SamplingRatio float64
	Required      bool
}

// MetricsConfig 描述指标导出配置。
type MetricsConfig struct {
	Enabled             bool
	Exporter            string
	Endpoint            string
	Insecure            bool
	Interval            time.Duration
	DisableRuntimeStats bool
	Required            bool
}

// Package configloader 负责加载、归一化并校验服务的启动配置。
// 配置来源优先级：环境变量覆盖 > 配置文件 > 内置默认值。
package configloader

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"

	obswire "github.com/bionicotaku/lingo-utils/observability"
	txconfig "github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/file"
	"github.com/joho/godotenv"

	loginfra "github.com/reelside/reel-services-ingestion/internal/infrastructure/logger"
)

const (
	envConfPath       = "CONF_PATH"
	envServiceName    = "SERVICE_NAME"
	envServiceVersion = "SERVICE_VERSION"
	envAppEnv         = "APP_ENV"
	envDatabaseURL    = "DATABASE_URL"
	envPort           = "PORT"
	envStoreEndpoint  = "OBJECT_STORE_ENDPOINT"
	envStoreRegion    = "OBJECT_STORE_REGION"
	envStoreBucket    = "OBJECT_STORE_BUCKET"
	envStoreAccessKey = "OBJECT_STORE_ACCESS_KEY_ID"
	envStoreSecretKey = "OBJECT_STORE_SECRET_ACCESS_KEY"
)

var envFileNames = []string{".env.local", ".env"}

// Params 包含构造配置 Bundle 所需的运行时输入。
type Params struct {
	ConfPath string // 配置文件路径（可为空，走回退规则）
	Name     string // 编译期注入的服务名（可为空）
	Version  string // 编译期注入的版本号（可为空）
}

// ServiceMetadata 保存服务标识信息，供日志与可观测性组件使用。
type ServiceMetadata struct {
	Name        string
	Version     string
	Environment string
	InstanceID  string
}

// Bundle 聚合归一化配置与派生的组件配置，供下游 Wire 注入。
type Bundle struct {
	Runtime   RuntimeConfig
	Service   ServiceMetadata
	LoggerCfg loginfra.Config
	ObsConfig obswire.ObservabilityConfig
	TxConfig  txconfig.Config
}

// BuildError 捕获配置构建各阶段的上下文错误。
type BuildError struct {
	Stage string
	Path  string
	Err   error
}

func (e BuildError) Error() string {
	if e.Stage == "" {
		return e.Err.Error()
	}
	if e.Path != "" {
		return fmt.Sprintf("config %s at %q: %v", e.Stage, e.Path, e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Stage, e.Err)
}

func (e BuildError) Unwrap() error { return e.Err }

// LoggerConfig 将服务元信息转换为日志组件配置。
func (m ServiceMetadata) LoggerConfig() loginfra.Config {
	return loginfra.Config{
		Service: m.Name,
		Version: m.Version,
		HostID:  m.InstanceID,
		Env:     m.Environment,
	}
}

// ParseConfPath 注册 -conf 标志并解析命令行参数，返回显式给定的配置路径。
func ParseConfPath(fs *flag.FlagSet, args []string) (string, error) {
	var confPath string
	fs.StringVar(&confPath, "conf", "", "config path, eg: -conf configs")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	return confPath, nil
}

// ResolveConfPath 应用回退规则确定配置路径。
// 优先级：显式传入 > CONF_PATH 环境变量 > 默认目录。
func ResolveConfPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(envConfPath); env != "" {
		return env
	}
	return defaultConfPath
}

// Build 加载配置文件并构建 Bundle。
//
// 流程：
//  1. 解析配置路径并 best-effort 加载 .env 文件
//  2. 读取配置文件，扫描进原始结构并归一化
//  3. 应用环境变量覆盖（DATABASE_URL、PORT、OBJECT_STORE_*）
//  4. 推导服务元信息与事务/可观测性组件配置
func Build(params Params) (*Bundle, error) {
	confPath := ResolveConfPath(params.ConfPath)
	loadEnvFiles(confPath)

	runtime, err := loadRuntime(confPath)
	if err != nil {
		return nil, err
	}
	applyEnvOverrides(&runtime)

	if err := validate(runtime); err != nil {
		return nil, BuildError{Stage: "validate", Path: confPath, Err: err}
	}

	meta := buildServiceMetadata(params)
	return &Bundle{
		Runtime:   runtime,
		Service:   meta,
		LoggerCfg: meta.LoggerConfig(),
		ObsConfig: toObservabilityConfig(runtime.Observability),
		TxConfig:  toTxManagerConfig(runtime.Database.Transaction),
	}, nil
}

func loadRuntime(confPath string) (RuntimeConfig, error) {
	c := config.New(config.WithSource(file.NewSource(confPath)))
	if err := c.Load(); err != nil {
		return RuntimeConfig{}, BuildError{Stage: "load", Path: confPath, Err: err}
	}
	defer func() { _ = c.Close() }()

	var raw bootstrapFile
	if err := c.Scan(&raw); err != nil {
		return RuntimeConfig{}, BuildError{Stage: "scan", Path: confPath, Err: err}
	}

	runtime, err := normalize(raw)
	if err != nil {
		return RuntimeConfig{}, BuildError{Stage: "normalize", Path: confPath, Err: err}
	}
	return runtime, nil
}

func validate(rc RuntimeConfig) error {
	if rc.Upload.PartSizeBytes < minPartSize {
		return fmt.Errorf("upload.part_size_bytes %d below protocol minimum %d", rc.Upload.PartSizeBytes, minPartSize)
	}
	if rc.StreamIngest.PartSizeBytes < minPartSize {
		return fmt.Errorf("stream_ingest.part_size_bytes %d below protocol minimum %d", rc.StreamIngest.PartSizeBytes, minPartSize)
	}
	if rc.StreamIngest.Enabled && len(rc.StreamIngest.Resolvers) == 0 {
		return errors.New("stream_ingest.resolvers must not be empty when stream ingest is enabled")
	}
	return nil
}

// applyEnvOverrides 用环境变量覆盖配置文件中的特定字段。
// 变量为空时保留文件原值；敏感凭据建议始终走环境变量注入。
func applyEnvOverrides(rc *RuntimeConfig) {
	if rc == nil {
		return
	}
	if dsn := os.Getenv(envDatabaseURL); dsn != "" {
		rc.Database.DSN = dsn
	}
	if port := os.Getenv(envPort); port != "" {
		rc.Server.Address = replacePort(rc.Server.Address, port)
	}
	if endpoint := os.Getenv(envStoreEndpoint); endpoint != "" {
		rc.ObjectStore.Endpoint = endpoint
	}
	if region := os.Getenv(envStoreRegion); region != "" {
		rc.ObjectStore.Region = region
	}
	if bucket := os.Getenv(envStoreBucket); bucket != "" {
		rc.ObjectStore.Bucket = bucket
	}
	if key := os.Getenv(envStoreAccessKey); key != "" {
		rc.ObjectStore.AccessKeyID = key
	}
	if secret := os.Getenv(envStoreSecretKey); secret != "" {
		rc.ObjectStore.SecretAccessKey = secret
	}
}

func buildServiceMetadata(params Params) ServiceMetadata {
	name := params.Name
	if env := os.Getenv(envServiceName); env != "" {
		name = env
	}
	if name == "" {
		name = defaultServiceName
	}
	version := params.Version
	if env := os.Getenv(envServiceVersion); env != "" {
		version = env
	}
	if version == "" {
		version = defaultServiceVersion
	}
	environment := os.Getenv(envAppEnv)
	if environment == "" {
		environment = defaultEnvironment
	}
	host, _ := os.Hostname()
	if host == "" {
		host = "unknown"
	}
	return ServiceMetadata{
		Name:        name,
		Version:     version,
		Environment: environment,
		InstanceID:  host,
	}
}

// loadEnvFiles best-effort 加载 .env 文件，失败时忽略以保持幂等。
func loadEnvFiles(confPath string) {
	files := envFileCandidates(confPath)
	if len(files) == 0 {
		return
	}
	_ = godotenv.Load(files...)
}

// envFileCandidates 在配置目录与当前工作目录中查找 .env.local / .env。
func envFileCandidates(confPath string) []string {
	dirs := orderedDirs(confPath)
	seen := make(map[string]struct{})
	var files []string
	for _, dir := range dirs {
		for _, name := range envFileNames {
			candidate := filepath.Join(dir, name)
			if _, err := os.Stat(candidate); err != nil {
				continue
			}
			if _, ok := seen[candidate]; ok {
				continue
			}
			files = append(files, candidate)
			seen[candidate] = struct{}{}
		}
	}
	return files
}

func orderedDirs(confPath string) []string {
	var dirs []string
	appendUnique := func(path string) {
		if path == "" {
			return
		}
		clean := filepath.Clean(path)
		for _, existing := range dirs {
			if existing == clean {
				return
			}
		}
		dirs = append(dirs, clean)
	}

	if confPath != "" {
		if info, err := os.Stat(confPath); err == nil {
			if info.IsDir() {
				appendUnique(confPath)
			} else {
				appendUnique(filepath.Dir(confPath))
			}
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		appendUnique(cwd)
	}
	return dirs
}

// replacePort 替换地址中的端口部分，保留 host。
func replacePort(addr, newPort string) string {
	if addr == "" {
		return "0.0.0.0:" + newPort
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return "0.0.0.0:" + newPort
	}
	return net.JoinHostPort(host, newPort)
}

func toObservabilityConfig(src ObservabilityConfig) obswire.ObservabilityConfig {
	cfg := obswire.ObservabilityConfig{
		GlobalAttributes: cloneStringMap(src.GlobalAttributes),
	}
	cfg.Tracing = &obswire.TracingConfig{
		Enabled:       src.Tracing.Enabled,
		Exporter:      src.Tracing.Exporter,
		Endpoint:      src.Tracing.Endpoint,
		Insecure:      src.Tracing.Insecure,
		SamplingRatio: src.Tracing.SamplingRatio,
		Required:      src.Tracing.Required,
	}
	cfg.Metrics = &obswire.MetricsConfig{
		Enabled:             src.Metrics.Enabled,
		Exporter:            src.Metrics.Exporter,
		Endpoint:            src.Metrics.Endpoint,
		Insecure:            src.Metrics.Insecure,
		Interval:            src.Metrics.Interval,
		DisableRuntimeStats: src.Metrics.DisableRuntimeStats,
		Required:            src.Metrics.Required,
	}
	return cfg
}

func toTxManagerConfig(tx TransactionConfig) txconfig.Config {
	return txconfig.Config{
		DefaultIsolation: tx.DefaultIsolation,
		DefaultTimeout:   tx.DefaultTimeout,
		LockTimeout:      tx.LockTimeout,
		MaxRetries:       tx.MaxRetries,
		MetricsEnabled:   tx.MetricsEnabled,
	}
}

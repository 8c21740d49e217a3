package configloader

import (
	obswire "github.com/bionicotaku/lingo-utils/observability"
	txconfig "github.com/bionicotaku/lingo-utils/txmanager"
	"github.com/google/wire"
)

// ProviderSet exposes configuration-derived dependencies for Wire graphs.
var ProviderSet = wire.NewSet(
	ProvideServiceMetadata,
	ProvideRuntimeConfig,
	ProvideServerConfig,
	ProvideDatabaseConfig,
	ProvideObjectStoreConfig,
	ProvideUploadConfig,
	ProvideStreamIngestConfig,
	ProvideRelayConfig,
	ProvideProcessingConfig,
	ProvideObservabilityConfig,
	ProvideTxConfig,
)

// ProvideServiceMetadata returns the resolved ServiceMetadata from the bundle.
func ProvideServiceMetadata(b *Bundle) ServiceMetadata {
	if b == nil {
		return ServiceMetadata{}
	}
	return b.Service
}

// ProvideRuntimeConfig exposes the normalized runtime configuration.
func ProvideRuntimeConfig(b *Bundle) RuntimeConfig {
	if b == nil {
		return RuntimeConfig{}
	}
	return b.Runtime
}

// ProvideServerConfig returns the HTTP server section.
func ProvideServerConfig(rc RuntimeConfig) ServerConfig { return rc.Server }

// ProvideDatabaseConfig returns the PostgreSQL section.
func ProvideDatabaseConfig(rc RuntimeConfig) DatabaseConfig { return rc.Database }

// ProvideObjectStoreConfig returns the object storage section.
func ProvideObjectStoreConfig(rc RuntimeConfig) ObjectStoreConfig { return rc.ObjectStore }

// ProvideUploadConfig returns the browser upload tuning section.
func ProvideUploadConfig(rc RuntimeConfig) UploadConfig { return rc.Upload }

// ProvideStreamIngestConfig returns the stream ingest section.
func ProvideStreamIngestConfig(rc RuntimeConfig) StreamIngestConfig { return rc.StreamIngest }

// ProvideRelayConfig returns the relay allowlist section.
func ProvideRelayConfig(rc RuntimeConfig) RelayConfig { return rc.Relay }

// ProvideProcessingConfig returns the processing collaborator section.
func ProvideProcessingConfig(rc RuntimeConfig) ProcessingConfig { return rc.Processing }

// ProvideObservabilityConfig exposes the normalized observability configuration.
func ProvideObservabilityConfig(b *Bundle) obswire.ObservabilityConfig {
	if b == nil {
		return obswire.ObservabilityConfig{}
	}
	return b.ObsConfig
}

// ProvideTxConfig exposes transaction manager defaults derived from configuration.
func ProvideTxConfig(b *Bundle) txconfig.Config {
	if b == nil {
		return txconfig.Config{}
	}
	return b.TxConfig
}

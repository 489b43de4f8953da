package config

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	DefaultAPIURL      = "https://api.saveknight.app"
	DefaultManifestURL = "https://raw.githubusercontent.com/mtkennerly/ludusavi-manifest/master/data/manifest.yaml"

	defaultScanWorkers      = 8
	defaultPathTimeout      = "30s"
	defaultCaseInsensitive  = caseAuto
	defaultManifestMaxAge   = "168h"
	defaultUploadWorkers    = 2
	defaultRefreshThreshold = "5m"
	defaultScanInterval     = "60m"
	defaultWatchDebounce    = "5s"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultConnectTimeout   = "10s"
	defaultDataTimeout      = "60s"
)

// Values accepted by case_insensitive.
const (
	caseAuto  = "auto"
	caseTrue  = "true"
	caseFalse = "false"
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		APIConfig: APIConfig{
			APIURL: DefaultAPIURL,
		},
		ScanConfig: ScanConfig{
			ScanWorkers:     defaultScanWorkers,
			PathTimeout:     defaultPathTimeout,
			CaseInsensitive: defaultCaseInsensitive,
			DoubleStarZero:  true,
		},
		ManifestConfig: ManifestConfig{
			ManifestURL:    DefaultManifestURL,
			ManifestMaxAge: defaultManifestMaxAge,
		},
		TransferConfig: TransferConfig{
			UploadWorkers:    defaultUploadWorkers,
			RefreshThreshold: defaultRefreshThreshold,
		},
		WatchConfig: WatchConfig{
			ScanInterval:  defaultScanInterval,
			WatchDebounce: defaultWatchDebounce,
		},
		LoggingConfig: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
		NetworkConfig: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			DataTimeout:    defaultDataTimeout,
		},
	}
}

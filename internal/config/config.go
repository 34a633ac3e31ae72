package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/remedystack/remedy-orchestrator/internal/models"
	"github.com/remedystack/remedy-orchestrator/internal/utils"
)

// Config captures the settings required to boot the orchestrator.
type Config struct {
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Store      StoreConfig      `yaml:"store"`
	Loop       LoopConfig       `yaml:"loop"`
	Detector   DetectorConfig   `yaml:"detector"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Planner    PlannerConfig    `yaml:"planner"`
	Executor   ExecutorConfig   `yaml:"executor"`
	Router     RouterConfig     `yaml:"router"`
	Providers  ProvidersConfig  `yaml:"providers"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Address string `yaml:"address"`
}

// StoreConfig controls the embedded Badger state store.
type StoreConfig struct {
	Path       string        `yaml:"path"`
	InMemory   bool          `yaml:"inMemory"`
	SyncWrites bool          `yaml:"syncWrites"`
	GCInterval utils.Duration `yaml:"gcInterval"`
}

// LoopConfig controls the periodic control loop.
type LoopConfig struct {
	Interval        utils.Duration `yaml:"interval"`
	DetectionWindow utils.Duration `yaml:"detectionWindow"`
	MaxWorkers      int           `yaml:"maxWorkers"`
	GracefulTimeout utils.Duration `yaml:"gracefulTimeout"`
}

// StreamRule binds a monitored metric stream to an incident type and its
// static thresholds.
type StreamRule struct {
	Namespace string              `yaml:"namespace"`
	Metric    string              `yaml:"metric"`
	Service   string              `yaml:"service"`
	Type      models.IncidentType `yaml:"type"`
	Warning   float64             `yaml:"warning"`
	Critical  float64             `yaml:"critical"`
}

// DetectorConfig controls anomaly detection rules and dedup behaviour.
type DetectorConfig struct {
	CoalesceWindow utils.Duration `yaml:"coalesceWindow"`
	BaselineWindow utils.Duration `yaml:"baselineWindow"`
	SigmaThreshold float64       `yaml:"sigmaThreshold"`
	Streams        []StreamRule  `yaml:"streams"`
}

// ClassifierConfig controls historical cohort lookups.
type ClassifierConfig struct {
	HistoryLimit            int     `yaml:"historyLimit"`
	CohortAgreement         float64 `yaml:"cohortAgreement"`
	ResourceEscalationCount int     `yaml:"resourceEscalationCount"`
}

// PlannerConfig controls step-catalog loading.
type PlannerConfig struct {
	CatalogPath  string `yaml:"catalogPath"`
	WatchCatalog bool   `yaml:"watchCatalog"`
}

// ExecutorConfig controls platform polling cadence.
type ExecutorConfig struct {
	PollInterval         utils.Duration `yaml:"pollInterval"`
	ApprovalPollInterval utils.Duration `yaml:"approvalPollInterval"`
}

// RouterConfig controls alert aggregation.
type RouterConfig struct {
	GroupWindow utils.Duration `yaml:"groupWindow"`
}

// ProvidersConfig groups metrics backend integrations.
type ProvidersConfig struct {
	Influx InfluxConfig      `yaml:"influx"`
	HTTP   HTTPMetricsConfig `yaml:"http"`
}

// InfluxConfig configures the InfluxDB metrics provider.
type InfluxConfig struct {
	URL     string        `yaml:"url"`
	Token   string        `yaml:"token"`
	Org     string        `yaml:"org"`
	Bucket  string        `yaml:"bucket"`
	Timeout utils.Duration `yaml:"timeout"`
}

// HTTPMetricsConfig configures the JSON-over-HTTP metrics provider.
type HTTPMetricsConfig struct {
	BaseURL   string        `yaml:"baseURL"`
	QueryPath string        `yaml:"queryPath"`
	Timeout   utils.Duration `yaml:"timeout"`
}

// WebhookChannelConfig configures one webhook notification channel.
type WebhookChannelConfig struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	Secret  string        `yaml:"secret"`
	Format  string        `yaml:"format"`
	Timeout utils.Duration `yaml:"timeout"`
}

// NotifyConfig groups notification channels.
type NotifyConfig struct {
	Webhooks   []WebhookChannelConfig `yaml:"webhooks"`
	LogChannel bool                   `yaml:"logChannel"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("REMEDY_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", JSON: false},
		Metrics: MetricsConfig{Address: ":2112"},
		Store: StoreConfig{
			Path:       "data/remedy",
			SyncWrites: true,
			GCInterval: utils.Duration(5 * time.Minute),
		},
		Loop: LoopConfig{
			Interval:        utils.Duration(2 * time.Minute),
			DetectionWindow: utils.Duration(15 * time.Minute),
			MaxWorkers:      4,
			GracefulTimeout: utils.Duration(10 * time.Second),
		},
		Detector: DetectorConfig{
			CoalesceWindow: utils.Duration(5 * time.Minute),
			BaselineWindow: utils.Duration(14 * 24 * time.Hour),
			SigmaThreshold: 3,
		},
		Classifier: ClassifierConfig{
			HistoryLimit:            10,
			CohortAgreement:         0.6,
			ResourceEscalationCount: 3,
		},
		Planner: PlannerConfig{CatalogPath: "configs/catalog/default.yaml"},
		Executor: ExecutorConfig{
			PollInterval:         utils.Duration(2 * time.Second),
			ApprovalPollInterval: utils.Duration(15 * time.Second),
		},
		Router: RouterConfig{GroupWindow: utils.Duration(15 * time.Minute)},
		Providers: ProvidersConfig{
			Influx: InfluxConfig{Timeout: utils.Duration(5 * time.Second)},
			HTTP: HTTPMetricsConfig{
				QueryPath: "/api/v1/metrics/query",
				Timeout:   utils.Duration(5 * time.Second),
			},
		},
		Notify: NotifyConfig{LogChannel: true},
	}
}

func validate(cfg *Config) error {
	if cfg.Loop.Interval.Std() < time.Minute || cfg.Loop.Interval.Std() > 5*time.Minute {
		return fmt.Errorf("loop interval %s outside supported 1m-5m range", cfg.Loop.Interval)
	}
	if cfg.Loop.MaxWorkers <= 0 {
		return fmt.Errorf("loop maxWorkers must be positive")
	}
	if cfg.Detector.SigmaThreshold <= 0 {
		return fmt.Errorf("detector sigmaThreshold must be positive")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REMEDY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REMEDY_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("REMEDY_METRICS_ADDRESS"); v != "" {
		cfg.Metrics.Address = v
	}
	if v := os.Getenv("REMEDY_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("REMEDY_STORE_IN_MEMORY"); strings.EqualFold(v, "true") || v == "1" {
		cfg.Store.InMemory = true
	}
	if v := os.Getenv("REMEDY_LOOP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loop.Interval = utils.Duration(d)
		}
	}
	if v := os.Getenv("REMEDY_LOOP_MAX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Loop.MaxWorkers = n
		}
	}
	if v := os.Getenv("REMEDY_DETECTION_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Loop.DetectionWindow = utils.Duration(d)
		}
	}
	if v := os.Getenv("REMEDY_CATALOG_PATH"); v != "" {
		cfg.Planner.CatalogPath = v
	}
	if v := os.Getenv("REMEDY_INFLUX_URL"); v != "" {
		cfg.Providers.Influx.URL = v
	}
	if v := os.Getenv("REMEDY_INFLUX_TOKEN"); v != "" {
		cfg.Providers.Influx.Token = v
	}
	if v := os.Getenv("REMEDY_INFLUX_ORG"); v != "" {
		cfg.Providers.Influx.Org = v
	}
	if v := os.Getenv("REMEDY_INFLUX_BUCKET"); v != "" {
		cfg.Providers.Influx.Bucket = v
	}
	if v := os.Getenv("REMEDY_HTTP_METRICS_BASE_URL"); v != "" {
		cfg.Providers.HTTP.BaseURL = v
	}
	if v := os.Getenv("REMEDY_ROUTER_GROUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Router.GroupWindow = utils.Duration(d)
		}
	}
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/settlebot/internal/application/orchestrator"
	"github.com/alejandrodnm/settlebot/internal/domain"
)

// Config es la configuración completa del bot.
type Config struct {
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Signal    SignalConfig    `yaml:"signal"`
	Risk      RiskConfig      `yaml:"risk"`
	Execution ExecutionConfig `yaml:"execution"`
	Chain     ChainConfig     `yaml:"chain"`
	API       APIConfig       `yaml:"api"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`

	// PrivateKey solo se lee del entorno (POLY_PRIVATE_KEY), nunca del YAML.
	PrivateKey string `yaml:"-"`
}

// PipelineConfig controla el loop de polling y el cursor.
type PipelineConfig struct {
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	ConfirmationDepth   *uint64 `yaml:"confirmation_depth"` // nil = 20; 0 es válido
	MaxBlockRange       uint64 `yaml:"max_block_range"`
	StartBlock          uint64 `yaml:"start_block"`           // 0 = usar start_lookback_blocks
	StartLookbackBlocks uint64 `yaml:"start_lookback_blocks"` // primer arranque sin watermark
	Workers             int    `yaml:"workers"`
	CallTimeoutSeconds  int    `yaml:"call_timeout_seconds"`
	BackoffBaseSeconds  int    `yaml:"backoff_base_seconds"`
	BackoffMaxSeconds   int    `yaml:"backoff_max_seconds"`
}

// SignalConfig son las constantes de la política de señal.
type SignalConfig struct {
	MinEdge               float64 `yaml:"min_edge"`
	StalenessBoundSeconds int     `yaml:"staleness_bound_seconds"`
	NegRiskTolerance      float64 `yaml:"neg_risk_tolerance"`
	DepthTargetShares     float64 `yaml:"depth_target_shares"`
	DepthLevels           int     `yaml:"depth_levels"`
	EdgeSaturation        float64 `yaml:"edge_saturation"`
}

// RiskConfig son los umbrales del risk gate.
type RiskConfig struct {
	ConfidenceThreshold   *float64 `yaml:"confidence_threshold"` // nil = 0.60
	CooldownSeconds       *int     `yaml:"cooldown_seconds"`     // nil = 600
	MarketExposureCapUSDC float64 `yaml:"market_exposure_cap_usdc"`
	ExposureCapUSDC       float64 `yaml:"exposure_cap_usdc"` // agregado
	ExposureTTLHours      int     `yaml:"exposure_ttl_hours"`
}

// ExecutionConfig controla el tamaño de orden y los reintentos de envío.
type ExecutionConfig struct {
	DryRun         *bool   `yaml:"dry_run"` // nil = true
	OrderSizeUSDC  float64 `yaml:"order_size_usdc"`
	MinOrderShares float64 `yaml:"min_order_shares"`
	MaxAttempts    int     `yaml:"max_attempts"`
	RetryBaseMs    int     `yaml:"retry_base_ms"`
	RetryMaxMs     int     `yaml:"retry_max_ms"`
}

// ChainConfig apunta al RPC de Polygon y al oracle.
type ChainConfig struct {
	RPCURL        string `yaml:"rpc_url"`
	OracleAddress string `yaml:"oracle_address"`
	ChainID       int64  `yaml:"chain_id"`
}

// APIConfig contiene los base URLs de las APIs.
type APIConfig struct {
	CLOBBase  string `yaml:"clob_base"`
	GammaBase string `yaml:"gamma_base"`
}

// StorageConfig controla dónde se persisten los datos.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato, nivel y destino del logging.
type LogConfig struct {
	Level      string `yaml:"level"`  // debug | info | warn | error
	Format     string `yaml:"format"` // text | json
	File       string `yaml:"file"`   // vacío = solo stdout
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del entorno sobreescriben los del YAML. Cualquier error de
// lectura o validación envuelve domain.ErrFatalConfig.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w: read %q: %w", domain.ErrFatalConfig, path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w: parse YAML: %w", domain.ErrFatalConfig, err)
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("config.Load: %w: %w", domain.ErrFatalConfig, err)
	}
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DryRun devuelve si las órdenes se simulan. Por defecto true.
func (c *Config) DryRun() bool {
	return c.Execution.DryRun == nil || *c.Execution.DryRun
}

// PollInterval devuelve el intervalo de polling como time.Duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Pipeline.PollIntervalSeconds) * time.Second
}

// Validate comprueba los campos requeridos y los rangos de los umbrales.
func (c *Config) Validate() error {
	var problems []string
	if c.Chain.RPCURL == "" {
		problems = append(problems, "chain.rpc_url is required")
	}
	if c.Chain.ChainID != 137 {
		problems = append(problems, fmt.Sprintf("chain.chain_id %d not supported (only Polygon 137)", c.Chain.ChainID))
	}
	if !c.DryRun() && c.PrivateKey == "" {
		problems = append(problems, "POLY_PRIVATE_KEY is required when dry_run is disabled")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}
	if len(problems) > 0 {
		return fmt.Errorf("config.Validate: %w: %s", domain.ErrFatalConfig, strings.Join(problems, "; "))
	}

	if err := c.ToOrchestrator().Validate(); err != nil {
		return fmt.Errorf("config.Validate: %w", err)
	}
	return nil
}

// ToOrchestrator traduce la configuración a la del pipeline.
func (c *Config) ToOrchestrator() orchestrator.Config {
	oc := orchestrator.DefaultConfig()

	p := c.Pipeline
	oc.PollInterval = c.PollInterval()
	oc.BackoffBase = time.Duration(p.BackoffBaseSeconds) * time.Second
	oc.BackoffMax = time.Duration(p.BackoffMaxSeconds) * time.Second
	oc.Workers = p.Workers
	oc.CallTimeout = time.Duration(p.CallTimeoutSeconds) * time.Second

	oc.Cursor.ConfirmationDepth = valueOr(p.ConfirmationDepth, defaultConfirmationDepth)
	oc.Cursor.MaxBlockRange = p.MaxBlockRange
	oc.Cursor.StartBlock = p.StartBlock
	oc.Cursor.StartLookback = p.StartLookbackBlocks
	oc.Cursor.CallTimeout = oc.CallTimeout

	s := c.Signal
	oc.Signal.MinEdge = decimal.NewFromFloat(s.MinEdge)
	oc.Signal.StalenessBound = time.Duration(s.StalenessBoundSeconds) * time.Second
	oc.Signal.NegRiskTolerance = decimal.NewFromFloat(s.NegRiskTolerance)
	oc.Signal.DepthTarget = decimal.NewFromFloat(s.DepthTargetShares)
	oc.Signal.DepthLevels = s.DepthLevels
	oc.Signal.EdgeSaturation = decimal.NewFromFloat(s.EdgeSaturation)

	orderSize := decimal.NewFromFloat(c.Execution.OrderSizeUSDC)

	r := c.Risk
	oc.Risk.ConfidenceThreshold = decimal.NewFromFloat(valueOr(r.ConfidenceThreshold, defaultConfidenceThreshold))
	oc.Risk.Cooldown = time.Duration(valueOr(r.CooldownSeconds, defaultCooldownSeconds)) * time.Second
	oc.Risk.OrderNotional = orderSize
	oc.Risk.MarketExposureCap = decimal.NewFromFloat(r.MarketExposureCapUSDC)
	oc.Risk.AggregateExposureCap = decimal.NewFromFloat(r.ExposureCapUSDC)
	oc.Risk.ExposureTTL = time.Duration(r.ExposureTTLHours) * time.Hour

	e := c.Execution
	oc.Execution.DryRun = c.DryRun()
	oc.Execution.OrderSizeUSDC = orderSize
	oc.Execution.MinOrderShares = decimal.NewFromFloat(e.MinOrderShares)
	oc.Execution.MaxAttempts = e.MaxAttempts
	oc.Execution.RetryBase = time.Duration(e.RetryBaseMs) * time.Millisecond
	oc.Execution.RetryMax = time.Duration(e.RetryMaxMs) * time.Millisecond
	oc.Execution.CallTimeout = oc.CallTimeout

	return oc
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	if v, ok := os.LookupEnv("DRY_RUN"); ok && v != "" {
		// solo "0" y "false" desactivan el dry-run
		dry := !(v == "0" || strings.EqualFold(v, "false"))
		cfg.Execution.DryRun = &dry
	}
	errs = append(errs,
		envFloat("CONFIDENCE_THRESHOLD", setPtr(&cfg.Risk.ConfidenceThreshold, "CONFIDENCE_THRESHOLD")),
		envFloat("MIN_EDGE", &cfg.Signal.MinEdge),
		envInt("COOLDOWN_SECONDS", setPtr(&cfg.Risk.CooldownSeconds, "COOLDOWN_SECONDS")),
		envFloat("EXPOSURE_CAP_USDC", &cfg.Risk.ExposureCapUSDC),
		envFloat("MARKET_EXPOSURE_CAP_USDC", &cfg.Risk.MarketExposureCapUSDC),
		envUint("CONFIRMATION_DEPTH", setPtr(&cfg.Pipeline.ConfirmationDepth, "CONFIRMATION_DEPTH")),
		envInt("POLL_INTERVAL_SECONDS", &cfg.Pipeline.PollIntervalSeconds),
	)

	if v := os.Getenv("POLYGON_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := os.Getenv("ORACLE_ADDRESS"); v != "" {
		cfg.Chain.OracleAddress = v
	}
	if v := os.Getenv("POLY_PRIVATE_KEY"); v != "" {
		cfg.PrivateKey = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.Storage.DSN = v
	}
	return errors.Join(errs...)
}

// setPtr devuelve el destino de una variable de entorno. El campo puntero
// solo se reserva si la variable está presente.
func setPtr[T any](field **T, key string) *T {
	if os.Getenv(key) == "" {
		return new(T)
	}
	if *field == nil {
		*field = new(T)
	}
	return *field
}

func envFloat(key string, dst *float64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", key, v, err)
	}
	*dst = f
	return nil
}

func envInt(key string, dst *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func envUint(key string, dst *uint64) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return fmt.Errorf("%s=%q: %w", key, v, err)
	}
	*dst = n
	return nil
}

// Valores por defecto de los campos puntero, donde 0 es un valor válido.
const (
	defaultConfirmationDepth   uint64  = 20
	defaultConfidenceThreshold float64 = 0.60
	defaultCooldownSeconds     int     = 600
)

func ptr[T any](v T) *T { return &v }

func valueOr[T any](p *T, def T) T {
	if p == nil {
		return def
	}
	return *p
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
// Un cero en el YAML equivale a "no configurado", salvo en los campos
// puntero (confirmation_depth, confidence_threshold, cooldown_seconds).
func setDefaults(cfg *Config) {
	p := &cfg.Pipeline
	if p.PollIntervalSeconds <= 0 {
		p.PollIntervalSeconds = 15
	}
	if p.ConfirmationDepth == nil {
		p.ConfirmationDepth = ptr(defaultConfirmationDepth)
	}
	if p.MaxBlockRange == 0 {
		p.MaxBlockRange = 2000
	}
	if p.StartLookbackBlocks == 0 {
		p.StartLookbackBlocks = 100
	}
	if p.Workers <= 0 {
		p.Workers = 4
	}
	if p.CallTimeoutSeconds <= 0 {
		p.CallTimeoutSeconds = 10
	}
	if p.BackoffBaseSeconds <= 0 {
		p.BackoffBaseSeconds = 1
	}
	if p.BackoffMaxSeconds <= 0 {
		p.BackoffMaxSeconds = 60
	}

	s := &cfg.Signal
	if s.MinEdge == 0 {
		s.MinEdge = 0.05
	}
	if s.StalenessBoundSeconds <= 0 {
		s.StalenessBoundSeconds = 30
	}
	if s.NegRiskTolerance == 0 {
		s.NegRiskTolerance = 0.02
	}
	if s.DepthTargetShares <= 0 {
		s.DepthTargetShares = 100
	}
	if s.DepthLevels <= 0 {
		s.DepthLevels = 5
	}
	if s.EdgeSaturation <= 0 {
		s.EdgeSaturation = 0.10
	}

	r := &cfg.Risk
	if r.ConfidenceThreshold == nil {
		r.ConfidenceThreshold = ptr(defaultConfidenceThreshold)
	}
	if r.CooldownSeconds == nil {
		r.CooldownSeconds = ptr(defaultCooldownSeconds)
	}
	if r.MarketExposureCapUSDC == 0 {
		r.MarketExposureCapUSDC = 50
	}
	if r.ExposureCapUSDC == 0 {
		r.ExposureCapUSDC = 200
	}
	if r.ExposureTTLHours <= 0 {
		r.ExposureTTLHours = 24
	}

	e := &cfg.Execution
	if e.OrderSizeUSDC == 0 {
		e.OrderSizeUSDC = 10
	}
	if e.MinOrderShares <= 0 {
		e.MinOrderShares = 5
	}
	if e.MaxAttempts <= 0 {
		e.MaxAttempts = 3
	}
	if e.RetryBaseMs <= 0 {
		e.RetryBaseMs = 500
	}
	if e.RetryMaxMs <= 0 {
		e.RetryMaxMs = 5000
	}

	if cfg.Chain.ChainID == 0 {
		cfg.Chain.ChainID = 137
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "settlebot.db"
	}

	l := &cfg.Log
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
	if l.MaxSizeMB <= 0 {
		l.MaxSizeMB = 50
	}
	if l.MaxBackups <= 0 {
		l.MaxBackups = 5
	}
	if l.MaxAgeDays <= 0 {
		l.MaxAgeDays = 30
	}
}

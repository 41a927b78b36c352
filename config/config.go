package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pulkyeet/liquidation-bot/internal/eth"
)

// Venue names accepted in venues.primary / venues.secondary.
const (
	VenueOdos      = "odos"
	VenueCurve     = "curve"
	VenueUniswapV3 = "uniswap_v3"
)

// Config is the full bot configuration.
type Config struct {
	Network       NetworkConfig    `yaml:"network"`
	RPC           RPCConfig        `yaml:"rpc"`
	Wallet        WalletConfig     `yaml:"-"`
	Protocol      ProtocolConfig   `yaml:"protocol"`
	Contracts     ContractsConfig  `yaml:"contracts"`
	Bot           BotConfig        `yaml:"bot"`
	Venues        VenuesConfig     `yaml:"venues"`
	UnstakeTokens []common.Address `yaml:"unstake_tokens"`
	Directory     DirectoryConfig  `yaml:"directory"`
	Storage       StorageConfig    `yaml:"storage"`
	Alert         AlertConfig      `yaml:"alert"`
	Log           LogConfig        `yaml:"log"`
}

type NetworkConfig struct {
	Name    string `yaml:"name"`
	ChainID int64  `yaml:"chain_id"`
	Local   bool   `yaml:"local"` // local/test network: users come from directory.static_users
}

type RPCConfig struct {
	URL               string        `yaml:"url"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Timeout           time.Duration `yaml:"timeout"`
}

// WalletConfig is only ever populated from the environment.
type WalletConfig struct {
	PrivateKey string
}

type ProtocolConfig struct {
	Pool           common.Address `yaml:"pool"`
	DataProvider   common.Address `yaml:"data_provider"`
	Oracle         common.Address `yaml:"oracle"`
	PriceDecimals  uint8          `yaml:"price_decimals"`
	FlashMintAsset common.Address `yaml:"flash_mint_asset"`
	// CloseFactorThreshold overrides the pool's CLOSE_FACTOR_HF_THRESHOLD when set ("0.95").
	CloseFactorThreshold string `yaml:"close_factor_threshold"`
}

type ContractsConfig struct {
	FlashLoanLiquidator common.Address `yaml:"flash_loan_liquidator"`
	FlashMintLiquidator common.Address `yaml:"flash_mint_liquidator"`
}

type BotConfig struct {
	HealthFactorThreshold  string        `yaml:"health_factor_threshold"`
	HealthFactorBatchSize  int           `yaml:"health_factor_batch_size"`
	ReserveBatchSize       int           `yaml:"reserve_batch_size"`
	ProfitableThresholdUSD float64       `yaml:"profitable_threshold_usd"`
	LiquidatingBatchSize   int           `yaml:"liquidating_batch_size"`
	IgnoreTTL              time.Duration `yaml:"ignore_ttl"`
	ErrorIgnoreTTL         time.Duration `yaml:"error_ignore_ttl"`
	MaxConsecutiveFailures int           `yaml:"max_consecutive_failures"`
	ScanInterval           time.Duration `yaml:"scan_interval"`
	CycleTimeout           time.Duration `yaml:"cycle_timeout"`
}

type VenuesConfig struct {
	Primary   string          `yaml:"primary"`
	Secondary string          `yaml:"secondary"`
	Odos      OdosConfig      `yaml:"odos"`
	Curve     CurveConfig     `yaml:"curve"`
	UniswapV3 UniswapV3Config `yaml:"uniswap_v3"`
}

type OdosConfig struct {
	APIURL            string         `yaml:"api_url"`
	Router            common.Address `yaml:"router"`
	SlippageBufferBps uint64         `yaml:"slippage_buffer_bps"`
	RequestsPerSecond float64        `yaml:"requests_per_second"`
}

type CurveConfig struct {
	SlippageBufferBps uint64       `yaml:"slippage_buffer_bps"`
	Routes            []CurveRoute `yaml:"routes"`
}

// CurveRoute is one entry of the static (input, output) route table.
// Route alternates token and pool addresses; each SwapParams row is
// [inIndex, outIndex, poolType, numCoins] for one hop.
type CurveRoute struct {
	Input             common.Address   `yaml:"input"`
	Output            common.Address   `yaml:"output"`
	Route             []common.Address `yaml:"route"`
	SwapParams        [][]int64        `yaml:"swap_params"`
	SlippageBufferBps uint64           `yaml:"slippage_buffer_bps"`
}

type UniswapV3Config struct {
	Factory       common.Address `yaml:"factory"`
	QuoteAsset    common.Address `yaml:"quote_asset"`
	WrappedNative common.Address `yaml:"wrapped_native"`
	FeeTiers      []uint32       `yaml:"fee_tiers"`
}

type DirectoryConfig struct {
	SubgraphURL       string           `yaml:"subgraph_url"`
	PageSize          int              `yaml:"page_size"`
	RequestsPerSecond float64          `yaml:"requests_per_second"`
	StaticUsers       []common.Address `yaml:"static_users"`
}

type StorageConfig struct {
	StateDir string `yaml:"state_dir"`
}

type AlertConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	Console         bool   `yaml:"console"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML file at path, applies .env and environment overrides,
// fills defaults and validates the result.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML, applies environment overrides and defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RPC_URL"); v != "" {
		cfg.RPC.URL = v
	}
	if v := os.Getenv("PRIVATE_KEY"); v != "" {
		cfg.Wallet.PrivateKey = v
	}
	if v := os.Getenv("SUBGRAPH_URL"); v != "" {
		cfg.Directory.SubgraphURL = v
	}
	if v := os.Getenv("ODOS_API_URL"); v != "" {
		cfg.Venues.Odos.APIURL = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Alert.SlackWebhookURL = v
	}
	if v := os.Getenv("STATE_DIR"); v != "" {
		cfg.Storage.StateDir = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.RPC.RequestsPerSecond <= 0 {
		cfg.RPC.RequestsPerSecond = 25
	}
	if cfg.RPC.Burst <= 0 {
		cfg.RPC.Burst = 10
	}
	if cfg.RPC.Timeout <= 0 {
		cfg.RPC.Timeout = 30 * time.Second
	}
	if cfg.Protocol.PriceDecimals == 0 {
		cfg.Protocol.PriceDecimals = 8
	}
	if cfg.Bot.HealthFactorThreshold == "" {
		cfg.Bot.HealthFactorThreshold = "1.0"
	}
	if cfg.Bot.HealthFactorBatchSize == 0 {
		cfg.Bot.HealthFactorBatchSize = 50
	}
	if cfg.Bot.ReserveBatchSize == 0 {
		cfg.Bot.ReserveBatchSize = 10
	}
	if cfg.Bot.LiquidatingBatchSize == 0 {
		cfg.Bot.LiquidatingBatchSize = 500
	}
	if cfg.Bot.IgnoreTTL <= 0 {
		cfg.Bot.IgnoreTTL = 10 * time.Minute
	}
	if cfg.Bot.ErrorIgnoreTTL <= 0 {
		cfg.Bot.ErrorIgnoreTTL = 6 * time.Hour
	}
	if cfg.Bot.MaxConsecutiveFailures == 0 {
		cfg.Bot.MaxConsecutiveFailures = 3
	}
	if cfg.Bot.ScanInterval <= 0 {
		cfg.Bot.ScanInterval = 5 * time.Second
	}
	if cfg.Bot.CycleTimeout <= 0 {
		cfg.Bot.CycleTimeout = 10 * time.Minute
	}
	if cfg.Venues.Primary == "" {
		cfg.Venues.Primary = VenueOdos
	}
	if cfg.Venues.Secondary == "" {
		cfg.Venues.Secondary = VenueCurve
	}
	if cfg.Venues.Odos.APIURL == "" {
		cfg.Venues.Odos.APIURL = "https://api.odos.xyz"
	}
	if cfg.Venues.Odos.SlippageBufferBps == 0 {
		cfg.Venues.Odos.SlippageBufferBps = 100
	}
	if cfg.Venues.Odos.RequestsPerSecond <= 0 {
		cfg.Venues.Odos.RequestsPerSecond = 2
	}
	if cfg.Venues.Curve.SlippageBufferBps == 0 {
		cfg.Venues.Curve.SlippageBufferBps = 50
	}
	if cfg.Venues.UniswapV3.QuoteAsset == (common.Address{}) {
		cfg.Venues.UniswapV3.QuoteAsset = eth.USDCAddress
	}
	if cfg.Venues.UniswapV3.WrappedNative == (common.Address{}) {
		cfg.Venues.UniswapV3.WrappedNative = eth.WETHAddress
	}
	if len(cfg.Venues.UniswapV3.FeeTiers) == 0 {
		cfg.Venues.UniswapV3.FeeTiers = []uint32{100, 500, 3000, 10000}
	}
	if cfg.Directory.PageSize <= 0 {
		cfg.Directory.PageSize = 1000
	}
	if cfg.Directory.RequestsPerSecond <= 0 {
		cfg.Directory.RequestsPerSecond = 5
	}
	if cfg.Storage.StateDir == "" {
		cfg.Storage.StateDir = "state"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// Validate reports every configuration error at once. Any error here is fatal
// for the process: there is no safe default for a missing address or threshold.
func (c *Config) Validate() error {
	var errs []error
	zero := common.Address{}

	if c.RPC.URL == "" {
		errs = append(errs, errors.New("rpc.url (or RPC_URL) is required"))
	}
	if c.Protocol.Pool == zero {
		errs = append(errs, errors.New("protocol.pool is required"))
	}
	if c.Protocol.DataProvider == zero {
		errs = append(errs, errors.New("protocol.data_provider is required"))
	}
	if c.Protocol.Oracle == zero {
		errs = append(errs, errors.New("protocol.oracle is required"))
	}
	if c.Contracts.FlashLoanLiquidator == zero {
		errs = append(errs, errors.New("contracts.flash_loan_liquidator is required"))
	}
	if c.Protocol.FlashMintAsset != zero && c.Contracts.FlashMintLiquidator == zero {
		errs = append(errs, errors.New("contracts.flash_mint_liquidator is required when protocol.flash_mint_asset is set"))
	}
	if hf, err := ParseWad(c.Bot.HealthFactorThreshold); err != nil {
		errs = append(errs, fmt.Errorf("bot.health_factor_threshold: %w", err))
	} else if hf.Sign() <= 0 {
		errs = append(errs, errors.New("bot.health_factor_threshold must be positive"))
	}
	if c.Protocol.CloseFactorThreshold != "" {
		if _, err := ParseWad(c.Protocol.CloseFactorThreshold); err != nil {
			errs = append(errs, fmt.Errorf("protocol.close_factor_threshold: %w", err))
		}
	}
	if c.Bot.HealthFactorBatchSize <= 0 {
		errs = append(errs, errors.New("bot.health_factor_batch_size must be positive"))
	}
	if c.Bot.ReserveBatchSize <= 0 {
		errs = append(errs, errors.New("bot.reserve_batch_size must be positive"))
	}
	if c.Bot.LiquidatingBatchSize <= 0 {
		errs = append(errs, errors.New("bot.liquidating_batch_size must be positive"))
	}
	if c.Bot.MaxConsecutiveFailures <= 0 {
		errs = append(errs, errors.New("bot.max_consecutive_failures must be positive"))
	}
	if c.Bot.ProfitableThresholdUSD < 0 {
		errs = append(errs, errors.New("bot.profitable_threshold_usd must not be negative"))
	}
	for _, v := range []string{c.Venues.Primary, c.Venues.Secondary} {
		if !knownVenue(v) {
			errs = append(errs, fmt.Errorf("unknown venue %q", v))
		}
	}
	if c.usesVenue(VenueOdos) && c.Venues.Odos.Router == zero {
		errs = append(errs, errors.New("venues.odos.router is required when odos is used"))
	}
	if c.usesVenue(VenueUniswapV3) && c.Venues.UniswapV3.Factory == zero {
		errs = append(errs, errors.New("venues.uniswap_v3.factory is required when uniswap_v3 is used"))
	}
	for i, r := range c.Venues.Curve.Routes {
		if len(r.Route) > 11 {
			errs = append(errs, fmt.Errorf("venues.curve.routes[%d]: %d route addresses, max 11", i, len(r.Route)))
		}
		if len(r.SwapParams) > 5 {
			errs = append(errs, fmt.Errorf("venues.curve.routes[%d]: %d swap param rows, max 5", i, len(r.SwapParams)))
		}
		for j, row := range r.SwapParams {
			if len(row) != 4 {
				errs = append(errs, fmt.Errorf("venues.curve.routes[%d].swap_params[%d]: want 4 values, got %d", i, j, len(row)))
			}
		}
	}
	if !c.Network.Local && c.Directory.SubgraphURL == "" {
		errs = append(errs, errors.New("directory.subgraph_url (or SUBGRAPH_URL) is required outside local networks"))
	}
	if c.Network.Local && len(c.Directory.StaticUsers) == 0 {
		errs = append(errs, errors.New("directory.static_users is required on local networks"))
	}

	return errors.Join(errs...)
}

func (c *Config) usesVenue(v string) bool {
	return c.Venues.Primary == v || c.Venues.Secondary == v
}

func knownVenue(v string) bool {
	switch v {
	case VenueOdos, VenueCurve, VenueUniswapV3:
		return true
	}
	return false
}

// ParseWad parses a decimal string such as "0.95" into an 18-decimal fixed point integer.
func ParseWad(s string) (*big.Int, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return nil, fmt.Errorf("invalid decimal %q", s)
	}
	r.Mul(r, new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))
	return new(big.Int).Quo(r.Num(), r.Denom()), nil
}

// Logger builds the process logger from the log section.
func (l LogConfig) Logger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(l.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// MaskedRPCURL returns the RPC URL with the middle hidden; most providers embed the API key in it.
func (c *Config) MaskedRPCURL() string { return maskSecret(c.RPC.URL) }

func (c *Config) MaskedSlackWebhook() string { return maskSecret(c.Alert.SlackWebhookURL) }

// maskSecret keeps the first and last 4 characters.
func maskSecret(s string) string {
	switch {
	case s == "":
		return "(not set)"
	case len(s) <= 8:
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

package config

import (
	"bytes"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulkyeet/liquidation-bot/internal/eth"
)

const minimal = `
rpc:
  url: http://localhost:8545
protocol:
  pool: "0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"
  data_provider: "0x7B4EB56E7CD4b454BA8ff71E4518426369a138a3"
  oracle: "0x54586bE62E3c3580375aE3723C145253060Ca0C2"
contracts:
  flash_loan_liquidator: "0x0000000000000000000000000000000000000001"
venues:
  odos:
    router: "0xCf5540fFFCdC3d510B18bFcA6d2b9987b0772559"
directory:
  subgraph_url: http://localhost:8000/subgraphs/aave
`

func clearEnv(t *testing.T) {
	for _, k := range []string{"RPC_URL", "PRIVATE_KEY", "SUBGRAPH_URL", "ODOS_API_URL", "SLACK_WEBHOOK_URL", "STATE_DIR", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(k, "")
	}
}

func TestParse_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, uint8(8), cfg.Protocol.PriceDecimals)
	assert.Equal(t, "1.0", cfg.Bot.HealthFactorThreshold)
	assert.Equal(t, 3, cfg.Bot.MaxConsecutiveFailures)
	assert.Equal(t, 5*time.Second, cfg.Bot.ScanInterval)
	assert.Equal(t, 10*time.Minute, cfg.Bot.IgnoreTTL)
	assert.Equal(t, VenueOdos, cfg.Venues.Primary)
	assert.Equal(t, VenueCurve, cfg.Venues.Secondary)
	assert.Equal(t, eth.USDCAddress, cfg.Venues.UniswapV3.QuoteAsset)
	assert.Equal(t, []uint32{100, 500, 3000, 10000}, cfg.Venues.UniswapV3.FeeTiers)
	assert.Equal(t, "state", cfg.Storage.StateDir)
	assert.Equal(t, common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2"), cfg.Protocol.Pool)
}

func TestParse_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("RPC_URL", "http://node:8545")
	t.Setenv("PRIVATE_KEY", "deadbeef")
	t.Setenv("STATE_DIR", "/var/lib/liquidator")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	assert.Equal(t, "http://node:8545", cfg.RPC.URL)
	assert.Equal(t, "deadbeef", cfg.Wallet.PrivateKey)
	assert.Equal(t, "/var/lib/liquidator", cfg.Storage.StateDir)
}

func TestParse_PrivateKeyNotFromYAML(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte(minimal + "\nwallet:\n  privatekey: abc\n"))
	require.NoError(t, err)
	assert.Empty(t, cfg.Wallet.PrivateKey)
}

func TestValidate_ReportsEveryError(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte(`
bot:
  health_factor_threshold: "abc"
venues:
  primary: sushiswap
  curve:
    routes:
      - swap_params: [[1, 2, 3]]
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{
		"rpc.url",
		"protocol.pool",
		"protocol.oracle",
		"contracts.flash_loan_liquidator",
		"bot.health_factor_threshold",
		`unknown venue "sushiswap"`,
		"swap_params[0]: want 4 values",
		"directory.subgraph_url",
	} {
		assert.Contains(t, msg, want)
	}
}

func TestValidate_LocalNeedsStaticUsers(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte(minimal + "network:\n  local: true\n"))
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.Validate(), "directory.static_users")

	cfg.Directory.StaticUsers = []common.Address{common.HexToAddress("0x01")}
	assert.NoError(t, cfg.Validate())
}

func TestValidate_FlashMintNeedsContract(t *testing.T) {
	clearEnv(t)

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	cfg.Protocol.FlashMintAsset = common.HexToAddress("0x40D16FC0246aD3160Ccc09B8D0D3A2cD28aE6C2f")
	assert.ErrorContains(t, cfg.Validate(), "flash_mint_liquidator")
}

func TestLoad_ExampleFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("RPC_URL", "http://localhost:8545")
	t.Setenv("SUBGRAPH_URL", "http://localhost:8000")

	cfg, err := Load("config.yaml")
	require.NoError(t, err)
	assert.Equal(t, int64(1), cfg.Network.ChainID)
	require.Len(t, cfg.Venues.Curve.Routes, 1)
	assert.Len(t, cfg.Venues.Curve.Routes[0].Route, 3)
	assert.Equal(t, [][]int64{{2, 0, 1, 3}}, cfg.Venues.Curve.Routes[0].SwapParams)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestParseWad(t *testing.T) {
	v, err := ParseWad("0.95")
	require.NoError(t, err)
	assert.Equal(t, "950000000000000000", v.String())

	v, err = ParseWad(" 1 ")
	require.NoError(t, err)
	assert.Equal(t, 0, v.Cmp(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)))

	_, err = ParseWad("1,0")
	assert.Error(t, err)
}

func TestLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	log := LogConfig{Level: "warn", Format: "json"}.Logger(&buf)

	log.Info("hidden")
	log.Warn("shown", "k", "v")
	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.Contains(t, out, `"msg":"shown"`)
}

func TestMaskSecret(t *testing.T) {
	assert.Equal(t, "(not set)", maskSecret(""))
	assert.Equal(t, "****", maskSecret("abcd"))
	assert.Equal(t, "http****/key", maskSecret("https://eth.example/v2/key"))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StrathCole/price-oracle/pkg/exchanges"
	"github.com/StrathCole/price-oracle/pkg/feeder/eventstream"
	"github.com/StrathCole/price-oracle/pkg/pricing"
)

const minimal = `
exchanges:
  - id: 1
    name: uniswap-v3-ethereum
    protocol: uniswap_v3
    chain: ethereum
    enabled: true
`

func TestLoadExample(t *testing.T) {
	t.Setenv("ETHEREUM_RPC_URL", "https://eth.example.org")

	cfg, err := Load(filepath.Join("..", "..", "config", "config.example.yaml"))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, uint64(10), cfg.Oracle.UpdateInterval)
	assert.Equal(t, uint64(5), cfg.Oracle.SubmissionLongevity)
	assert.Equal(t, 5*time.Second, cfg.Oracle.FetchTimeout.ToDuration())
	require.Len(t, cfg.Exchanges, 5)
	assert.Equal(t, "https://eth.example.org", cfg.Exchanges[0].Config["rpc_url"])

	specs := cfg.ExchangeSpecs()
	assert.Equal(t, exchanges.ProtocolUniswapV3, specs[0].Protocol)
	assert.Equal(t, pricing.ExchangeID(5), specs[4].ID)

	avax := exchanges.GetMapSlice(cfg.Exchanges[4].Config, "pools")
	require.Len(t, avax, 1)
	assert.Equal(t, "AVAX/USD", exchanges.GetString(avax[0], "pair", ""))

	for _, ex := range cfg.Exchanges {
		for _, pool := range exchanges.GetMapSlice(ex.Config, "pools") {
			assert.Contains(t, cfg.Oracle.Pairs, exchanges.GetString(pool, "pair", ""), ex.Name)
		}
	}

	weights := cfg.Weights()
	assert.Equal(t, 2.0, weights[1])
	assert.Equal(t, 1.0, weights[2])
	assert.Equal(t, 0.5, weights[5])
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, ModeBoth, cfg.Mode)
	assert.Equal(t, uint64(10), cfg.Oracle.UpdateInterval)
	assert.Equal(t, uint64(5), cfg.Oracle.SubmissionLongevity)
	assert.Equal(t, 3, cfg.Oracle.MaxExchangesPerBlock)
	assert.Equal(t, "badger", cfg.Store.Backend)
	assert.Equal(t, "local", cfg.EventStream.Kind)
	assert.Equal(t, 1024, cfg.Ledger.MaxPool)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "median", cfg.Server.AggregateMode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.IsServerMode())
	assert.True(t, cfg.IsCollectorMode())
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("ORACLE_TEST_ADDR", ":9999")

	cfg, err := Parse([]byte("server:\n  addr: ${ORACLE_TEST_ADDR}\n"))
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Server.Addr)
}

func TestParseRejectsBadDuration(t *testing.T) {
	_, err := Parse([]byte("oracle:\n  fetch_timeout: soon\n"))
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr error
	}{
		{name: "bad mode", yaml: "mode: feeder\n" + minimal, wantErr: ErrInvalidMode},
		{
			name:    "longevity reaches window end",
			yaml:    "oracle:\n  update_interval: 10\n  submission_longevity: 10\n" + minimal,
			wantErr: ErrInvalidOracle,
		},
		{name: "unknown pair bounds", yaml: "pairs:\n  DOGE/USD:\n    min_price: 1\n" + minimal, wantErr: ErrInvalidPair},
		{
			name:    "inverted bounds",
			yaml:    "pairs:\n  ETH/USD:\n    min_price: 5000\n    max_price: 4000\n" + minimal,
			wantErr: ErrInvalidBounds,
		},
		{name: "no exchanges", yaml: "mode: collector\n", wantErr: ErrNoExchangesEnabled},
		{
			name:    "duplicate ids",
			yaml:    minimal + "  - id: 1\n    name: other\n    protocol: uniswap_v2\n",
			wantErr: ErrDuplicateExchangeID,
		},
		{
			name:    "unknown protocol",
			yaml:    "exchanges:\n  - id: 2\n    name: curve\n    protocol: curve\n    enabled: true\n",
			wantErr: ErrInvalidExchange,
		},
		{name: "redis without url", yaml: "store:\n  backend: redis\n" + minimal, wantErr: ErrInvalidStore},
		{
			name:    "remote stream without endpoints",
			yaml:    "event_stream:\n  kind: evm\n" + minimal,
			wantErr: ErrInvalidEventStream,
		},
		{name: "aggregate mode", yaml: "server:\n  aggregate_mode: tvwap\n" + minimal, wantErr: ErrInvalidAggregateMode},
		{name: "log level", yaml: "logging:\n  level: verbose\n" + minimal, wantErr: ErrInvalidLogLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse([]byte(tt.yaml))
			require.NoError(t, err)
			assert.ErrorIs(t, Validate(cfg), tt.wantErr)
		})
	}
}

func TestServerModeSkipsCollectorChecks(t *testing.T) {
	cfg, err := Parse([]byte("mode: server\n"))
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))
	assert.False(t, cfg.IsCollectorMode())
}

func TestValidatorConfig(t *testing.T) {
	cfg, err := Parse([]byte(`
oracle:
  clock_skew: 10s
pairs:
  eth-usd:
    max_price: 15000
exchanges:
  - id: 3
    name: pancakeswap-bsc
    protocol: uniswap_v2
    enabled: true
    bounds:
      ETH/USD:
        max_deviation_pct: 5
  - id: 4
    name: disabled
    protocol: uniswap_v2
    bounds:
      ETH/USD:
        max_deviation_pct: 1
`))
	require.NoError(t, err)

	vcfg, err := cfg.ValidatorConfig()
	require.NoError(t, err)

	eth := vcfg.Pairs[pricing.PairETHUSD]
	assert.True(t, eth.Min.Equal(decimal.NewFromInt(1000)), "default min kept")
	assert.True(t, eth.Max.Equal(decimal.NewFromInt(15000)))
	assert.Equal(t, 10*time.Second, vcfg.ClockSkew)

	override := vcfg.Overrides[pricing.PairETHUSD][3]
	assert.True(t, override.MaxDeviationPct.Equal(decimal.NewFromInt(5)))
	assert.True(t, override.Max.Equal(decimal.NewFromInt(15000)), "override starts from pair bounds")
	_, ok := vcfg.Overrides[pricing.PairETHUSD][4]
	assert.False(t, ok, "disabled exchanges carry no overrides")
}

func TestComponentConfigs(t *testing.T) {
	cfg, err := Parse([]byte(`
oracle:
  update_interval: 20
  submission_longevity: 8
  pairs: [eth-usd, BTC/USD]
store:
  record_ttl: 1h
event_stream:
  kind: EVM
  endpoints: [wss://node]
`))
	require.NoError(t, err)

	ccfg, err := cfg.CollectorConfig()
	require.NoError(t, err)
	assert.Equal(t, []pricing.TokenPair{pricing.PairETHUSD, pricing.PairBTCUSD}, ccfg.Pairs)
	assert.Equal(t, uint64(20), ccfg.UpdateInterval)

	acfg := cfg.AdmissionConfig()
	assert.Equal(t, uint64(8), acfg.Longevity)
	assert.Equal(t, time.Hour, acfg.RecordTTL)
	assert.NoError(t, acfg.Validate())

	assert.Equal(t, eventstream.KindEVM, cfg.EventStreamConfig().Kind)
	assert.Equal(t, 64, cfg.LedgerConfig().BlockCapacity)
	assert.Equal(t, "median", cfg.APIConfig().Mode)

	cfg.Oracle.Pairs = []string{"XRP/USD"}
	_, err = cfg.CollectorConfig()
	assert.ErrorIs(t, err, ErrInvalidPair)
}

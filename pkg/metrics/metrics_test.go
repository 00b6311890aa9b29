package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordFetch(t *testing.T) {
	RecordFetch("uniswap_v3_eth", "uniswap_v3", "ok", 100*time.Millisecond)
	RecordFetch("uniswap_v3_eth", "uniswap_v3", "timeout", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(FetchesTotal.WithLabelValues("uniswap_v3_eth", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(FetchesTotal.WithLabelValues("uniswap_v3_eth", "timeout")))
	assert.Equal(t, 0.0, testutil.ToFloat64(ExchangeHealth.WithLabelValues("uniswap_v3_eth", "uniswap_v3")))
}

func TestRecordAdmission(t *testing.T) {
	before := testutil.ToFloat64(AdmissionsTotal.WithLabelValues("validate", "duplicate_window"))
	RecordAdmission("validate", "duplicate_window")
	assert.Equal(t, before+1, testutil.ToFloat64(AdmissionsTotal.WithLabelValues("validate", "duplicate_window")))
}

func TestRecordPoolSizeAndHeight(t *testing.T) {
	RecordPoolSize(3)
	RecordHeight(120)
	assert.Equal(t, 3.0, testutil.ToFloat64(PoolSize))
	assert.Equal(t, 120.0, testutil.ToFloat64(LatestHeight))
}

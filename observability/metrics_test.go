package observability

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMintdMetricsRecord(t *testing.T) {
	m := Mintd()
	require.Same(t, m, Mintd())

	m.RecordAttempt("Primary", "SUCCESS", 3*time.Second)
	require.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("primary", "success")))

	m.RecordQuota(3, 4)
	require.Equal(t, 1.0, testutil.ToFloat64(m.quotaRemaining))
	require.Equal(t, 0.75, testutil.ToFloat64(m.quotaUsage))

	m.RecordQuota(9, 4)
	require.Equal(t, 0.0, testutil.ToFloat64(m.quotaRemaining))
	require.Equal(t, 1.0, testutil.ToFloat64(m.quotaUsage))

	half, _ := new(big.Int).SetString("500000000000000000", 10)
	m.RecordBalance("secondary", half)
	require.Equal(t, 0.5, testutil.ToFloat64(m.ownerBalance.WithLabelValues("secondary")))

	m.SetGasPause("primary", true)
	require.Equal(t, 1.0, testutil.ToFloat64(m.gasPause.WithLabelValues("primary")))

	m.RecordBackup("threshold", errors.New("boom"))
	require.Equal(t, 1.0, testutil.ToFloat64(m.backups.WithLabelValues("threshold", "error")))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *MintdMetrics
	m.RecordAttempt("primary", "failed", time.Second)
	m.RecordQuota(1, 2)
	m.RecordBalance("primary", nil)
	m.SetGasPause("primary", false)
	m.RecordError("primary", "")
	m.RecordBackup("daily", nil)
	m.RecordAlert("started", nil)
	m.SetRunning(true)
}

package metrics

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandler_ServesMetrics(t *testing.T) {
	ChecksumMismatches.WithLabelValues("metrics_test").Inc()
	RowsMigrated.WithLabelValues("metrics_test", "create").Add(3)

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `stackmig_checksum_mismatches_total{type="metrics_test"} 1`)
	assert.Contains(t, string(body), `stackmig_rows_migrated_total{op="create",type="metrics_test"} 3`)
}

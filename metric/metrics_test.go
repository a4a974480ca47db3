package metric

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JiseokYu/code-push-server/errors"
)

func TestObserveCountsByStatus(t *testing.T) {
	m := NewStorageMetrics()

	start := time.Now()
	m.Observe("doc_get", start, nil)
	m.Observe("doc_get", start, nil)
	m.Observe("doc_get", start, errors.New(errors.NotFound, "test", "op", "missing"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("doc_get", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.OperationsTotal.WithLabelValues("doc_get", "error")))
}

func TestSetBackendUp(t *testing.T) {
	m := NewStorageMetrics()

	m.SetBackendUp("documents", true)
	m.SetBackendUp("blobs", false)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.BackendUp.WithLabelValues("documents")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.BackendUp.WithLabelValues("blobs")))
}

func TestDedicatedRegistry(t *testing.T) {
	m := NewStorageMetrics()
	m.Observe("doc_set", time.Now(), nil)

	families, err := m.Registry().Gather()
	require.NoError(t, err)
	require.NotEmpty(t, families)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "codepush_storage_operations_total")
	assert.Contains(t, names, "codepush_storage_operation_duration_seconds")
}

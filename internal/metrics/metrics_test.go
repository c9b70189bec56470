package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestU_ObserveSignature(t *testing.T) {
	before := testutil.ToFloat64(signatures.WithLabelValues("LT", "ASICE", "success"))
	ObserveSignature("LT", "ASICE", nil)
	ObserveSignature("LT", "ASICE", errors.New("boom"))

	assert.Equal(t, before+1, testutil.ToFloat64(signatures.WithLabelValues("LT", "ASICE", "success")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(signatures.WithLabelValues("LT", "ASICE", "failure")), 1.0)
}

func TestU_ObserveServiceCall(t *testing.T) {
	before := testutil.ToFloat64(serviceRequests.WithLabelValues(ServiceOCSP, "failure"))
	ObserveServiceCall(ServiceOCSP, time.Now().Add(-time.Millisecond), errors.New("unreachable"))
	assert.Equal(t, before+1, testutil.ToFloat64(serviceRequests.WithLabelValues(ServiceOCSP, "failure")))
}

func TestF_Handler_ExposesCollectors(t *testing.T) {
	ObserveValidation(true)
	ObserveExtension("LT", "LTA", nil)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "asic_validations_total")
	assert.Contains(t, string(body), "asic_extensions_total")
}

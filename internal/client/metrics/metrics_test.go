package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetState(t *testing.T) {
	all := []string{"idle", "pushing", "pulling", "error"}

	SetState("pushing", all)
	assert.Equal(t, 1.0, testutil.ToFloat64(State.WithLabelValues("pushing")))
	assert.Equal(t, 0.0, testutil.ToFloat64(State.WithLabelValues("idle")))

	SetState("error", all)
	assert.Equal(t, 0.0, testutil.ToFloat64(State.WithLabelValues("pushing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(State.WithLabelValues("error")))
}

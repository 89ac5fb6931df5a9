package observability

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWSEventStampsServiceAndTime(t *testing.T) {
	env := NewWSEvent("ws_connect", map[string]string{"conn_id": "k1"})

	assert.Equal(t, "ws_events", env.EventType)
	assert.Equal(t, "ws_connect", env.EventName)
	assert.Equal(t, "hospital-chat", env.Service)

	occurred, err := time.Parse(time.RFC3339Nano, env.OccurredAt)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), occurred, time.Minute)
}

package http

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webitel/broadcast-delivery-service/internal/domain/event"
)

func TestWriteFrameFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	userID := uuid.New()
	ev := event.NewFrame(userID, event.Message, event.PriorityNormal,
		&event.ReceiptPayload{BroadcastID: uuid.New()})

	require.NoError(t, writeFrame(rec, rec, ev))

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(body, "event: MESSAGE\ndata: "))
	assert.True(t, strings.HasSuffix(body, "\n\n"))
	assert.Contains(t, body, userID.String())
	assert.True(t, rec.Flushed)
}

func TestWriteFrameCachesMarshal(t *testing.T) {
	ev := event.NewFrame(uuid.New(), event.Heartbeat, event.PriorityLow, nil)
	require.Nil(t, ev.GetCached())

	first := httptest.NewRecorder()
	require.NoError(t, writeFrame(first, first, ev))
	cached := ev.GetCached()
	require.NotNil(t, cached)

	// A second stream reuses the cached bytes.
	second := httptest.NewRecorder()
	require.NoError(t, writeFrame(second, second, ev))
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, cached, ev.GetCached())
}

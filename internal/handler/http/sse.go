package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/webitel/broadcast-delivery-service/internal/domain/event"
)

// writeFrame serializes one frame in SSE wire format and flushes it. The
// marshalled bytes are cached on the frame, so a frame fanned out to many
// streams marshals once.
func writeFrame(w http.ResponseWriter, flusher http.Flusher, ev event.Eventer) error {
	data := ev.GetCached()
	if data == nil {
		var err error
		data, err = json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encode frame %s: %w", ev.GetID(), err)
		}
		ev.SetCached(data)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.GetKind(), data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

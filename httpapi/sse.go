package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/soundrise/notify/hub"
	"github.com/soundrise/notify/notification"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

type sseEvent struct {
	event hub.Event
	n     notification.Notification
}

// handleEvents streams one user's lifecycle events as server-sent events.
// The subscription is dropped when the client disconnects; a slow client
// loses events rather than blocking the publishing side.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		a.respondError(w, r, http.StatusInternalServerError, errors.New("streaming unsupported"))
		return
	}

	userID := chi.URLParam(r, "userID")

	events := make(chan sseEvent, 32)
	unsub := a.engine.Subscribe(userID, func(ev hub.Event, n notification.Notification) {
		select {
		case events <- sseEvent{event: ev, n: n}:
		default:
		}
	})
	defer unsub()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case ev := <-events:
			data, err := json.Marshal(ev.n)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.event, data)
			flusher.Flush()
		}
	}
}

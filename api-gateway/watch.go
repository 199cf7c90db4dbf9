package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"media-downloader/shared"
)

const writeWait = 10 * time.Second

// watchMessage is one frame sent over /watch/{id}.
type watchMessage struct {
	Type     string           `json:"type"` // "progress", "done", "timeout" or "error"
	Status   shared.JobStatus `json:"status"`
	Progress float64          `json:"progress"`
	Elapsed  float64          `json:"elapsed_seconds,omitempty"`
	TimedOut bool             `json:"timed_out"`
	Error    string           `json:"error,omitempty"`
}

// handleWatch upgrades to a websocket and streams progress for one job until
// it finishes, the watch times out or the client goes away.
func (g *gateway) handleWatch(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["id"]
	timeout, err := parseTimeout(r.URL.Query().Get("timeout"))
	if err != nil {
		writeError(w, errors.Join(shared.ErrInvalidInput, err))
		return
	}
	// Unknown ids are rejected before the upgrade so clients get a plain 404.
	if _, err := g.service.Status(r.Context(), jobID); err != nil {
		writeError(w, err)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("job_id", jobID).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Reader goroutine: the only way to notice a client close.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func(msg watchMessage) error {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteJSON(msg)
	}

	result, err := g.service.Watch(ctx, jobID, func(p shared.Progress) {
		if err := send(watchMessage{Type: "progress", Status: p.Status, Progress: p.Fraction, Elapsed: p.Elapsed.Seconds()}); err != nil {
			cancel()
		}
	}, timeout)

	final := watchMessage{Type: "done", Status: result.Status, Progress: result.Fraction}
	switch {
	case err != nil && ctx.Err() != nil:
		log.Debug().Str("job_id", jobID).Msg("Watcher disconnected")
		return
	case err != nil:
		final = watchMessage{Type: "error", Error: err.Error()}
	case result.TimedOut:
		final.Type = "timeout"
		final.TimedOut = true
	}
	if err := send(final); err != nil {
		return
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, final.Type))
}

package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aula-hub/aula-insights/internal/domain/document"
	"github.com/aula-hub/aula-insights/internal/infrastructure/subscription"
	"github.com/aula-hub/aula-insights/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIVE QUERY STREAM (SSE)
// ══════════════════════════════════════════════════════════════════════════════

// liveEvent is one server-sent event on the stream.
type liveEvent struct {
	Docs  []liveDocument `json:"docs,omitempty"`
	Error string         `json:"error,omitempty"`
}

type liveDocument struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// handleLiveQuery streams query snapshots over Server-Sent Events. Each
// event carries the full ordered result set; clients replace, never patch.
// Consumers of the same query share one upstream store subscription through
// the cache, so a dashboard with many open views of the same collection
// costs one stream.
//
// Query parameters:
//
//	filter=field:op:value  repeated; op is one of eq, ne, gt, gte, lt, lte
//	order=field:asc|desc   repeated
//	limit=N
func (s *Server) handleLiveQuery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Live == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "cache_unavailable", "Live query cache is not configured")
		return
	}

	q, err := parseLiveQuery(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_query", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSONError(w, http.StatusInternalServerError, "streaming_unsupported", "Response writer does not support streaming")
		return
	}

	// The server-wide write timeout would kill a long-lived stream.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		s.logger.Warn("failed to clear write deadline for stream", logger.Err(err))
	}

	// ChangeFunc calls are serialized per handle; the bridge channel
	// coalesces to the newest snapshot when the client writes fall behind,
	// which is safe because snapshots replace rather than patch.
	events := make(chan subscription.Event, 1)
	handle, err := s.deps.Live.Subscribe(q, func(ev subscription.Event) {
		for {
			select {
			case events <- ev:
				return
			default:
				select {
				case <-events:
				default:
				}
			}
		}
	})
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "subscribe_failed", err.Error())
		return
	}
	defer func() { _ = handle.Unsubscribe() }()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.logger.Info("live query stream opened",
		logger.Collection(q.Collection),
		logger.Signature(handle.Signature().String()),
		logger.String("request_id", getRequestID(r.Context())),
	)

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.logger.Info("live query stream closed",
				logger.Collection(q.Collection),
				logger.Signature(handle.Signature().String()),
			)
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case ev := <-events:
			if err := writeSSEEvent(w, ev); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent serializes one cache event as an SSE data frame.
func writeSSEEvent(w http.ResponseWriter, ev subscription.Event) error {
	out := liveEvent{}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	} else {
		out.Docs = make([]liveDocument, 0, len(ev.Docs))
		for _, d := range ev.Docs {
			out.Docs = append(out.Docs, liveDocument{
				ID:     d.ID.String(),
				Fields: d.Fields,
			})
		}
	}

	payload, err := json.Marshal(out)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

// ══════════════════════════════════════════════════════════════════════════════
// QUERY PARSING
// ══════════════════════════════════════════════════════════════════════════════

// liveOperators maps the URL-safe operator names onto store operators.
var liveOperators = map[string]document.Operator{
	"eq":  document.OpEqual,
	"ne":  document.OpNotEqual,
	"gt":  document.OpGreaterThan,
	"gte": document.OpGreaterOrEqual,
	"lt":  document.OpLessThan,
	"lte": document.OpLessOrEqual,
}

// parseLiveQuery builds a document query from the request path and
// parameters.
func parseLiveQuery(r *http.Request) (document.Query, error) {
	q := document.Query{
		Collection: r.PathValue("collection"),
		Limit:      getQueryParamInt(r, "limit", 0),
	}

	for _, raw := range r.URL.Query()["filter"] {
		parts := strings.SplitN(raw, ":", 3)
		if len(parts) != 3 {
			return document.Query{}, fmt.Errorf("filter %q: want field:op:value", raw)
		}
		op, ok := liveOperators[parts[1]]
		if !ok {
			return document.Query{}, fmt.Errorf("filter %q: unknown operator %q", raw, parts[1])
		}
		q.Filters = append(q.Filters, document.Filter{
			Field:    parts[0],
			Operator: op,
			Value:    parts[2],
		})
	}

	for _, raw := range r.URL.Query()["order"] {
		field, dir, found := strings.Cut(raw, ":")
		direction := document.Ascending
		if found {
			switch dir {
			case "asc":
				direction = document.Ascending
			case "desc":
				direction = document.Descending
			default:
				return document.Query{}, fmt.Errorf("order %q: direction must be asc or desc", raw)
			}
		}
		q.OrderBy = append(q.OrderBy, document.OrderBy{Field: field, Direction: direction})
	}

	if err := q.Validate(); err != nil {
		return document.Query{}, err
	}
	return q, nil
}

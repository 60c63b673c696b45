package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/t77yq/statuswatch/internal/cache"
	"github.com/t77yq/statuswatch/internal/model"
	"github.com/t77yq/statuswatch/internal/storage"
)

// summaryWindow is the trailing window for the events summary
const summaryWindow = 7 * 24 * time.Hour

// Server exposes the event log and current status over HTTP. JSON
// responses go through the short cache tier so a burst of client polls
// collapses to one recomputation per TTL window.
type Server struct {
	logger    *zap.Logger
	events    storage.EventLogStorage
	states    storage.AlertStateStorage
	responses *cache.Tier
	mux       *http.ServeMux
}

// NewServer creates the API server
func NewServer(logger *zap.Logger, events storage.EventLogStorage, states storage.AlertStateStorage, responses *cache.Tier, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		logger:    logger.Named("api"),
		events:    events,
		states:    states,
		responses: responses,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	s.mux = mux

	return s
}

// Handler returns the http handler for the server
func (s *Server) Handler() http.Handler {
	return s.mux
}

type eventsResponse struct {
	Events  []*model.Event      `json:"events"`
	Total   int                 `json:"total"`
	Summary *model.EventSummary `json:"summary"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	filters, err := parseEventFilters(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	key := fmt.Sprintf("events?source=%s&severity=%s&resolved=%s&limit=%d&offset=%d",
		filters.Source, filters.Severity, resolvedKey(filters.Resolved), filters.Limit, filters.Offset)

	s.serveCached(w, r, key, func(ctx context.Context) ([]byte, error) {
		events, err := s.events.List(ctx, filters)
		if err != nil {
			return nil, err
		}
		total, err := s.events.Count(ctx, filters)
		if err != nil {
			return nil, err
		}
		summary, err := s.events.Summary(ctx, summaryWindow)
		if err != nil {
			return nil, err
		}
		if events == nil {
			events = []*model.Event{}
		}
		return json.Marshal(eventsResponse{
			Events:  events,
			Total:   total,
			Summary: summary,
		})
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.serveCached(w, r, "status", func(ctx context.Context) ([]byte, error) {
		latest, err := s.states.LatestByType(ctx)
		if err != nil {
			return nil, err
		}

		types := make([]string, 0, len(latest))
		for entityType := range latest {
			types = append(types, entityType)
		}
		sort.Strings(types)

		byType := make(map[string][]*model.AlertState, len(types))
		for _, entityType := range types {
			states, err := s.states.ListByType(ctx, entityType)
			if err != nil {
				return nil, err
			}
			byType[entityType] = states
		}
		return json.Marshal(byType)
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// serveCached answers from the short tier, computing and caching on a
// miss. A compute failure is a 500; cache failures never are.
func (s *Server) serveCached(w http.ResponseWriter, r *http.Request, key string, compute func(context.Context) ([]byte, error)) {
	payload, err := s.responses.Do(r.Context(), key, compute)
	if err != nil {
		s.logger.Error("Failed to build response",
			zap.String("key", key),
			zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}

func parseEventFilters(r *http.Request) (storage.EventFilters, error) {
	q := r.URL.Query()
	filters := storage.EventFilters{
		Source:   q.Get("source"),
		Severity: q.Get("severity"),
		Limit:    50,
	}

	if v := q.Get("resolved"); v != "" {
		resolved, err := strconv.ParseBool(v)
		if err != nil {
			return filters, fmt.Errorf("invalid resolved parameter: %q", v)
		}
		filters.Resolved = &resolved
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > 500 {
			return filters, fmt.Errorf("invalid limit parameter: %q", v)
		}
		filters.Limit = limit
	}
	if v := q.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			return filters, fmt.Errorf("invalid offset parameter: %q", v)
		}
		filters.Offset = offset
	}
	return filters, nil
}

func resolvedKey(resolved *bool) string {
	if resolved == nil {
		return ""
	}
	return strconv.FormatBool(*resolved)
}

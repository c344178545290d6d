// Package api implements the HTTP boundary of spec.md §6, grounded on
// api.go's route.Router-based handler registration and its
// respond/respondError JSON envelope pattern, generalized to the four
// endpoints this system exposes. github.com/rs/cors wraps the handler
// the way api/v2/api.go applies CORS to the v2 API.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/prometheus/common/route"
	"github.com/rs/cors"

	"github.com/gatekeeper/gatekeeper/internal/consumer"
	"github.com/gatekeeper/gatekeeper/internal/event"
	"github.com/gatekeeper/gatekeeper/internal/feature"
	"github.com/gatekeeper/gatekeeper/internal/metrics"
)

// Enqueuer is the subset of internal/consumer.Pool the API needs.
type Enqueuer interface {
	Enqueue(ev *event.Event) error
	QueueSize() int
}

// GrantChecker is the subset of internal/grant.Service the API needs.
type GrantChecker interface {
	HasGrant(userID, featureName string) bool
}

// API wires the HTTP surface of spec.md §6 onto a route.Router.
type API struct {
	schemas  *event.Registry
	features *feature.Registry
	queue    Enqueuer
	grants   GrantChecker
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

var canPathRE = regexp.MustCompile(`^can[a-z]{1,16}$`)

// New constructs an API and registers its routes on r, returning an
// http.Handler with CORS applied.
func New(r *route.Router, schemas *event.Registry, features *feature.Registry, queue Enqueuer, grants GrantChecker, m *metrics.Metrics, logger *slog.Logger) http.Handler {
	api := &API{schemas: schemas, features: features, queue: queue, grants: grants, metrics: m, logger: logger}

	r.Post("/event", api.postEvent)
	r.Get("/:canFeature", api.canFeature)
	r.Get("/", api.index)

	// The router cannot hold the static /queue-size next to the wildcard
	// /:canFeature segment, so /queue-size is served by a ServeMux in
	// front of it.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /queue-size", api.queueSize)
	mux.Handle("/", r)

	return cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
	}).Handler(mux)
}

type eventRequest struct {
	UUID            string         `json:"uuid"`
	Name            string         `json:"name"`
	Timestamp       string         `json:"timestamp"`
	EventProperties map[string]any `json:"event_properties"`
}

func (a *API) postEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := receive(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if req.EventProperties == nil {
		respondError(w, http.StatusBadRequest, errMalformedProperties)
		return
	}

	props, err := a.schemas.Decode(req.Name, req.EventProperties)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ts, err := parseTimestamp(req.Timestamp)
	if err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}

	ev := &event.Event{UUID: req.UUID, Name: req.Name, Timestamp: ts, Properties: props}
	if err := a.queue.Enqueue(ev); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, consumer.ErrQueueFull) {
			status = http.StatusServiceUnavailable
		}
		respondError(w, status, err)
		return
	}

	respond(w, http.StatusOK, map[string]string{"event_id": ev.UUID})
}

func (a *API) queueSize(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]int{"queue_size": a.queue.QueueSize()})
}

func (a *API) canFeature(w http.ResponseWriter, r *http.Request) {
	path := route.Param(r.Context(), "canFeature")
	if !canPathRE.MatchString(path) {
		respondError(w, http.StatusBadRequest, errBadFeaturePath)
		return
	}
	featureName := strings.TrimPrefix(path, "can")

	if _, err := a.features.ByName(featureName); err != nil {
		respondError(w, http.StatusNotFound, err)
		return
	}

	userID := r.Header.Get("x-user-id")
	hasGrant := a.grants.HasGrant(userID, featureName)

	respond(w, http.StatusOK, map[string]any{
		"user_id":   userID,
		"feature":   featureName,
		"has_grant": hasGrant,
	})
}

func (a *API) index(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"Hello": "World"})
}

func respond(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func receive(r *http.Request, v any) error {
	defer r.Body.Close()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, v)
}

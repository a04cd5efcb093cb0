package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/wallace-lab/wallace/internal/dispatch"
	"github.com/wallace-lab/wallace/internal/engine"
	"github.com/wallace-lab/wallace/internal/models"
	"github.com/wallace-lab/wallace/internal/queue"
	"github.com/wallace-lab/wallace/internal/store"
)

// maxBatch caps the events read from one notification request.
const maxBatch = 100

// Server holds the collaborators the handlers need.
type Server struct {
	store  *store.Store
	disp   *dispatch.Dispatcher
	queue  *queue.Queue
	engine *engine.Engine
	router *mux.Router
}

// NewServer creates a server with its routes installed.
func NewServer(s *store.Store, disp *dispatch.Dispatcher, q *queue.Queue, eng *engine.Engine) *Server {
	srv := &Server{store: s, disp: disp, queue: q, engine: eng, router: mux.NewRouter()}
	SetupRoutes(srv.router, srv)
	return srv
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// SetupRoutes configures all API routes on r.
func SetupRoutes(r *mux.Router, s *Server) {
	r.Use(logRequests)

	for _, kind := range models.Kinds {
		r.HandleFunc("/"+string(kind), s.entity(kind)).Methods("GET", "POST")
	}

	r.HandleFunc("/notifications", s.Notifications).Methods("GET", "POST")
	r.HandleFunc("/nudge", s.Nudge).Methods("POST")
	r.HandleFunc("/worker_complete", s.WorkerComplete).Methods("GET")
	r.HandleFunc("/worker_submitted", s.WorkerSubmitted).Methods("GET")
	r.HandleFunc("/summary", s.Summary).Methods("GET")
	r.HandleFunc("/quitter", s.Quitter).Methods("POST")
	r.HandleFunc("/health", s.Health).Methods("GET")
}

// entity handles GET and POST for one entity kind.
func (s *Server) entity(kind models.Kind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			writeError(w, &dispatch.RequestError{Class: dispatch.ClassMalformedField, Message: "unreadable form"})
			return
		}
		env, err := s.disp.Handle(r.Context(), dispatch.Request{Kind: kind, Method: r.Method, Values: r.Form})
		if err != nil {
			writeError(w, err)
			return
		}
		writeSuccess(w, env.Key, env.Value)
	}
}

// Notifications handles the platform's REST notification batch:
// Event.1.EventType, Event.1.AssignmentId, Event.2.EventType and so on.
// Every usable event is enqueued before the platform is answered. The
// answer is success unless enqueueing failed; events that cannot be used
// are logged and skipped.
func (s *Server) Notifications(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Warn("unreadable notification batch", "error", err)
		writeSuccess(w, "", nil)
		return
	}

	events := parseEvents(r)
	if len(events) == 0 {
		slog.Warn("notification batch carries no events", "path", r.URL.Path)
	}
	for _, ev := range events {
		job, err := s.queue.Enqueue(r.Context(), queue.ForAssignment(ev.eventType, ev.assignmentID))
		if err != nil {
			writeError(w, fmt.Errorf("enqueue notification: %w", err))
			return
		}
		slog.Info("notification queued", "event", ev.eventType, "assignment", ev.assignmentID, "job", job.ID)
	}
	writeSuccess(w, "", nil)
}

type event struct {
	eventType    models.EventType
	assignmentID string
}

// parseEvents reads Event.N pairs until the first N without an event type.
// An event without an assignment id is skipped.
func parseEvents(r *http.Request) []event {
	var out []event
	for n := 1; n <= maxBatch; n++ {
		prefix := "Event." + strconv.Itoa(n) + "."
		eventType := r.Form.Get(prefix + "EventType")
		if eventType == "" {
			break
		}
		assignmentID := r.Form.Get(prefix + "AssignmentId")
		if assignmentID == "" {
			slog.Warn("notification event has no assignment id, skipping", "event", eventType, "index", n)
			continue
		}
		out = append(out, event{eventType: models.EventType(eventType), assignmentID: assignmentID})
	}
	return out
}

// Nudge runs the nudge sweep.
func (s *Server) Nudge(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Nudge(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, "nudged", report)
}

// WorkerComplete records that the client finished the task.
func (s *Server) WorkerComplete(w http.ResponseWriter, r *http.Request) {
	s.workerSignal(w, r, s.store.MarkCompleted)
}

// WorkerSubmitted records that the client submitted the task.
func (s *Server) WorkerSubmitted(w http.ResponseWriter, r *http.Request) {
	s.workerSignal(w, r, s.store.MarkSubmitted)
}

func (s *Server) workerSignal(w http.ResponseWriter, r *http.Request, mark func(context.Context, string) (bool, error)) {
	id := r.URL.Query().Get("uniqueId")
	if id == "" {
		writeError(w, &dispatch.RequestError{Class: dispatch.ClassParticipantMissing, Field: "uniqueId", Message: "uniqueId not specified"})
		return
	}
	if _, err := s.store.Participant(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, &dispatch.RequestError{Class: dispatch.ClassParticipantNotFound, Field: "uniqueId", Message: "participant not found"})
			return
		}
		writeError(w, err)
		return
	}

	changed, err := mark(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if !changed {
		slog.Info("participant already terminal, status kept", "participant", models.ShortID(id), "path", r.URL.Path)
	}
	writeSuccess(w, "", nil)
}

// Summary reports how many participants hold each status.
func (s *Server) Summary(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.StatusSummary(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, "summary", counts)
}

// Quitter acknowledges a participant leaving early. Nothing changes until
// the platform reports the assignment returned or abandoned.
func (s *Server) Quitter(w http.ResponseWriter, r *http.Request) {
	slog.Info("quitter route was hit")
	writeSuccess(w, "", nil)
}

// Health reports whether the store answers.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DB().PingContext(r.Context()); err != nil {
		writeError(w, fmt.Errorf("ping store: %w", err))
		return
	}
	writeSuccess(w, "", nil)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code,
			"duration", time.Since(start),
		)
	})
}

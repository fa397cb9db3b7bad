package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/carmandale/aims-compliance/internal/log"
	"github.com/carmandale/aims-compliance/pkg/models"
	"github.com/carmandale/aims-compliance/pkg/service"
	"github.com/carmandale/aims-compliance/pkg/storage"
)

// Services bundles the engine services the HTTP surface exposes.
type Services struct {
	Templates  *service.TemplateService
	Generator  *service.GeneratorService
	Lifecycle  *service.LifecycleService
	Compliance *service.ComplianceService
	Gate       *service.GateService
}

// NewServices wires the engine over a store, connecting the lifecycle
// service to the compliance snapshot cache.
func NewServices(store storage.Store) Services {
	logger := log.GetLogger()
	compliance := service.NewComplianceService(store, logger)
	return Services{
		Templates:  service.NewTemplateService(store, logger),
		Generator:  service.NewGeneratorService(store, logger),
		Lifecycle:  service.NewLifecycleService(store, logger, compliance),
		Compliance: compliance,
		Gate:       service.NewGateService(compliance, logger),
	}
}

// NewMux registers all handlers on a fresh mux.
func NewMux(svcs Services) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/templates", TemplatesHandler(svcs))
	mux.HandleFunc("/generate", GenerateHandler(svcs))
	mux.HandleFunc("/tasks", TasksHandler(svcs))
	mux.HandleFunc("/tasks/transition", TransitionHandler(svcs))
	mux.HandleFunc("/gate", GateHandler(svcs))
	mux.HandleFunc("/compliance", ComplianceHandler(svcs))
	mux.HandleFunc("/trend", TrendHandler(svcs))
	return mux
}

func StartServer(port string, store storage.Store) error {
	mux := NewMux(NewServices(store))
	log.GetLogger().Infof("Starting compliance engine server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "Compliance engine is running")
}

func TemplatesHandler(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			activeOnly := r.URL.Query().Get("active_only") == "true"
			templates, err := svcs.Templates.ListTemplates(activeOnly)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, templates)
		case http.MethodPost:
			priority, _ := strconv.Atoi(r.FormValue("priority"))
			estimated, _ := strconv.Atoi(r.FormValue("estimated_minutes"))
			t := models.TaskTemplate{
				Name:             r.FormValue("name"),
				Description:      r.FormValue("description"),
				Recurrence:       r.FormValue("recurrence"),
				IsBlocking:       r.FormValue("is_blocking") == "true",
				Category:         r.FormValue("category"),
				Priority:         priority,
				EstimatedMinutes: estimated,
				IsActive:         true,
			}
			id, err := svcs.Templates.CreateTemplate(t)
			if err != nil {
				writeError(w, err)
				return
			}
			writeJSON(w, http.StatusCreated, map[string]int64{"id": id})
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func GenerateHandler(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		from, err := dateOrToday(r.FormValue("from"))
		if err != nil {
			writeError(w, err)
			return
		}
		to, err := dateOrToday(r.FormValue("to"))
		if err != nil {
			writeError(w, err)
			return
		}
		report, err := svcs.Generator.Generate(from, to)
		var partial *service.GenerationPartialFailure
		if err != nil && !errors.As(err, &partial) {
			writeError(w, err)
			return
		}
		// A partial failure still returns the report; the failed template
		// ids are on it.
		writeJSON(w, http.StatusOK, report)
	}
}

func TasksHandler(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var filter storage.InstanceFilter
		if v := r.URL.Query().Get("from"); v != "" {
			from, err := time.Parse("2006-01-02", v)
			if err != nil {
				writeError(w, &service.ValidationError{Field: "from", Message: "invalid date", Hint: "use YYYY-MM-DD"})
				return
			}
			filter.DueFrom = &from
		}
		if v := r.URL.Query().Get("to"); v != "" {
			to, err := time.Parse("2006-01-02", v)
			if err != nil {
				writeError(w, &service.ValidationError{Field: "to", Message: "invalid date", Hint: "use YYYY-MM-DD"})
				return
			}
			filter.DueTo = &to
		}
		if v := r.URL.Query().Get("status"); v != "" {
			filter.Statuses = []models.InstanceStatus{models.InstanceStatus(v)}
		}
		if r.URL.Query().Get("blocking_only") == "true" {
			filter.BlockingOnly = true
		}
		tasks, err := svcs.Lifecycle.ListInstances(filter)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)
	}
}

func TransitionHandler(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id, err := strconv.ParseInt(r.FormValue("id"), 10, 64)
		if err != nil {
			writeError(w, &service.ValidationError{Field: "id", Message: "invalid task id", Hint: "pass the numeric instance id"})
			return
		}
		actor := r.FormValue("actor")
		switch r.FormValue("action") {
		case "start":
			err = svcs.Lifecycle.Start(id, actor)
		case "complete":
			err = svcs.Lifecycle.Complete(id, actor, r.FormValue("notes"))
		case "skip":
			err = svcs.Lifecycle.Skip(id, actor, r.FormValue("reason"))
		case "uncomplete":
			err = svcs.Lifecycle.Uncomplete(id, actor, r.FormValue("confirm") == "true", r.FormValue("notes"))
		default:
			writeError(w, &service.ValidationError{Field: "action", Message: "unknown action",
				Hint: "action must be start, complete, skip or uncomplete"})
			return
		}
		if err != nil {
			writeError(w, err)
			return
		}
		task, err := svcs.Lifecycle.GetInstance(id)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

func GateHandler(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		asOf, err := dateOrToday(r.URL.Query().Get("as_of"))
		if err != nil {
			writeError(w, err)
			return
		}
		status, err := svcs.Gate.CanCloseCycle(asOf)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, status)
	}
}

func ComplianceHandler(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, err := dateOrToday(r.URL.Query().Get("start"))
		if err != nil {
			writeError(w, err)
			return
		}
		end, err := dateOrToday(r.URL.Query().Get("end"))
		if err != nil {
			writeError(w, err)
			return
		}
		snap, err := svcs.Compliance.Metrics(start, end)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func TrendHandler(svcs Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		weeks := 4
		if v := r.URL.Query().Get("weeks"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeError(w, &service.ValidationError{Field: "weeks", Message: "invalid number", Hint: "pass an integer number of weeks"})
				return
			}
			weeks = n
		}
		asOf, err := dateOrToday(r.URL.Query().Get("as_of"))
		if err != nil {
			writeError(w, err)
			return
		}
		trend, err := svcs.Compliance.Trend(weeks, asOf)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, trend)
	}
}

func dateOrToday(v string) (time.Time, error) {
	if v == "" {
		return time.Now(), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, &service.ValidationError{Field: "date", Message: "invalid date", Hint: "use YYYY-MM-DD"}
	}
	return t, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.GetLogger().Errorf("Failed to encode response: %v", err)
	}
}

// writeError maps the engine's error taxonomy onto HTTP statuses:
// validation 400, unknown ids 404, transition conflicts 409, anything
// else 500.
func writeError(w http.ResponseWriter, err error) {
	var validationErr *service.ValidationError
	var transitionErr *service.InvalidTransitionError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &validationErr):
		status = http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.As(err, &transitionErr):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

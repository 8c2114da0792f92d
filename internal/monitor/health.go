package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"iotc-agent/internal/db"
)

var jsonStd = jsoniter.ConfigCompatibleWithStandardLibrary

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status  string            `json:"status"`
	Message string            `json:"message,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// RemoteStatus reports whether the management session is up.
type RemoteStatus interface {
	IsAlive() bool
}

// Pinger is satisfied by db.DBManager.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CommandLister is satisfied by db.Journal.
type CommandLister interface {
	Recent(ctx context.Context, limit int) ([]db.CommandRecord, error)
}

// Options selects what the monitor serves. Nil fields disable the matching
// check or endpoint.
type Options struct {
	Remote   RemoteStatus
	Database Pinger
	Journal  CommandLister
	Gatherer prometheus.Gatherer
	Feed     http.Handler
}

// NewServer builds the monitor HTTP server on its own mux.
func NewServer(addr string, opts Options, logger *zap.SugaredLogger) *http.Server {
	mux := http.NewServeMux()

	// --- Liveness ---
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, HealthResponse{
			Status:  "alive",
			Message: "Agent is running",
		})
	})

	// --- Readiness ---
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		healthDetails := make(map[string]string)
		var failing []string

		if opts.Remote != nil {
			if !opts.Remote.IsAlive() {
				healthDetails["remote_session"] = "unhealthy"
				failing = append(failing, "remote session down")
			} else {
				healthDetails["remote_session"] = "healthy"
			}
		}

		if opts.Database != nil {
			if err := opts.Database.Ping(ctx); err != nil {
				healthDetails["command_journal"] = "unhealthy"
				failing = append(failing, fmt.Sprintf("journal unhealthy: %v", err))
			} else {
				healthDetails["command_journal"] = "healthy"
			}
		}

		statusCode := http.StatusOK
		statusMsg := "ready"
		if len(failing) > 0 {
			statusCode = http.StatusServiceUnavailable
			statusMsg = fmt.Sprintf("%d component(s) failing", len(failing))
		}
		writeJSON(w, statusCode, HealthResponse{
			Status:  statusMsg,
			Details: healthDetails,
		})
	})

	if opts.Gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	if opts.Journal != nil {
		mux.HandleFunc("/commands", func(w http.ResponseWriter, r *http.Request) {
			limit := 20
			if s := r.URL.Query().Get("limit"); s != "" {
				n, err := strconv.Atoi(s)
				if err != nil || n <= 0 || n > 500 {
					http.Error(w, "invalid limit", http.StatusBadRequest)
					return
				}
				limit = n
			}
			records, err := opts.Journal.Recent(r.Context(), limit)
			if err != nil {
				logger.Errorw("failed to list commands", "error", err)
				http.Error(w, "journal unavailable", http.StatusServiceUnavailable)
				return
			}
			if records == nil {
				records = []db.CommandRecord{}
			}
			writeJSON(w, http.StatusOK, records)
		})
	}

	// --- WebSocket feed ---
	if opts.Feed != nil {
		mux.Handle("/ws", opts.Feed)
	}

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// Run serves srv until ctx is done, then shuts it down.
func Run(ctx context.Context, srv *http.Server, logger *zap.SugaredLogger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("starting monitor server on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("monitor server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnw("monitor server shutdown", "error", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = jsonStd.NewEncoder(w).Encode(v)
}

package exporter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polestar-community/polestar-go/pkg/cache"
	"github.com/polestar-community/polestar-go/pkg/connector/graphql"
	"github.com/polestar-community/polestar-go/pkg/sensor"
)

// ShutdownTimeout bounds graceful shutdown of the HTTP server.
var ShutdownTimeout = 5 * time.Second

// Response is the envelope of every JSON reply.
type Response struct {
	Response interface{} `json:"response"`
	Error    string      `json:"error,omitempty"`
}

// VehicleSummary describes a vehicle in the account.
type VehicleSummary struct {
	VIN             string `json:"vin"`
	Model           string `json:"model"`
	ModelYear       string `json:"model_year,omitempty"`
	RegistrationNo  string `json:"registration_no,omitempty"`
	SoftwareVersion string `json:"software_version,omitempty"`
}

// VehicleDetail adds current sensor values to a VehicleSummary. Sensors without a usable value are
// omitted; sensors whose payload is known to be empty are null.
type VehicleDetail struct {
	VehicleSummary
	Sensors map[string]interface{} `json:"sensors"`
}

// Status reports the health of the connection to the API.
type Status struct {
	Connected      bool           `json:"connected"`
	State          string         `json:"state"`
	TokenExpiresAt *time.Time     `json:"token_expires_at"`
	NextUpdate     *time.Time     `json:"next_update,omitempty"`
	Endpoints      map[string]int `json:"endpoints"`
	VINs           []string       `json:"vins"`
}

// Server exposes an account over HTTP.
type Server struct {
	server *http.Server
	acct   Account
}

// NewServer returns a Server listening on addr. Process-wide metrics are served alongside the
// account's sensor metrics.
func NewServer(addr string, acct Account) *Server {
	s := &Server{acct: acct}

	registry := prometheus.NewRegistry()
	registry.MustRegister(NewCollector(acct))
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer, registry}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/vehicles", s.handleVehicles).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{vin}", s.handleVehicle).Methods(http.MethodGet)
	api.HandleFunc("/vehicles/{vin}/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/vehicles/{vin}/{kind}/{path:.+}", s.handleField).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSONError(w, http.StatusNotFound, errors.New("not found"))
	})

	s.server = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	logger.Info("Starting HTTP server on %s", s.server.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, code int, reply Response) {
	body, err := json.Marshal(&reply)
	if err != nil {
		logger.Error("Failed to encode response: %s", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(body)
	w.Write([]byte("\n"))
}

func writeJSONError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, Response{Error: err.Error()})
}

func (s *Server) summary(vin string) (VehicleSummary, bool) {
	vehicle, ok := s.acct.Vehicle(vin)
	if !ok {
		return VehicleSummary{}, false
	}
	return VehicleSummary{
		VIN:             vehicle.VIN,
		Model:           vehicle.ModelName(),
		ModelYear:       vehicle.ModelYear(),
		RegistrationNo:  vehicle.RegistrationNo(),
		SoftwareVersion: vehicle.SoftwareVersion(),
	}, true
}

func (s *Server) handleVehicles(w http.ResponseWriter, r *http.Request) {
	vehicles := []VehicleSummary{}
	for _, vin := range s.acct.VINs() {
		if summary, ok := s.summary(vin); ok {
			vehicles = append(vehicles, summary)
		}
	}
	writeJSON(w, http.StatusOK, Response{Response: vehicles})
}

func (s *Server) handleVehicle(w http.ResponseWriter, r *http.Request) {
	vin := mux.Vars(r)["vin"]
	summary, ok := s.summary(vin)
	if !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("unknown vin %s", vin))
		return
	}
	detail := VehicleDetail{VehicleSummary: summary, Sensors: make(map[string]interface{})}
	for _, sn := range sensor.All() {
		switch value, status := sensor.Read(s.acct, summary.VIN, sn); status {
		case cache.Found:
			detail.Sensors[sn.Key] = value
		case cache.Empty:
			detail.Sensors[sn.Key] = nil
		}
	}
	writeJSON(w, http.StatusOK, Response{Response: detail})
}

func (s *Server) handleField(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	vin := vars["vin"]
	if _, ok := s.acct.Vehicle(vin); !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("unknown vin %s", vin))
		return
	}
	kind, err := cache.ParseKind(vars["kind"])
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err)
		return
	}
	skipTTL, _ := strconv.ParseBool(r.URL.Query().Get("skip_ttl"))

	value, status := s.acct.GetValue(vin, kind, vars["path"], skipTTL)
	switch status {
	case cache.Found:
		writeJSON(w, http.StatusOK, Response{Response: value})
	case cache.Empty:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("no current value for %s/%s", kind, vars["path"]))
	}
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	vin := mux.Vars(r)["vin"]
	if _, ok := s.acct.Vehicle(vin); !ok {
		writeJSONError(w, http.StatusNotFound, fmt.Errorf("unknown vin %s", vin))
		return
	}
	s.acct.Refresh(r.Context(), vin)
	writeJSON(w, http.StatusAccepted, Response{Response: s.status()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Response: s.status()})
}

func (s *Server) status() Status {
	status := Status{
		Connected: s.acct.Connected(),
		State:     s.acct.State(),
		Endpoints: make(map[string]int),
		VINs:      s.acct.VINs(),
	}
	if expiry, ok := s.acct.TokenExpiry(); ok {
		status.TokenExpiresAt = &expiry
	}
	if next := s.acct.NextUpdate(); !next.IsZero() {
		status.NextUpdate = &next
	}
	for _, endpoint := range []string{graphql.BaseURL, graphql.BaseURLV2, graphql.AuthURL} {
		if code, ok := s.acct.LastCallStatus(endpoint); ok {
			status.Endpoints[endpoint] = code
		}
	}
	return status
}

// Package api serves the local operator surface: acquisition mode control,
// port discovery, and status/warning inspection. It is a LAN-facing
// convenience, not part of the coordination protocol.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/banshee-data/rangewarn/internal/acquisition"
	"github.com/banshee-data/rangewarn/internal/httputil"
	"github.com/banshee-data/rangewarn/internal/realtime"
	"github.com/banshee-data/rangewarn/internal/store"
	"github.com/banshee-data/rangewarn/internal/version"
	"github.com/banshee-data/rangewarn/internal/warning"
)

type Server struct {
	client  *realtime.Client
	manager *acquisition.Manager
	db      *store.DB
}

func NewServer(client *realtime.Client, manager *acquisition.Manager, db *store.DB) *Server {
	return &Server{
		client:  client,
		manager: manager,
		db:      db,
	}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.statusHandler)
	mux.HandleFunc("/ports", s.listPorts)
	mux.HandleFunc("/mode", s.setModeHandler)
	mux.HandleFunc("/simulate", s.simulateHandler)
	mux.HandleFunc("/warnings", s.listWarnings)
	return mux
}

// statusResponse aggregates the protocol client and acquisition state.
type statusResponse struct {
	realtime.Status
	Mode      string `json:"mode"`
	OpenPorts int    `json:"open_ports"`
	Warnings  int    `json:"warnings"`
	Version   string `json:"version"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	count, err := s.db.Count()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to count warnings: %v", err))
		return
	}

	httputil.WriteJSONOK(w, statusResponse{
		Status:    s.client.Status(),
		Mode:      s.manager.Mode().String(),
		OpenPorts: s.manager.OpenCount(),
		Warnings:  count,
		Version:   version.String(),
	})
}

func (s *Server) listPorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	ports, err := s.manager.AvailablePorts()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list ports: %v", err))
		return
	}
	if ports == nil {
		ports = []string{}
	}
	httputil.WriteJSONOK(w, map[string][]string{"ports": ports})
}

type modeRequest struct {
	Mode string `json:"mode"`
	Port string `json:"port"`
}

func (s *Server) setModeHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req modeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	switch req.Mode {
	case "idle":
		s.manager.SetIdle()
	case "simulation":
		s.manager.SetSimulation()
	case "single":
		if req.Port == "" {
			httputil.BadRequest(w, "port is required for single mode")
			return
		}
		s.manager.SetSinglePort(req.Port)
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown mode %q", req.Mode))
		return
	}

	log.Printf("acquisition mode set to %s via API", req.Mode)
	httputil.WriteJSONOK(w, map[string]string{"mode": s.manager.Mode().String()})
}

type simulateRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) simulateHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req simulateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}

	s.client.SetErrorSimulation(req.Enabled)
	httputil.WriteJSONOK(w, map[string]bool{"error_simulation": s.client.ErrorSimulation()})
}

func (s *Server) listWarnings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	records, err := s.db.Records()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve warnings: %v", err))
		return
	}
	if records == nil {
		records = []warning.Record{}
	}
	httputil.WriteJSONOK(w, records)
}

package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"batchwand/internal/proc"
	"batchwand/internal/rename"
	"batchwand/internal/storage"
)

// RunDetailResponse joins a run record with its result meta and per-item
// outcomes.
type RunDetailResponse struct {
	Run   storage.RunRecord    `json:"run"`
	Meta  map[string]any       `json:"meta,omitempty"`
	Items []storage.ItemRecord `json:"items,omitempty"`
}

// RunItemsResponse lists the per-item outcomes of a run.
type RunItemsResponse struct {
	Items []storage.ItemRecord `json:"items"`
	Count int                  `json:"count"`
}

// CommandsResponse lists the registered procedures and conditions with
// their declared parameters.
type CommandsResponse struct {
	Procedures []CommandInfo `json:"procedures"`
	Conditions []CommandInfo `json:"conditions"`
}

// CommandInfo describes one registered command.
type CommandInfo struct {
	Name   string      `json:"name"`
	Params []ParamInfo `json:"params,omitempty"`
}

// ParamInfo describes one declared command parameter. Placeholder defaults
// are resolved against the live run, so recipes set them by name.
type ParamInfo struct {
	Name        string `json:"name"`
	Default     any    `json:"default"`
	Placeholder bool   `json:"placeholder,omitempty"`
}

// FieldsResponse lists the name pattern fields per run kind.
type FieldsResponse struct {
	Images []string `json:"images"`
	Layers []string `json:"layers"`
}

// setupDetailRoutes adds run introspection endpoints.
func (s *Server) setupDetailRoutes(r *mux.Router) {
	r.HandleFunc("/runs/{id}", s.handleRunDetail).Methods("GET")
	r.HandleFunc("/runs/{id}/items", s.handleRunItems).Methods("GET")
	r.HandleFunc("/commands", s.handleCommands).Methods("GET")
	r.HandleFunc("/fields", s.handleFields).Methods("GET")
}

// handleRunDetail returns one run with everything recorded about it.
func (s *Server) handleRunDetail(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := s.store.Run(id)
	if errors.Is(err, storage.ErrRunNotFound) {
		http.Error(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := RunDetailResponse{Run: rec}
	if meta, err := s.store.RunMeta(id); err == nil {
		response.Meta = meta
	}
	if items, err := s.store.RunItems(id); err == nil {
		response.Items = items
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleRunItems returns the per-item outcomes of a run.
func (s *Server) handleRunItems(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	items, err := s.store.RunItems(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	response := RunItemsResponse{
		Items: items,
		Count: len(items),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleCommands returns the registered procedures and conditions.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	var response CommandsResponse
	for _, p := range proc.RegisteredProcedures() {
		response.Procedures = append(response.Procedures, commandInfo(p.Name, p.Params))
	}
	for _, c := range proc.RegisteredConditions() {
		response.Conditions = append(response.Conditions, commandInfo(c.Name, c.Params))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func commandInfo(name string, params []proc.Param) CommandInfo {
	info := CommandInfo{Name: name}
	for _, p := range params {
		param := ParamInfo{Name: p.Name, Default: p.Default}
		if ph, ok := p.Default.(proc.Placeholder); ok {
			param.Default = string(ph)
			param.Placeholder = true
		}
		info.Params = append(info.Params, param)
	}
	return info
}

// handleFields returns the fields available to name patterns.
func (s *Server) handleFields(w http.ResponseWriter, r *http.Request) {
	response := FieldsResponse{
		Images: rename.FieldNames(rename.ForImages),
		Layers: rename.FieldNames(rename.ForLayers),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

package web

import (
	"encoding/json"
	"net/http"
	"strconv"

	"filebridge/internal/mapping"
	"filebridge/internal/pipeline"
	"filebridge/internal/source"

	"github.com/go-chi/chi/v5"
)

// handleListMappings returns the active mapping of every client.
func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	active, err := s.mappings.ListActive(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if active == nil {
		active = []mapping.Config{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"mappings": active})
}

// handleGetMapping returns a client's active config plus version history.
func (s *Server) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	clientCode := chi.URLParam(r, "clientCode")

	versions, err := s.mappings.ListVersions(r.Context(), clientCode)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var active *mapping.Config
	for i := range versions {
		if versions[i].Active {
			active = &versions[i]
			break
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"client_code": clientCode,
		"active":      active,
		"versions":    versions,
	})
}

type createMappingRequest struct {
	ClientCode string           `json:"client_code"`
	FieldMap   mapping.FieldMap `json:"field_map"`
	Rules      mapping.Rules    `json:"validation_rules"`
	Activate   bool             `json:"activate"`
}

// handleCreateMapping stores a new mapping version. The config must compile
// and its rules must reference known type checks; a version that activates
// replaces the client's previous active version atomically.
func (s *Server) handleCreateMapping(w http.ResponseWriter, r *http.Request) {
	var req createMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, r, "invalid_json", "request body is not valid JSON")
		return
	}

	cfg := mapping.Config{
		ClientCode: req.ClientCode,
		FieldMap:   req.FieldMap,
		Rules:      req.Rules,
	}
	if _, err := mapping.Compile(&cfg); err != nil {
		s.badRequest(w, r, "invalid_mapping", err.Error())
		return
	}
	for field, rule := range req.Rules {
		if rule.Type != "" && !pipeline.KnownRuleType(rule.Type) {
			s.badRequest(w, r, "unknown_rule_type",
				"field "+field+": unknown type check "+strconv.Quote(rule.Type))
			return
		}
	}

	created, err := s.mappings.Create(r.Context(), cfg, req.Activate)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if req.Activate {
		if err := s.registry.Reload(r.Context()); err != nil {
			s.log.Error("registry reload after create failed", "error", err)
		}
	}

	respondJSON(w, http.StatusCreated, created)
}

// handleActivateMapping switches the active version for a client.
func (s *Server) handleActivateMapping(w http.ResponseWriter, r *http.Request) {
	clientCode := chi.URLParam(r, "clientCode")
	version, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil {
		s.badRequest(w, r, "invalid_version", "version must be an integer")
		return
	}

	if err := s.mappings.Activate(r.Context(), clientCode, version); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.registry.Reload(r.Context()); err != nil {
		s.log.Error("registry reload after activate failed", "error", err)
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"client_code": clientCode,
		"version":     version,
		"active":      true,
	})
}

type testMappingRequest struct {
	Row source.Row `json:"row"`
}

// handleTestMapping dry-runs the client's active mapping against one sample
// raw row: the response carries the transformed record and the validation
// verdict. Nothing is delivered or recorded.
func (s *Server) handleTestMapping(w http.ResponseWriter, r *http.Request) {
	clientCode := chi.URLParam(r, "clientCode")

	var req testMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.badRequest(w, r, "invalid_json", "request body is not valid JSON")
		return
	}
	if len(req.Row) == 0 {
		s.badRequest(w, r, "missing_row", "body must carry a sample row")
		return
	}

	compiled, err := s.registry.Resolve(clientCode)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rec, terr := pipeline.Transform(req.Row, compiled)
	if terr != nil {
		respondJSON(w, http.StatusOK, map[string]any{
			"ok":     false,
			"stage":  pipeline.StageParsed,
			"detail": terr.Error(),
		})
		return
	}

	result := map[string]any{
		"ok":     true,
		"stage":  pipeline.StageValidated,
		"record": rec,
	}
	if verr := pipeline.Validate(rec, compiled.Rules); verr != nil {
		result["ok"] = false
		result["stage"] = pipeline.StageTransformed
		result["violations"] = verr.Violations
	}
	respondJSON(w, http.StatusOK, result)
}

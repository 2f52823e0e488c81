package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/veridata/fieldgate/pkg/engine"
	"github.com/veridata/fieldgate/pkg/httputil"
	"github.com/veridata/fieldgate/pkg/storage"
)

// createResource handles POST /api/v1/{resourceType}
func (s *Server) createResource(w http.ResponseWriter, r *http.Request) {
	a, err := actorFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var data map[string]interface{}
	if !httputil.ParseJSONOrError(w, r, &data) {
		return
	}

	resourceType := mux.Vars(r)["resourceType"]
	record, err := s.engine.Create(r.Context(), a, resourceType, data, requestContextFromRequest(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	httputil.WriteCreated(w, record)
}

// getResource handles GET /api/v1/{resourceType}/{id}
func (s *Server) getResource(w http.ResponseWriter, r *http.Request) {
	a, err := actorFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	vars := mux.Vars(r)
	record, err := s.engine.Get(r.Context(), a, vars["resourceType"], vars["id"], requestContextFromRequest(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	httputil.WriteSuccess(w, record)
}

// listResources handles GET /api/v1/{resourceType}. Query parameters become
// field equality conditions; the actor's row filter is applied on top by the
// engine.
func (s *Server) listResources(w http.ResponseWriter, r *http.Request) {
	a, err := actorFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filter := make(storage.Filter)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			filter[key] = values[0]
		}
	}

	resourceType := mux.Vars(r)["resourceType"]
	records, err := s.engine.List(r.Context(), a, resourceType, filter, requestContextFromRequest(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	httputil.WriteSuccess(w, map[string]interface{}{
		"items": records,
		"count": len(records),
	})
}

// updateResource handles PUT/PATCH /api/v1/{resourceType}/{id}
func (s *Server) updateResource(w http.ResponseWriter, r *http.Request) {
	a, err := actorFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var patch map[string]interface{}
	if !httputil.ParseJSONOrError(w, r, &patch) {
		return
	}

	vars := mux.Vars(r)
	record, err := s.engine.Update(r.Context(), a, vars["resourceType"], vars["id"], patch, requestContextFromRequest(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	httputil.WriteSuccess(w, record)
}

// deleteResource handles DELETE /api/v1/{resourceType}/{id}
func (s *Server) deleteResource(w http.ResponseWriter, r *http.Request) {
	a, err := actorFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	vars := mux.Vars(r)
	if err := s.engine.Delete(r.Context(), a, vars["resourceType"], vars["id"], requestContextFromRequest(r)); err != nil {
		s.writeEngineError(w, err)
		return
	}

	httputil.WriteNoContent(w)
}

// eraseResource handles POST /api/v1/{resourceType}/{id}/erase
func (s *Server) eraseResource(w http.ResponseWriter, r *http.Request) {
	a, err := actorFromRequest(r)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	vars := mux.Vars(r)
	result, err := s.engine.Erase(r.Context(), a, vars["resourceType"], vars["id"], requestContextFromRequest(r))
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	httputil.WriteSuccess(w, result)
}

// writeEngineError maps pipeline errors onto HTTP statuses. Responses stay
// generic: a denial never reveals whether the record exists or which rule
// fired. Validation errors may name fields, which belong to the declared
// schema, never values.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	var validationErr *engine.ValidationError

	switch {
	case errors.Is(err, engine.ErrForbidden):
		httputil.WriteForbidden(w, "forbidden")
	case errors.Is(err, engine.ErrConsentRequired):
		httputil.WriteErrorMessage(w, http.StatusUnprocessableEntity, "consent required")
	case errors.As(err, &validationErr):
		httputil.WriteBadRequest(w, validationErr.Error())
	case errors.Is(err, engine.ErrValidation):
		httputil.WriteBadRequest(w, "validation failed")
	case errors.Is(err, engine.ErrNotFound):
		httputil.WriteNotFoundError(w, "not found")
	case errors.Is(err, engine.ErrConflict):
		httputil.WriteConflict(w, "conflict, retry the request")
	default:
		s.logger.WithError(err).Error("request failed")
		httputil.WriteErrorMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

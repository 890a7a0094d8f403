package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/wolfeidau/qrtrack/internal/lifecycle"
	"github.com/wolfeidau/qrtrack/internal/models"
)

// CreateRequest is the body of POST /api/assets.
type CreateRequest struct {
	Code string `json:"code"`
}

// CreateBulkRequest is the body of POST /api/assets/bulk.
type CreateBulkRequest struct {
	Codes []string `json:"codes"`
}

// ActivateRequest is the body of POST /api/assets/activate.
type ActivateRequest struct {
	Code string `json:"code"`
}

// CompleteRequest is the body of POST /api/assets/complete.
type CompleteRequest struct {
	AssetID string `json:"assetId"`
	Notes   string `json:"notes,omitempty"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request, actor models.Principal) {
	var req CreateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, lifecycle.ReasonInvalidArgument, err.Error())
		return
	}
	writeOutcome(w, r, http.StatusCreated, "asset created", s.svc.Create(r.Context(), actor, req.Code))
}

func (s *Server) handleCreateBulk(w http.ResponseWriter, r *http.Request, actor models.Principal) {
	var req CreateBulkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, lifecycle.ReasonInvalidArgument, err.Error())
		return
	}
	out := s.svc.CreateBulk(r.Context(), actor, req.Codes)
	writeOutcome(w, r, http.StatusCreated, fmt.Sprintf("%d assets created", len(out.Value())), out)
}

func (s *Server) handleActivate(w http.ResponseWriter, r *http.Request, actor models.Principal) {
	var req ActivateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, lifecycle.ReasonInvalidArgument, err.Error())
		return
	}
	writeOutcome(w, r, http.StatusOK, "asset activated", s.svc.Activate(r.Context(), actor, req.Code))
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request, actor models.Principal) {
	var req CompleteRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, lifecycle.ReasonInvalidArgument, err.Error())
		return
	}
	id, err := uuid.Parse(req.AssetID)
	if err != nil {
		writeError(w, r, lifecycle.ReasonInvalidArgument, "assetId must be a uuid")
		return
	}
	writeOutcome(w, r, http.StatusOK, "asset completed", s.svc.Complete(r.Context(), actor, id, req.Notes))
}

func (s *Server) handleListAll(w http.ResponseWriter, r *http.Request, actor models.Principal) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, lifecycle.ReasonInvalidArgument, err.Error())
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, lifecycle.ReasonInvalidArgument, err.Error())
		return
	}
	writeOutcome(w, r, http.StatusOK, "assets", s.svc.ListAll(r.Context(), actor, limit, offset))
}

func (s *Server) handleListInactive(w http.ResponseWriter, r *http.Request, actor models.Principal) {
	writeOutcome(w, r, http.StatusOK, "inactive assets", s.svc.ListInactive(r.Context(), actor))
}

func (s *Server) handleListMine(w http.ResponseWriter, r *http.Request, actor models.Principal) {
	writeOutcome(w, r, http.StatusOK, "assets in your custody", s.svc.ListMine(r.Context(), actor))
}

func (s *Server) handleListByStatus(w http.ResponseWriter, r *http.Request, actor models.Principal) {
	status, err := models.ParseStatus(r.PathValue("status"))
	if err != nil {
		writeError(w, r, lifecycle.ReasonInvalidArgument, err.Error())
		return
	}
	writeOutcome(w, r, http.StatusOK, status.String()+" assets", s.svc.ListByStatus(r.Context(), actor, status))
}

func (s *Server) handleGetByCode(w http.ResponseWriter, r *http.Request, actor models.Principal) {
	writeOutcome(w, r, http.StatusOK, "asset", s.svc.GetByCode(r.Context(), actor, r.PathValue("code")))
}

func (s *Server) handleDetails(w http.ResponseWriter, r *http.Request, actor models.Principal) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	writeOutcome(w, r, http.StatusOK, "asset details", s.svc.Details(r.Context(), actor, id))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request, actor models.Principal) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	writeOutcome(w, r, http.StatusOK, "asset history", s.svc.History(r.Context(), actor, id))
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, lifecycle.ReasonInvalidArgument, "asset id must be a uuid")
		return uuid.Nil, false
	}
	return id, true
}

// queryInt returns 0 when the parameter is absent so paging defaults apply.
func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

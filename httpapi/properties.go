package httpapi

import (
	"net/http"

	"github.com/chigozirigeorge/verinest/property"
	"github.com/chigozirigeorge/verinest/verrors"
)

func (s *Server) handleCreateProperty(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	var listing property.Listing
	if err := readJSON(r, &listing); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	if listing.LandlordID != identity.UserID {
		writeError(w, verrors.New(verrors.KindUnauthorized, "landlord_id must match the caller"))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	prop, err := s.Property.CreateProperty(ctx, listing)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, prop)
}

func (s *Server) handleGetProperty(w http.ResponseWriter, r *http.Request) {
	propertyID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	prop, err := s.Property.GetProperty(ctx, propertyID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prop)
}

type approveRequest struct {
	Notes string `json:"notes"`
}

func (s *Server) handleAgentApprove(w http.ResponseWriter, r *http.Request) {
	propertyID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	var req approveRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	prop, err := s.Property.AgentApprove(ctx, propertyID, identity.UserID, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prop)
}

func (s *Server) handleLawyerApprove(w http.ResponseWriter, r *http.Request) {
	propertyID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	var req approveRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	prop, err := s.Property.LawyerApprove(ctx, propertyID, identity.UserID, req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prop)
}

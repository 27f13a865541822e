package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/chigozirigeorge/verinest/verrors"
)

type createJobRequest struct {
	EmployerID               uuid.UUID `json:"employer_id"`
	Category                 string    `json:"category"`
	Title                    string    `json:"title"`
	Description              string    `json:"description"`
	Budget                   int64     `json:"budget"`
	PlatformFee              int64     `json:"platform_fee"`
	EstimatedDurationDays    *int32    `json:"estimated_duration_days"`
	PartialPaymentAllowed    bool      `json:"partial_payment_allowed"`
	PartialPaymentPercentage *int32    `json:"partial_payment_percentage"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	var req createJobRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	if req.EmployerID != identity.UserID {
		writeError(w, verrors.New(verrors.KindUnauthorized, "employer_id must match the caller"))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	job, err := s.Labor.CreateJob(ctx, req.EmployerID, req.Category, req.Title, req.Description,
		req.Budget, req.PlatformFee, req.EstimatedDurationDays, req.PartialPaymentAllowed, req.PartialPaymentPercentage, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	job, err := s.Labor.GetJob(ctx, jobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type assignWorkerRequest struct {
	WorkerID         uuid.UUID `json:"worker_id"`
	EmployerWalletID uuid.UUID `json:"employer_wallet_id"`
}

func (s *Server) handleAssignWorker(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	var req assignWorkerRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	job, err := s.Labor.AssignWorker(ctx, jobID, identity.UserID, req.WorkerID, req.EmployerWalletID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type submitProgressRequest struct {
	Percentage  int32    `json:"percentage"`
	Description string   `json:"description"`
	Images      []string `json:"images"`
}

func (s *Server) handleSubmitProgress(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	var req submitProgressRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	job, err := s.Labor.SubmitProgress(ctx, jobID, identity.UserID, req.Percentage, req.Description, req.Images)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type completeJobRequest struct {
	Rating int32 `json:"rating"`
}

func (s *Server) handleCompleteJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	var req completeJobRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	job, err := s.Labor.Complete(ctx, jobID, identity.UserID, req.Rating)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type openDisputeRequest struct {
	Reason      string   `json:"reason"`
	Description string   `json:"description"`
	Evidence    []string `json:"evidence"`
}

func (s *Server) handleOpenJobDispute(w http.ResponseWriter, r *http.Request) {
	jobID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	var req openDisputeRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	dispute, err := s.Labor.OpenDispute(ctx, jobID, identity.UserID, req.Reason, req.Description, req.Evidence)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, dispute)
}

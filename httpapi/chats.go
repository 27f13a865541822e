package httpapi

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/chigozirigeorge/verinest/chatdb"
	"github.com/chigozirigeorge/verinest/verrors"
)

type createChatRequest struct {
	OtherUserID uuid.UUID  `json:"other_user_id"`
	JobID       *uuid.UUID `json:"job_id"`
}

func (s *Server) handleCreateOrGetChat(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	var req createChatRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	chat, err := s.Chat.CreateOrGetChat(ctx, identity.UserID, req.OtherUserID, req.JobID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) handleListUserChats(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	page, limit := pageAndLimit(r)
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	chats, err := s.Chat.ListUserChats(ctx, identity.UserID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

type sendMessageRequest struct {
	Kind     chatdb.MessageKind      `json:"kind"`
	Body     string                  `json:"body"`
	Metadata map[string]interface{} `json:"metadata"`
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	var req sendMessageRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	msg, err := s.Chat.SendMessage(ctx, chatID, identity.UserID, req.Kind, req.Body, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	page, limit := pageAndLimit(r)
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	messages, err := s.Chat.ListMessages(ctx, chatID, identity.UserID, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

type proposeContractRequest struct {
	JobID        uuid.UUID `json:"job_id"`
	Rate         int64     `json:"rate"`
	TimelineDays int32     `json:"timeline_days"`
	Terms        string    `json:"terms"`
}

func (s *Server) handleProposeContract(w http.ResponseWriter, r *http.Request) {
	chatID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	var req proposeContractRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	msg, proposal, err := s.Chat.ProposeContract(ctx, chatID, identity.UserID, req.JobID, req.Rate, req.TimelineDays, req.Terms)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"message": msg, "proposal": proposal})
}

type respondToProposalRequest struct {
	EmployerWalletID uuid.UUID `json:"employer_wallet_id"`
	Accept           bool      `json:"accept"`
}

func (s *Server) handleRespondToProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	var req respondToProposalRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	proposal, err := s.Chat.RespondToProposal(ctx, proposalID, identity.UserID, req.EmployerWalletID, req.Accept)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposal)
}

func pageAndLimit(r *http.Request) (int, int) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}
	return page, limit
}

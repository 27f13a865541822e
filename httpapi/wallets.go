package httpapi

import (
	"net/http"

	"github.com/chigozirigeorge/verinest/verrors"
)

func (s *Server) handleGetWalletByOwner(w http.ResponseWriter, r *http.Request) {
	ownerID, err := pathUUID(r, "ownerID")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	if ownerID != identity.UserID {
		writeError(w, verrors.New(verrors.KindUnauthorized, "caller may only read their own wallet"))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	wallet, err := s.Ledger.GetWalletByOwner(ctx, ownerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

package httpapi

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/chigozirigeorge/verinest/walletdb"

	"github.com/chigozirigeorge/verinest/verrors"
)

// settledStatuses covers both gateways' own vocabulary for "money has
// landed" — Paystack reports "success", Flutterwave "successful" — so
// a single check here does not need to know which backend is active.
var settledStatuses = map[string]bool{
	"success":    true,
	"successful": true,
}

type initializePaymentRequest struct {
	Email      string                 `json:"email"`
	AmountKobo int64                  `json:"amount_kobo"`
	Reference  string                 `json:"reference"`
	Method     string                 `json:"method"`
	Metadata   map[string]interface{} `json:"metadata"`
}

func (s *Server) handleInitializePayment(w http.ResponseWriter, r *http.Request) {
	var req initializePaymentRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	result, err := s.Provider.Initialize(ctx, req.Email, req.AmountKobo, req.Reference, req.Method, req.Metadata)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleVerifyPayment(w http.ResponseWriter, r *http.Request) {
	reference := mux.Vars(r)["reference"]
	identity, _ := identityFromContext(r.Context())
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	result, err := s.Provider.Verify(ctx, reference)
	if err != nil {
		writeError(w, err)
		return
	}
	if settledStatuses[result.Status] {
		wallet, err := s.Ledger.GetWalletByOwner(ctx, identity.UserID)
		if err != nil {
			writeError(w, err)
			return
		}
		// Reference is the ledger's own idempotency key (walletdb.CreditTx
		// rejects a duplicate reference), so a client retrying this
		// endpoint after the wallet was already credited is a no-op
		// rather than a double deposit.
		if _, err := s.Ledger.Credit(ctx, walletdb.CreditInput{
			WalletID:    wallet.ID,
			UserID:      identity.UserID,
			Amount:      result.AmountKobo,
			Type:        walletdb.TxDeposit,
			Reference:   reference,
			Description: "payment gateway deposit",
		}); err != nil && verrors.KindOf(err) != verrors.KindConflict {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, result)
}

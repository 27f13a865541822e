package httpapi

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/chigozirigeorge/verinest/orders"
	"github.com/chigozirigeorge/verinest/verrors"
)

type createOrderRequest struct {
	BuyerID      uuid.UUID           `json:"buyer_id"`
	ServiceID    uuid.UUID           `json:"service_id"`
	Quantity     int32               `json:"quantity"`
	DeliveryType orders.DeliveryType `json:"delivery_type"`
	DeliveryFee  int64               `json:"delivery_fee"`
	PlatformFee  int64               `json:"platform_fee"`
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFromContext(r.Context())
	var req createOrderRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, verrors.Wrap(verrors.KindValidation, "malformed request body", err))
		return
	}
	if req.BuyerID != identity.UserID {
		writeError(w, verrors.New(verrors.KindUnauthorized, "buyer_id must match the caller"))
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	order, err := s.Orders.CreateOrder(ctx, req.BuyerID, req.ServiceID, req.Quantity, req.DeliveryType, req.DeliveryFee, req.PlatformFee)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handlePayOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	order, err := s.Orders.Pay(ctx, orderID, identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleMarkDelivered(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	if err := s.Orders.MarkDelivered(ctx, orderID, identity.UserID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

func (s *Server) handleConfirmDelivery(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	order, err := s.Orders.ConfirmDelivery(ctx, orderID, identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	orderID, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	identity, _ := identityFromContext(r.Context())
	ctx, cancel := withTimeout(r.Context())
	defer cancel()
	order, err := s.Orders.Cancel(ctx, orderID, identity.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

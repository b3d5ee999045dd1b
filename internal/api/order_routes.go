package api

import (
	"net/http"

	"github.com/kjannette/swapdesk-backend/internal/apperr"
	"github.com/kjannette/swapdesk-backend/internal/auth"
	"github.com/kjannette/swapdesk-backend/internal/models"
)

func (s *Server) handleSwapOrder(w http.ResponseWriter, r *http.Request) {
	var intent models.SwapOrderIntent
	if err := decodeJSON(w, r, &intent); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.orders.Submit(r.Context(), auth.UserID(r.Context()), intent)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleSendFee checks the request type before looking the user up, and
// ownership only after the user is known to exist.
func (s *Server) handleSendFee(w http.ResponseWriter, r *http.Request) {
	var req models.FeeTransferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if req.Type != models.SideBuy {
		s.writeError(w, r, apperr.Validation("fee transfers are only made for buy orders"))
		return
	}
	userID, err := s.actingUser(r, req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	req.UserID = userID

	res, err := s.fees.Transfer(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

package api

import "net/http"

type userRequest struct {
	UserID string `json:"userId"`
}

type followRequest struct {
	UserID            string  `json:"userId"`
	Follow            bool    `json:"follow"`
	CopyTradingAmount float64 `json:"copyTradingAmount"`
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	userID, err := s.actingUser(r, r.PathValue("userId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	info, err := s.accounts.Wallet(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleWithdrawFee(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, err := s.actingUser(r, req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.accounts.WithdrawFee(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleUpdateFollow(w http.ResponseWriter, r *http.Request) {
	var req followRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	userID, err := s.actingUser(r, req.UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	out, err := s.accounts.UpdateFollow(r.Context(), userID, req.Follow, req.CopyTradingAmount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/tournevent/shipbroker/internal/wallet"
)

type walletResponse struct {
	UserID       string `json:"user_id"`
	Balance      string `json:"balance"`
	BalanceMinor int64  `json:"balance_minor"`
	Currency     string `json:"currency"`
	Version      int64  `json:"version"`
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	acct, err := s.Wallet.Account(r.Context(), principal(r).UserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, walletResponse{
		UserID:       acct.UserID,
		Balance:      wallet.FormatMinor(acct.Balance),
		BalanceMinor: acct.Balance,
		Currency:     "INR",
		Version:      acct.Version,
	})
}

func (s *Server) handleWalletTransactions(w http.ResponseWriter, r *http.Request) {
	limit := defaultPage
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			badRequest(w, "invalid limit")
			return
		}
		limit = min(n, maxPage)
	}
	txs, err := s.Wallet.History(r.Context(), principal(r).UserID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if txs == nil {
		txs = []wallet.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": txs})
}

// handleTopUp credits a verified gateway payment. Replays of a payment id
// return the original transaction.
func (s *Server) handleTopUp(w http.ResponseWriter, r *http.Request) {
	var t wallet.TopUp
	if err := jsonDecoder(w, r).Decode(&t); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	tx, err := s.Wallet.ApplyTopUp(r.Context(), t)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

type creditInput struct {
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// handleAdminCredit applies a manual credit, e.g. a goodwill adjustment.
func (s *Server) handleAdminCredit(w http.ResponseWriter, r *http.Request) {
	var in creditInput
	if err := decodeJSON(w, r, &in); err != nil {
		badRequest(w, "invalid request body: "+err.Error())
		return
	}
	description := strings.TrimSpace(in.Description)
	if description == "" {
		description = "Manual credit"
	}
	opts := []wallet.TxOption{wallet.WithMetadata(map[string]string{"actor": principal(r).UserID})}
	if in.IdempotencyKey != "" {
		opts = append(opts, wallet.WithIdempotencyKey("admin:"+in.IdempotencyKey))
	}
	tx, err := s.Wallet.Credit(r.Context(), chi.URLParam(r, "userID"), wallet.ToMinor(in.Amount), description, opts...)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

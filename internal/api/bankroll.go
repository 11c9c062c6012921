package api

import (
	"encoding/json"
	"net/http"

	"tiltbook/internal/ledger"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const statusNotInitialized = "not-initialized"

type addEntryRequest struct {
	SessionName string       `json:"sessionName"`
	Date        string       `json:"date"`
	Score       *json.Number `json:"score"`
}

func (s *Server) handleAddEntry(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in addEntryRequest
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if in.Score == nil {
		writeError(w, http.StatusBadRequest, "score is required")
		return
	}
	score, err := decimal.NewFromString(in.Score.String())
	if err != nil {
		writeError(w, http.StatusBadRequest, "score must be a number")
		return
	}

	out, err := s.ledger.AddEntry(r.Context(), ledger.AddEntryInput{
		Owner:          user.UserID,
		Name:           in.SessionName,
		Date:           in.Date,
		Score:          score,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"netScore":    out.NetScore,
		"entryId":     out.EntryID,
		"sessionName": out.Name,
	})
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	snap, err := s.ledger.Entries(r.Context(), user.UserID)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	status := "Success"
	if !snap.Initialized {
		status = statusNotInitialized
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   status,
		"netScore": snap.NetScore,
		"entries":  snap.Entries,
	})
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	net, err := s.ledger.DeleteEntry(r.Context(), user.UserID, chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"netScore": net})
}

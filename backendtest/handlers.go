package backendtest

import (
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeBody(r, &req); err != nil || req.Credential == "" || req.Password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "credential and password are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.findUserLocked(req.Credential)
	if u == nil || u.password != req.Password {
		writeDetail(w, http.StatusUnauthorized, "Identifiants invalides")
		return
	}
	access, err := s.signLocked(u.ID)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	refresh := uuid.NewString()
	s.refreshTokens[refresh] = u.ID
	writeJSON(w, http.StatusOK, loginResponse{
		User:         *u,
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.refreshCalls.Add(1)
	var req refreshRequest
	if err := decodeBody(r, &req); err != nil || req.RefreshToken == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "refresh_token is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshStatus != 0 {
		writeDetail(w, s.refreshStatus, "Refresh token invalide")
		return
	}
	uid, ok := s.refreshTokens[req.RefreshToken]
	if !ok {
		writeDetail(w, http.StatusUnauthorized, "Refresh token invalide")
		return
	}
	access, err := s.signLocked(uid)
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, refreshResponse{AccessToken: access, TokenType: "bearer"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, u *User, jti string) {
	s.mu.Lock()
	s.revoked[jti] = struct{}{}
	for tok, owner := range s.refreshTokens {
		if owner == u.ID {
			delete(s.refreshTokens, tok)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, detail{Detail: "Déconnexion réussie"})
}

func (s *Server) handleUserSearch(w http.ResponseWriter, r *http.Request, _ *User, _ string) {
	q := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("q")))
	out := []User{}
	s.mu.Lock()
	for _, u := range s.users {
		if q == "" {
			break
		}
		if strings.Contains(strings.ToLower(u.FullName), q) ||
			strings.Contains(strings.ToLower(u.Email), q) ||
			strings.Contains(u.Phone, q) {
			out = append(out, *u)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request, _ *User, _ string) {
	writeJSON(w, http.StatusOK, s.Transactions())
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request, _ *User, _ string) {
	params := r.URL.Query()
	q := strings.ToLower(strings.TrimSpace(params.Get("q")))
	var statuses []string
	if raw := params.Get("status"); raw != "" {
		statuses = strings.Split(raw, ",")
	}
	from, err := parseDay(params.Get("start_date"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "start_date must be YYYY-MM-DD")
		return
	}
	to, err := parseDay(params.Get("end_date"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "end_date must be YYYY-MM-DD")
		return
	}

	out := []Transaction{}
	for _, tx := range s.Transactions() {
		if len(statuses) > 0 && !slices.Contains(statuses, tx.Status) {
			continue
		}
		if q != "" && !matchesQuery(tx, q) {
			continue
		}
		at, _ := time.Parse(naiveLayout, tx.Timestamp)
		day := at.Truncate(24 * time.Hour)
		if !from.IsZero() && day.Before(from) {
			continue
		}
		if !to.IsZero() && day.After(to) {
			continue
		}
		out = append(out, tx)
	}
	writeJSON(w, http.StatusOK, out)
}

func matchesQuery(tx Transaction, q string) bool {
	for _, field := range []string{tx.Reference, tx.RecipientName, tx.RecipientPhone, tx.Sender.FullName, tx.Sender.Phone} {
		if strings.Contains(strings.ToLower(field), q) {
			return true
		}
	}
	return false
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}

func (s *Server) pathTx(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid transaction id")
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, _ *User, _ string) {
	id, ok := s.pathTx(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	tx := s.txByIDLocked(id)
	var snap Transaction
	if tx != nil {
		snap = *tx
	}
	s.mu.Unlock()
	if tx == nil {
		writeDetail(w, http.StatusNotFound, "Transaction introuvable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

var knownStatuses = []string{StatusPending, StatusCompleted, StatusCancelled, StatusWaiting, StatusFailed}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request, _ *User, _ string) {
	id, ok := s.pathTx(w, r)
	if !ok {
		return
	}
	var req statusUpdate
	if err := decodeBody(r, &req); err != nil || !slices.Contains(knownStatuses, req.Status) {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid status")
		return
	}

	s.mu.Lock()
	tx := s.txByIDLocked(id)
	var snap Transaction
	if tx != nil {
		tx.Status = req.Status
		snap = *tx
	}
	s.mu.Unlock()
	if tx == nil {
		writeDetail(w, http.StatusNotFound, "Transaction introuvable")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request, _ *User, _ string) {
	id, ok := s.pathTx(w, r)
	if !ok {
		return
	}
	s.mu.Lock()
	tx := s.txByIDLocked(id)
	if tx != nil {
		s.notified = append(s.notified, id)
	}
	s.mu.Unlock()
	if tx == nil {
		writeDetail(w, http.StatusNotFound, "Transaction introuvable")
		return
	}
	writeJSON(w, http.StatusOK, detail{Detail: "Notification envoyée"})
}

func (s *Server) handlePromotion(w http.ResponseWriter, r *http.Request, _ *User, _ string) {
	var p Promotion
	if err := decodeBody(r, &p); err != nil || p.Title == "" || p.Message == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "title and message are required")
		return
	}
	if len(p.UserIDs) == 0 {
		writeDetail(w, http.StatusBadRequest, "Aucun destinataire")
		return
	}
	s.mu.Lock()
	for _, id := range p.UserIDs {
		if s.userByIDLocked(id) == nil {
			s.mu.Unlock()
			writeDetail(w, http.StatusNotFound, "Utilisateur introuvable")
			return
		}
	}
	s.promotions = append(s.promotions, p)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, detail{Detail: "Promotion envoyée"})
}

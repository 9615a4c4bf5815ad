package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fairshare-app/fairshare/internal/auth"
	"github.com/fairshare-app/fairshare/internal/domain"
	"github.com/fairshare-app/fairshare/internal/history"
	"github.com/fairshare-app/fairshare/internal/repository"
	"github.com/fairshare-app/fairshare/internal/store"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if strings.Contains(err.Error(), "not found") {
		status = http.StatusNotFound
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// scopedSession opens a write session whose project scope governs the
// tracking policy for the request.
func (s *Server) scopedSession(ctx context.Context, projectID string) (*store.Session, *requestScope, *domain.Project, error) {
	sess, scope := s.sessionFor()
	if err := sess.Begin(ctx); err != nil {
		return nil, nil, nil, err
	}
	project, err := repository.NewProjectRepository(sess).GetByID(ctx, projectID)
	if err != nil {
		_ = sess.Rollback(ctx)
		return nil, nil, nil, err
	}
	scope.project = project
	return sess, scope, project, nil
}

type projectRequest struct {
	ID                string  `json:"id"`
	Name              string  `json:"name"`
	Password          string  `json:"password"`
	ContactEmail      string  `json:"contact_email"`
	DefaultCurrency   string  `json:"default_currency"`
	LoggingPreference *string `json:"logging_preference"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.ID == "" || req.Name == "" {
		writeBadRequest(w, "id and name are required")
		return
	}
	mode := domain.DefaultLoggingMode
	if req.LoggingPreference != nil {
		parsed, err := domain.ParseLoggingMode(*req.LoggingPreference)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		mode = parsed
	}

	ctx := r.Context()
	sess, _ := s.sessionFor()
	if err := sess.Begin(ctx); err != nil {
		writeError(w, err)
		return
	}
	defer sess.Rollback(ctx)

	project := &domain.Project{
		ID:                req.ID,
		Name:              req.Name,
		Password:          req.Password,
		ContactEmail:      req.ContactEmail,
		DefaultCurrency:   req.DefaultCurrency,
		LoggingPreference: mode,
	}
	if err := repository.NewProjectRepository(sess).Create(ctx, project); err != nil {
		writeError(w, err)
		return
	}
	if err := sess.Commit(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.sessionFor()
	project, err := repository.NewProjectRepository(sess).GetByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleUpdateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}

	projectID := r.PathValue("id")
	ctx := auth.ContextWithProjectID(r.Context(), projectID)
	sess, _, project, err := s.scopedSession(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sess.Rollback(ctx)

	if req.Name != "" {
		project.Name = req.Name
	}
	if req.Password != "" {
		project.Password = req.Password
	}
	if req.ContactEmail != "" {
		project.ContactEmail = req.ContactEmail
	}
	if req.DefaultCurrency != "" {
		project.DefaultCurrency = req.DefaultCurrency
	}
	if req.LoggingPreference != nil {
		mode, err := domain.ParseLoggingMode(*req.LoggingPreference)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		project.LoggingPreference = mode
	}

	if err := repository.NewProjectRepository(sess).Update(ctx, project); err != nil {
		writeError(w, err)
		return
	}
	if err := sess.Commit(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) handleDeleteProject(w http.ResponseWriter, r *http.Request) {
	projectID := r.PathValue("id")
	ctx := auth.ContextWithProjectID(r.Context(), projectID)
	sess, _, project, err := s.scopedSession(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sess.Rollback(ctx)

	billRepo := repository.NewBillRepository(sess)
	bills, err := billRepo.ListByProject(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, bill := range bills {
		if err := billRepo.Delete(ctx, bill); err != nil {
			writeError(w, err)
			return
		}
	}

	memberRepo := repository.NewMemberRepository(sess)
	members, err := memberRepo.ListByProject(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	for _, member := range members {
		if err := memberRepo.Delete(ctx, member); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := repository.NewProjectRepository(sess).Delete(ctx, project); err != nil {
		writeError(w, err)
		return
	}
	if err := sess.Commit(ctx); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type memberRequest struct {
	Name      string   `json:"name"`
	Weight    *float64 `json:"weight"`
	Activated *bool    `json:"activated"`
}

func (s *Server) handleCreateMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.Name == "" {
		writeBadRequest(w, "name is required")
		return
	}

	projectID := r.PathValue("id")
	ctx := auth.ContextWithProjectID(r.Context(), projectID)
	sess, _, _, err := s.scopedSession(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sess.Rollback(ctx)

	member := &domain.Member{
		ProjectID: projectID,
		Name:      req.Name,
		Weight:    1,
		Activated: true,
	}
	if req.Weight != nil {
		member.Weight = *req.Weight
	}
	if req.Activated != nil {
		member.Activated = *req.Activated
	}

	if err := repository.NewMemberRepository(sess).Create(ctx, member); err != nil {
		writeError(w, err)
		return
	}
	if err := sess.Commit(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, member)
}

func (s *Server) handleUpdateMember(w http.ResponseWriter, r *http.Request) {
	var req memberRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	memberID, err := pathID(r, "memberId")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	projectID := r.PathValue("id")
	ctx := auth.ContextWithProjectID(r.Context(), projectID)
	sess, _, _, err := s.scopedSession(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sess.Rollback(ctx)

	repo := repository.NewMemberRepository(sess)
	member, err := repo.GetByID(ctx, memberID)
	if err != nil {
		writeError(w, err)
		return
	}
	if member.ProjectID != projectID {
		writeError(w, errNotInProject("member"))
		return
	}

	if req.Name != "" {
		member.Name = req.Name
	}
	if req.Weight != nil {
		member.Weight = *req.Weight
	}
	if req.Activated != nil {
		member.Activated = *req.Activated
	}

	if err := repo.Update(ctx, member); err != nil {
		writeError(w, err)
		return
	}
	if err := sess.Commit(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (s *Server) handleDeleteMember(w http.ResponseWriter, r *http.Request) {
	memberID, err := pathID(r, "memberId")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	projectID := r.PathValue("id")
	ctx := auth.ContextWithProjectID(r.Context(), projectID)
	sess, _, _, err := s.scopedSession(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sess.Rollback(ctx)

	repo := repository.NewMemberRepository(sess)
	member, err := repo.GetByID(ctx, memberID)
	if err != nil {
		writeError(w, err)
		return
	}
	if member.ProjectID != projectID {
		writeError(w, errNotInProject("member"))
		return
	}
	if err := repo.Delete(ctx, member); err != nil {
		writeError(w, err)
		return
	}
	if err := sess.Commit(ctx); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type billRequest struct {
	PayerID          *int64   `json:"payer_id"`
	Amount           *float64 `json:"amount"`
	Date             string   `json:"date"`
	What             string   `json:"what"`
	ExternalLink     *string  `json:"external_link"`
	OriginalCurrency string   `json:"original_currency"`
	ConvertedAmount  *float64 `json:"converted_amount"`
	OwerIDs          []int64  `json:"ower_ids"`
}

func (s *Server) handleCreateBill(w http.ResponseWriter, r *http.Request) {
	var req billRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	if req.PayerID == nil || req.Amount == nil || req.What == "" {
		writeBadRequest(w, "payer_id, amount and what are required")
		return
	}

	projectID := r.PathValue("id")
	ctx := auth.ContextWithProjectID(r.Context(), projectID)
	sess, _, project, err := s.scopedSession(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sess.Rollback(ctx)

	bill := &domain.Bill{
		PayerID:          *req.PayerID,
		Amount:           *req.Amount,
		Date:             time.Now().UTC().Truncate(24 * time.Hour),
		CreationDate:     time.Now().UTC(),
		What:             req.What,
		OriginalCurrency: project.DefaultCurrency,
		ConvertedAmount:  *req.Amount,
		OwerIDs:          req.OwerIDs,
	}
	if req.Date != "" {
		date, err := parseDate(req.Date)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		bill.Date = date
	}
	if req.ExternalLink != nil {
		bill.ExternalLink = *req.ExternalLink
	}
	if req.OriginalCurrency != "" {
		bill.OriginalCurrency = req.OriginalCurrency
	}
	if req.ConvertedAmount != nil {
		bill.ConvertedAmount = *req.ConvertedAmount
	}

	if err := repository.NewBillRepository(sess).Create(ctx, bill); err != nil {
		writeError(w, err)
		return
	}
	if err := sess.Commit(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, bill)
}

func (s *Server) handleUpdateBill(w http.ResponseWriter, r *http.Request) {
	var req billRequest
	if err := decodeBody(r, &req); err != nil {
		writeBadRequest(w, "invalid request body: "+err.Error())
		return
	}
	billID, err := pathID(r, "billId")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	projectID := r.PathValue("id")
	ctx := auth.ContextWithProjectID(r.Context(), projectID)
	sess, _, _, err := s.scopedSession(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sess.Rollback(ctx)

	repo := repository.NewBillRepository(sess)
	bill, err := repo.GetByID(ctx, billID)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.PayerID != nil {
		bill.PayerID = *req.PayerID
	}
	if req.Amount != nil {
		bill.Amount = *req.Amount
	}
	if req.Date != "" {
		date, err := parseDate(req.Date)
		if err != nil {
			writeBadRequest(w, err.Error())
			return
		}
		bill.Date = date
	}
	if req.What != "" {
		bill.What = req.What
	}
	if req.ExternalLink != nil {
		bill.ExternalLink = *req.ExternalLink
	}
	if req.OriginalCurrency != "" {
		bill.OriginalCurrency = req.OriginalCurrency
	}
	if req.ConvertedAmount != nil {
		bill.ConvertedAmount = *req.ConvertedAmount
	}

	if err := repo.Update(ctx, bill); err != nil {
		writeError(w, err)
		return
	}
	if req.OwerIDs != nil {
		if err := repo.SetOwers(ctx, bill, req.OwerIDs); err != nil {
			writeError(w, err)
			return
		}
	}
	if err := sess.Commit(ctx); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bill)
}

func (s *Server) handleDeleteBill(w http.ResponseWriter, r *http.Request) {
	billID, err := pathID(r, "billId")
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	projectID := r.PathValue("id")
	ctx := auth.ContextWithProjectID(r.Context(), projectID)
	sess, _, _, err := s.scopedSession(ctx, projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	defer sess.Rollback(ctx)

	repo := repository.NewBillRepository(sess)
	bill, err := repo.GetByID(ctx, billID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := repo.Delete(ctx, bill); err != nil {
		writeError(w, err)
		return
	}
	if err := sess.Commit(ctx); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	humanize := r.URL.Query().Get("humanize") != "false"
	entries, err := s.history.ProjectHistory(r.Context(), r.PathValue("id"), humanize)
	if err != nil {
		writeError(w, err)
		return
	}
	if entries == nil {
		entries = []history.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handlePurgeHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.history.Purge(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStripHistoryIPs(w http.ResponseWriter, r *http.Request) {
	if err := s.history.StripRemoteAddrs(r.Context(), r.PathValue("id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func errNotInProject(kind string) error {
	return fmt.Errorf("%s not found in this project", kind)
}

func errInvalidID(name string) error {
	return fmt.Errorf("invalid %s", name)
}

func errInvalidDate(value string) error {
	return fmt.Errorf("invalid date %q, expected YYYY-MM-DD", value)
}

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	if err != nil {
		return 0, errInvalidID(name)
	}
	return id, nil
}

func parseDate(value string) (time.Time, error) {
	date, err := time.Parse("2006-01-02", value)
	if err != nil {
		return time.Time{}, errInvalidDate(value)
	}
	return date, nil
}

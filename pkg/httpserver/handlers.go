package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/mreyes/tradereflect/internal/review"
	"github.com/mreyes/tradereflect/internal/storage"
	"github.com/mreyes/tradereflect/pkg/types"
	"go.uber.org/zap"
)

// newFillsLimit caps the incremental polling endpoint, matching what the UI
// renders per refresh.
const newFillsLimit = 10

// ReviewSubmitter is the scheduler's user-submission path.
type ReviewSubmitter interface {
	Submit(ctx context.Context, fillID int64, thought string) (*types.Review, bool, error)
}

// Handler implements the API endpoints.
type Handler struct {
	scheduler ReviewSubmitter
	store     storage.Store
	logger    *zap.Logger
}

// NewHandler creates a new API handler.
func NewHandler(scheduler ReviewSubmitter, store storage.Store, logger *zap.Logger) *Handler {
	return &Handler{
		scheduler: scheduler,
		store:     store,
		logger:    logger,
	}
}

type errorResponse struct {
	Message string `json:"message"`
}

type upsertAccountRequest struct {
	AccountID string `json:"account_id"`
	APIKey    string `json:"api_key"`
	APISecret string `json:"api_secret"`
}

type submitReviewRequest struct {
	UserThought string `json:"user_thought"`
}

type submitReviewResponse struct {
	Resolved bool   `json:"resolved"`
	Review   string `json:"review,omitempty"`
	Kind     string `json:"kind,omitempty"`
}

// HandleUpsertAccount registers or updates an account's API credentials.
func (h *Handler) HandleUpsertAccount(w http.ResponseWriter, r *http.Request) {
	var req upsertAccountRequest
	err := json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}

	if req.AccountID == "" || req.APIKey == "" || req.APISecret == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "account_id, api_key and api_secret are required"})
		return
	}

	err = h.store.UpsertAccount(r.Context(), types.Account{
		ID:        req.AccountID,
		APIKey:    req.APIKey,
		APISecret: req.APISecret,
	})
	if err != nil {
		h.logger.Error("account-upsert-failed",
			zap.String("account-id", req.AccountID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to save account"})
		return
	}

	h.logger.Info("account-registered", zap.String("account-id", req.AccountID))
	writeJSON(w, http.StatusOK, map[string]string{"account_id": req.AccountID})
}

// HandleListFills returns an account's fills, newest first.
func (h *Handler) HandleListFills(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	fills, err := h.store.ListByAccount(r.Context(), accountID)
	if err != nil {
		h.logger.Error("list-fills-failed",
			zap.String("account-id", accountID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to list fills"})
		return
	}

	if fills == nil {
		fills = []types.Fill{}
	}
	writeJSON(w, http.StatusOK, fills)
}

// HandleListNewFills returns up to 10 fills newer than the "after" ordinal,
// for incremental UI polling.
func (h *Handler) HandleListNewFills(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	var afterID int64
	if after := r.URL.Query().Get("after"); after != "" {
		parsed, err := strconv.ParseInt(after, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid after parameter"})
			return
		}
		afterID = parsed
	}

	fills, err := h.store.ListSince(r.Context(), accountID, afterID, newFillsLimit)
	if err != nil {
		h.logger.Error("list-new-fills-failed",
			zap.String("account-id", accountID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to list fills"})
		return
	}

	if fills == nil {
		fills = []types.Fill{}
	}
	writeJSON(w, http.StatusOK, fills)
}

// HandleSubmitReview is the user-submission path. Responds with whether this
// submission resolved the fill; when the deadline already won, the existing
// review is returned with resolved=false.
func (h *Handler) HandleSubmitReview(w http.ResponseWriter, r *http.Request) {
	fillID, err := strconv.ParseInt(chi.URLParam(r, "fillID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid fill id"})
		return
	}

	var req submitReviewRequest
	err = json.NewDecoder(r.Body).Decode(&req)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid request body"})
		return
	}

	reviewResult, resolved, err := h.scheduler.Submit(r.Context(), fillID, req.UserThought)
	if err != nil {
		if errors.Is(err, review.ErrFillNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Message: "fill not found"})
			return
		}
		h.logger.Error("review-submit-failed",
			zap.Int64("fill-id", fillID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to resolve review"})
		return
	}

	resp := submitReviewResponse{Resolved: resolved}
	if reviewResult != nil {
		resp.Review = reviewResult.Text
		resp.Kind = string(reviewResult.Kind)
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleGetReview returns the fill's resolved review, 404 when absent.
func (h *Handler) HandleGetReview(w http.ResponseWriter, r *http.Request) {
	fillID, err := strconv.ParseInt(chi.URLParam(r, "fillID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Message: "invalid fill id"})
		return
	}

	reviewResult, err := h.store.Get(r.Context(), fillID)
	if err != nil {
		h.logger.Error("get-review-failed",
			zap.Int64("fill-id", fillID),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Message: "failed to load review"})
		return
	}

	if reviewResult == nil || !reviewResult.Resolved {
		writeJSON(w, http.StatusNotFound, errorResponse{Message: "review not found"})
		return
	}

	writeJSON(w, http.StatusOK, reviewResult)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Package handler はHTTPハンドラを提供する。
package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"salon-gateway/internal/domain"
	"salon-gateway/internal/middleware"
	"salon-gateway/internal/usecase"
	"salon-gateway/pkg/httputil"
)

// SalonHandler はHTTPハンドラを提供する。
type SalonHandler struct {
	service *usecase.SalonService
}

// NewSalonHandler は新しいSalonHandlerを生成する。
func NewSalonHandler(service *usecase.SalonService) *SalonHandler {
	return &SalonHandler{service: service}
}

func parseWorkID(r *http.Request) (uint64, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "work_id"), 10, 64)
	if err != nil || id < 1 {
		return 0, domain.ErrInvalidWorkID
	}
	return id, nil
}

// SessionResponse はセッション状態のレスポンス形式。
type SessionResponse struct {
	Status     string `json:"status"`
	Phase      string `json:"phase,omitempty"`
	Error      string `json:"error,omitempty"`
	ChainID    uint64 `json:"chain_id,omitempty"`
	Generation uint64 `json:"generation"`
	Enabled    bool   `json:"enabled"`
}

// WorkResponse は作品のレスポンス形式。
type WorkResponse struct {
	ID             uint64   `json:"id"`
	Contributor    string   `json:"contributor"`
	Title          string   `json:"title"`
	SynopsisHash   string   `json:"synopsis_hash"`
	ContentHash    string   `json:"content_hash"`
	Tags           []string `json:"tags"`
	Genres         []string `json:"genres"`
	Timestamp      string   `json:"timestamp"`
	ApplauseHandle string   `json:"applause_handle"`
}

// WorkListResponse は作品一覧のレスポンス形式。
type WorkListResponse struct {
	Works []WorkResponse `json:"works"`
}

// SubmitWorkRequest は作品投稿のリクエスト形式。
type SubmitWorkRequest struct {
	Title        string   `json:"title"`
	SynopsisHash string   `json:"synopsis_hash"`
	ContentHash  string   `json:"content_hash"`
	Tags         []string `json:"tags"`
	Genres       []string `json:"genres"`
}

// EndorseRequest は推薦のリクエスト形式。
type EndorseRequest struct {
	Category string `json:"category"`
}

// TxResponse は書き込み結果のレスポンス形式。
type TxResponse struct {
	WorkID      uint64 `json:"work_id"`
	TxHash      string `json:"tx_hash"`
	BlockNumber uint64 `json:"block_number"`
}

// ResultResponse は復号結果一件のレスポンス形式。
type ResultResponse struct {
	WorkID   uint64 `json:"work_id"`
	Category string `json:"category"`
	Value    uint64 `json:"value"`
}

// DecryptResponse はバッチ復号のレスポンス形式。
type DecryptResponse struct {
	BatchID        string           `json:"batch_id,omitempty"`
	Category       string           `json:"category"`
	Status         string           `json:"status"`
	Results        []ResultResponse `json:"results"`
	SucceededCount int              `json:"succeeded_count"`
	Message        string           `json:"message"`
	Code           string           `json:"code,omitempty"`
}

// ApplauseResponse は拍手数復号のレスポンス形式。
type ApplauseResponse struct {
	BatchID  string `json:"batch_id,omitempty"`
	WorkID   uint64 `json:"work_id"`
	Applause uint64 `json:"applause"`
	Message  string `json:"message"`
}

// BatchResponse はバッチ履歴のレスポンス形式。
type BatchResponse struct {
	ID             string `json:"id"`
	ChainID        uint64 `json:"chain_id"`
	Category       string `json:"category"`
	Requested      int    `json:"requested"`
	SucceededCount int    `json:"succeeded_count"`
	Status         string `json:"status"`
	Message        string `json:"message"`
	Generation     uint64 `json:"generation"`
	CreatedAt      string `json:"created_at"`
}

// BatchListResponse はバッチ履歴一覧のレスポンス形式。
type BatchListResponse struct {
	Batches []BatchResponse `json:"batches"`
}

func toWorkResponse(w *domain.Work) WorkResponse {
	return WorkResponse{
		ID:             w.ID,
		Contributor:    w.Contributor.Hex(),
		Title:          w.Title,
		SynopsisHash:   w.SynopsisHash,
		ContentHash:    w.ContentHash,
		Tags:           nonNil(w.Tags),
		Genres:         nonNil(w.Genres),
		Timestamp:      w.Timestamp.UTC().Format(time.RFC3339),
		ApplauseHandle: string(w.ApplauseHandle),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func toTxResponse(r *domain.TxReceipt) TxResponse {
	return TxResponse{
		WorkID:      r.WorkID,
		TxHash:      r.TxHash.Hex(),
		BlockNumber: r.BlockNumber,
	}
}

func toDecryptResponse(o *usecase.DecryptOutcome) DecryptResponse {
	resp := DecryptResponse{
		BatchID:        o.Batch.ID,
		Category:       o.Batch.Category,
		Status:         string(o.Batch.Status),
		Results:        make([]ResultResponse, len(o.Results)),
		SucceededCount: o.Batch.SucceededCount,
		Message:        o.Batch.Message,
	}
	for i, r := range o.Results {
		resp.Results[i] = ResultResponse{WorkID: r.WorkID, Category: r.Category, Value: r.Value}
	}
	return resp
}

// writeError はドメインエラーをHTTPステータスに変換して返す。
func writeError(w http.ResponseWriter, r *http.Request, operation, subject string, err error) {
	status, code, message := http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error"
	switch {
	case errors.Is(err, domain.ErrInvalidWorkID):
		status, code, message = http.StatusBadRequest, "INVALID_WORK_ID", "invalid work ID"
	case errors.Is(err, domain.ErrInvalidCategory):
		status, code, message = http.StatusBadRequest, "INVALID_CATEGORY", "invalid category"
	case errors.Is(err, domain.ErrInvalidSubmission):
		status, code, message = http.StatusBadRequest, "INVALID_SUBMISSION", "title and content hash are required"
	case errors.Is(err, domain.ErrWorkNotFound):
		status, code, message = http.StatusNotFound, "WORK_NOT_FOUND", "work not found"
	case errors.Is(err, domain.ErrSessionNotReady):
		status, code, message = http.StatusConflict, "SESSION_NOT_READY", "FHEVM not ready, please try again later"
	case errors.Is(err, domain.ErrContractNotDeployed):
		status, code, message = http.StatusPreconditionFailed, "CONTRACT_NOT_DEPLOYED", "contract address not found for the current chain"
	case errors.Is(err, domain.ErrSignerUnavailable):
		status, code, message = http.StatusServiceUnavailable, "SIGNER_UNAVAILABLE", "no signer is configured"
	case errors.Is(err, domain.ErrTransactionReverted):
		status, code, message = http.StatusUnprocessableEntity, "TRANSACTION_REVERTED", "transaction reverted"
	case errors.Is(err, domain.ErrNetworkResolution):
		status, code, message = http.StatusBadGateway, "NETWORK_UNAVAILABLE", "chain connection unavailable"
	}

	result := middleware.ResultFailed
	if status < http.StatusInternalServerError {
		result = middleware.ResultRejected
	}
	middleware.WriteAuditLog(r.Context(), operation, subject, result)
	httputil.Error(w, status, code, message)
}

// GetSession はセッション状態を返す。
func (h *SalonHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	snap := h.service.SessionStatus()
	resp := SessionResponse{
		Status:     string(snap.Status),
		Phase:      string(snap.Phase),
		ChainID:    snap.ChainID,
		Generation: snap.Generation,
		Enabled:    snap.Enabled,
	}
	if snap.Err != nil && !errors.Is(snap.Err, domain.ErrAborted) {
		resp.Error = snap.Err.Error()
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// RefreshSession はセッションを作り直す。
func (h *SalonHandler) RefreshSession(w http.ResponseWriter, r *http.Request) {
	if err := h.service.RefreshSession(r.Context()); err != nil {
		writeError(w, r, "REFRESH_SESSION", "", err)
		return
	}
	middleware.WriteAuditLog(r.Context(), "REFRESH_SESSION", "", middleware.ResultSuccess)
	w.WriteHeader(http.StatusAccepted)
}

// ListWorks は作品一覧を返す。contributor=meの場合は利用者自身の作品のみ返す。
func (h *SalonHandler) ListWorks(w http.ResponseWriter, r *http.Request) {
	var (
		works []*domain.Work
		err   error
	)
	switch contributor := strings.TrimSpace(r.URL.Query().Get("contributor")); {
	case contributor == "":
		works, err = h.service.ListWorks(r.Context(), nil)
	case contributor == "me":
		works, err = h.service.MyWorks(r.Context())
	case common.IsHexAddress(contributor):
		addr := common.HexToAddress(contributor)
		works, err = h.service.ListWorks(r.Context(), &addr)
	default:
		httputil.Error(w, http.StatusBadRequest, "INVALID_CONTRIBUTOR", "contributor must be an address or \"me\"")
		return
	}
	if err != nil {
		writeError(w, r, "LIST_WORKS", "", err)
		return
	}

	resp := WorkListResponse{Works: make([]WorkResponse, len(works))}
	for i, work := range works {
		resp.Works[i] = toWorkResponse(work)
	}
	httputil.JSON(w, http.StatusOK, resp)
}

// GetWork は作品を返す。
func (h *SalonHandler) GetWork(w http.ResponseWriter, r *http.Request) {
	id, err := parseWorkID(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_WORK_ID", "invalid work ID")
		return
	}
	work, err := h.service.GetWork(r.Context(), id)
	if err != nil {
		writeError(w, r, "GET_WORK", strconv.FormatUint(id, 10), err)
		return
	}
	httputil.JSON(w, http.StatusOK, toWorkResponse(work))
}

// SubmitWork は作品を投稿する。
func (h *SalonHandler) SubmitWork(w http.ResponseWriter, r *http.Request) {
	var req SubmitWorkRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	receipt, err := h.service.SubmitWork(r.Context(), domain.WorkSubmission{
		Title:        req.Title,
		SynopsisHash: req.SynopsisHash,
		ContentHash:  req.ContentHash,
		Tags:         req.Tags,
		Genres:       req.Genres,
	})
	if err != nil {
		writeError(w, r, "SUBMIT_WORK", req.Title, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "SUBMIT_WORK", strconv.FormatUint(receipt.WorkID, 10), middleware.ResultSuccess)
	httputil.JSON(w, http.StatusCreated, toTxResponse(receipt))
}

// ApplaudWork は作品に拍手する。
func (h *SalonHandler) ApplaudWork(w http.ResponseWriter, r *http.Request) {
	id, err := parseWorkID(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_WORK_ID", "invalid work ID")
		return
	}
	subject := strconv.FormatUint(id, 10)

	receipt, err := h.service.Applaud(r.Context(), id)
	if err != nil {
		writeError(w, r, "APPLAUD_WORK", subject, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "APPLAUD_WORK", subject, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusAccepted, toTxResponse(receipt))
}

// EndorseWork は作品をカテゴリで推薦する。
func (h *SalonHandler) EndorseWork(w http.ResponseWriter, r *http.Request) {
	id, err := parseWorkID(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_WORK_ID", "invalid work ID")
		return
	}
	var req EndorseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	subject := strconv.FormatUint(id, 10) + "/" + req.Category

	receipt, err := h.service.Endorse(r.Context(), id, req.Category)
	if err != nil {
		writeError(w, r, "ENDORSE_WORK", subject, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "ENDORSE_WORK", subject, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusAccepted, toTxResponse(receipt))
}

// DecryptCategory はカテゴリ別推薦数を復号する。
// 途中で失敗した場合は502と、それまでに得られた結果を返す。
func (h *SalonHandler) DecryptCategory(w http.ResponseWriter, r *http.Request) {
	category := chi.URLParam(r, "category")

	outcome, err := h.service.DecryptCategory(r.Context(), category)
	if err != nil {
		if errors.Is(err, domain.ErrDecryption) && outcome != nil {
			middleware.WriteAuditLog(r.Context(), "DECRYPT_CATEGORY", category, middleware.ResultFailed)
			resp := toDecryptResponse(outcome)
			resp.Code = "DECRYPTION_FAILED"
			httputil.JSON(w, http.StatusBadGateway, resp)
			return
		}
		writeError(w, r, "DECRYPT_CATEGORY", category, err)
		return
	}

	middleware.WriteAuditLog(r.Context(), "DECRYPT_CATEGORY", category, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, toDecryptResponse(outcome))
}

// DecryptApplause は作品の拍手数を復号する。
func (h *SalonHandler) DecryptApplause(w http.ResponseWriter, r *http.Request) {
	id, err := parseWorkID(r)
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "INVALID_WORK_ID", "invalid work ID")
		return
	}
	subject := strconv.FormatUint(id, 10)

	outcome, err := h.service.DecryptApplause(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrDecryption) && outcome != nil {
			middleware.WriteAuditLog(r.Context(), "DECRYPT_APPLAUSE", subject, middleware.ResultFailed)
			resp := toDecryptResponse(outcome)
			resp.Code = "DECRYPTION_FAILED"
			httputil.JSON(w, http.StatusBadGateway, resp)
			return
		}
		writeError(w, r, "DECRYPT_APPLAUSE", subject, err)
		return
	}

	resp := ApplauseResponse{
		BatchID: outcome.Batch.ID,
		WorkID:  id,
		Message: outcome.Batch.Message,
	}
	for _, res := range outcome.Results {
		if res.WorkID == id {
			resp.Applause = res.Value
		}
	}
	middleware.WriteAuditLog(r.Context(), "DECRYPT_APPLAUSE", subject, middleware.ResultSuccess)
	httputil.JSON(w, http.StatusOK, resp)
}

// ListBatches は復号バッチ履歴を返す。
func (h *SalonHandler) ListBatches(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.Error(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be a positive integer")
			return
		}
		limit = n
	}

	batches, err := h.service.ListBatches(r.Context(), limit)
	if err != nil {
		writeError(w, r, "LIST_BATCHES", "", err)
		return
	}

	resp := BatchListResponse{Batches: make([]BatchResponse, len(batches))}
	for i, b := range batches {
		resp.Batches[i] = BatchResponse{
			ID:             b.ID,
			ChainID:        b.ChainID,
			Category:       b.Category,
			Requested:      b.Requested,
			SucceededCount: b.SucceededCount,
			Status:         string(b.Status),
			Message:        b.Message,
			Generation:     b.Generation,
			CreatedAt:      b.CreatedAt.UTC().Format(time.RFC3339),
		}
	}
	httputil.JSON(w, http.StatusOK, resp)
}

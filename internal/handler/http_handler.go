package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/procurio/be-po-approvals/internal/apperrors"
	"github.com/procurio/be-po-approvals/internal/logger"
	"github.com/procurio/be-po-approvals/internal/repository"
	"github.com/procurio/be-po-approvals/internal/service"
	"github.com/procurio/be-po-approvals/internal/status"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals *service.ApprovalService
	receiving *service.ReceivingService
	orders    *repository.OrderRepository
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(approvals *service.ApprovalService, receiving *service.ReceivingService, orders *repository.OrderRepository, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		receiving: receiving,
		orders:    orders,
		log:       log,
	}
}

// ── Response helpers ──────────────────────────────────────────────────────────

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if body != nil {
		if err := json.NewEncoder(w).Encode(body); err != nil {
			h.log.Error().Err(err).Msg("Failed to encode HTTP response")
		}
	}
}

// writeError maps an error code onto an HTTP status and renders the coded
// error body clients depend on.
func (h *HTTPHandler) writeError(w http.ResponseWriter, err error) {
	code := apperrors.CodeOf(err)
	statusCode := http.StatusInternalServerError
	switch code {
	case apperrors.CodeValidation:
		statusCode = http.StatusBadRequest
	case apperrors.CodeUnauthorized:
		statusCode = http.StatusForbidden
	case apperrors.CodeNotFound, apperrors.CodePolicyNotFound:
		statusCode = http.StatusNotFound
	case apperrors.CodeState, apperrors.CodeInvalidTransition,
		apperrors.CodeDuplicateDecision, apperrors.CodeRequestClosed,
		apperrors.CodeConcurrency:
		statusCode = http.StatusConflict
	case apperrors.CodeTolerance, apperrors.CodeNoUniquePolicy:
		statusCode = http.StatusUnprocessableEntity
	case apperrors.CodeIntegration:
		statusCode = http.StatusBadGateway
	}

	if statusCode >= 500 {
		h.log.Error().Err(err).Str("code", string(code)).Msg("Request failed")
	}

	h.writeJSON(w, statusCode, map[string]string{
		"code":  string(code),
		"error": err.Error(),
	})
}

// ── Approval workflow ─────────────────────────────────────────────────────────

// RequestApproval handles submit-for-approval HTTP requests
func (h *HTTPHandler) RequestApproval(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		OrderID   string `json:"order_id"`
		Initiator string `json:"initiator"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrderID == "" || req.Initiator == "" {
		h.writeError(w, apperrors.InvalidInput("order_id", "order_id and initiator are required"))
		return
	}

	approval, err := h.approvals.RequestApproval(r.Context(), req.OrderID, req.Initiator)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, approval)
}

// Decide handles single approval decision HTTP requests
func (h *HTTPHandler) Decide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RequestID string                `json:"request_id"`
		Decision  service.DecisionInput `json:"decision"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.RequestID == "" {
		h.writeError(w, apperrors.InvalidInput("request_id", "request_id is required"))
		return
	}

	outcome, err := h.approvals.Decide(r.Context(), req.RequestID, req.Decision)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, outcome)
}

// BulkDecide handles bulk approval decision HTTP requests. Partial failure is
// a normal outcome: the response partitions request IDs into succeeded and
// failed and always carries HTTP 200.
func (h *HTTPHandler) BulkDecide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		RequestIDs []string                   `json:"request_ids"`
		Approver   string                     `json:"approver"`
		Verdict    repository.DecisionVerdict `json:"verdict"`
		Reason     string                     `json:"reason,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.RequestIDs) == 0 {
		h.writeError(w, apperrors.InvalidInput("request_ids", "at least one request id is required"))
		return
	}

	result := h.approvals.BulkDecide(r.Context(), req.RequestIDs, req.Approver, req.Verdict, req.Reason)
	h.writeJSON(w, http.StatusOK, result)
}

// PendingRequests handles pending approval queue HTTP requests
func (h *HTTPHandler) PendingRequests(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	role := r.URL.Query().Get("role")
	if role == "" {
		h.writeError(w, apperrors.InvalidInput("role", "role is required"))
		return
	}

	requests, err := h.approvals.PendingForRole(r.Context(), role)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"total":    len(requests),
	})
}

// ── Orders ────────────────────────────────────────────────────────────────────

// GetOrder handles get order HTTP requests. The response carries both the
// engine status and its legacy alias for older consumers.
func (h *HTTPHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orderID := r.URL.Query().Get("id")
	if orderID == "" {
		h.writeError(w, apperrors.InvalidInput("id", "order id is required"))
		return
	}

	order, err := h.orders.GetByID(r.Context(), orderID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"order":         order,
		"legacy_status": order.LegacyStatus(),
	})
}

// ListOrders handles list order HTTP requests
func (h *HTTPHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var filter repository.OrderFilter

	if supplierID := r.URL.Query().Get("supplier_id"); supplierID != "" {
		filter.SupplierID = &supplierID
	}
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, err := status.Parse(raw)
		if err != nil {
			h.writeError(w, err)
			return
		}
		filter.Status = &st
	}

	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))

	orders, err := h.orders.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"total":  len(orders),
	})
}

// TransitionOrder handles explicit status transition HTTP requests
func (h *HTTPHandler) TransitionOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		OrderID string        `json:"order_id"`
		Target  status.Status `json:"target"`
		Actor   string        `json:"actor"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrderID == "" || req.Actor == "" {
		h.writeError(w, apperrors.InvalidInput("order_id", "order_id and actor are required"))
		return
	}

	order, err := h.approvals.TransitionOrder(r.Context(), req.OrderID, req.Target, req.Actor)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, order)
}

// AuditTrail handles audit trail HTTP requests, keyed by order or by
// approval request.
func (h *HTTPHandler) AuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orderID := r.URL.Query().Get("order_id")
	requestID := r.URL.Query().Get("request_id")
	if orderID == "" && requestID == "" {
		h.writeError(w, apperrors.InvalidInput("order_id", "order_id or request_id is required"))
		return
	}

	var entries []*repository.AuditEntry
	var err error
	if orderID != "" {
		entries, err = h.approvals.AuditTrail(r.Context(), orderID)
	} else {
		entries, err = h.approvals.RequestAuditTrail(r.Context(), requestID)
	}
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
	})
}

// ── Receiving ─────────────────────────────────────────────────────────────────

// ValidateReceipt handles receipt intake HTTP requests. A tolerance result
// that blocks or requires approval is not an HTTP error: the caller gets the
// findings with 200 and CanProceed=false or RequiresApproval=true.
func (h *HTTPHandler) ValidateReceipt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		OrderID string                     `json:"order_id"`
		Items   []service.ReceiptLineInput `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.OrderID == "" {
		h.writeError(w, apperrors.InvalidInput("order_id", "order_id is required"))
		return
	}

	result, err := h.receiving.ValidateReceipt(r.Context(), req.OrderID, req.Items)
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ReceivingQueue handles receiving queue HTTP requests
func (h *HTTPHandler) ReceivingQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	orders, err := h.receiving.ReceivingQueue(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"orders": orders,
		"total":  len(orders),
	})
}

// FailedEvents handles failed integration event listing HTTP requests
func (h *HTTPHandler) FailedEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	events, err := h.receiving.FailedEvents(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  len(events),
	})
}

// RetryEvent handles manual retry HTTP requests for failed integration events
func (h *HTTPHandler) RetryEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.EventID == "" {
		h.writeError(w, apperrors.InvalidInput("event_id", "event_id is required"))
		return
	}

	if err := h.receiving.RetryEvent(r.Context(), req.EventID); err != nil {
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "queued"})
}

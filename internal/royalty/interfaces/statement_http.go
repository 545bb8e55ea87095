package interfaces

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"royalty-cloud/internal/audit"
	"royalty-cloud/internal/auth"
	"royalty-cloud/internal/observability/metrics"
	statementapp "royalty-cloud/internal/royalty/application"
	royalty "royalty-cloud/internal/royalty/domain"
)

const maxBatchSize = 500

// StatementHandler serves the statement and calculation APIs.
type StatementHandler struct {
	service         *statementapp.StatementService
	contractChecker auth.ContractTenantChecker
	auditLogger     audit.Logger
	companyName     string
	logger          *slog.Logger
}

// NewStatementHandler constructs a handler. contractChecker and auditLogger may be nil.
func NewStatementHandler(service *statementapp.StatementService, contractChecker auth.ContractTenantChecker, auditLogger audit.Logger, companyName string, logger *slog.Logger) (*StatementHandler, error) {
	if service == nil {
		return nil, errors.New("statement handler: nil service")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StatementHandler{
		service:         service,
		contractChecker: contractChecker,
		auditLogger:     auditLogger,
		companyName:     companyName,
		logger:          logger,
	}, nil
}

// Register mounts the handler's routes.
func (h *StatementHandler) Register(mux *http.ServeMux) {
	mux.Handle("/api/v1/statements", h)
	mux.Handle("/api/v1/statements/", h)
	mux.HandleFunc("/api/v1/calculate", h.handleCalculate)
}

// ServeHTTP handles routes under /api/v1/statements.
func (h *StatementHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	switch {
	case path == "/api/v1/statements/generate" && r.Method == http.MethodPost:
		h.handleGenerate(w, r)
	case path == "/api/v1/statements/batch" && r.Method == http.MethodPost:
		h.handleBatch(w, r)
	case path == "/api/v1/statements" && r.Method == http.MethodGet:
		h.handleList(w, r)
	case strings.HasPrefix(path, "/api/v1/statements/"):
		h.handleByID(w, r, strings.TrimPrefix(path, "/api/v1/statements/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type generateRequest struct {
	TenantID    string `json:"tenant_id"`
	ContractID  string `json:"contract_id"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	Regenerate  bool   `json:"regenerate"`
}

func (req generateRequest) period() (time.Time, time.Time, error) {
	start, err := parseDate(req.PeriodStart)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("period_start: %w", err)
	}
	end, err := parseDate(req.PeriodEnd)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("period_end: %w", err)
	}
	return start, end, nil
}

func (h *StatementHandler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if !h.authorizeContract(w, r, req.TenantID, req.ContractID) {
		return
	}
	start, end, err := req.period()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := h.service.Generate(r.Context(), req.ContractID, start, end, req.Regenerate)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statementSummary(rec))
	h.logAudit(r, audit.ActionStatementGenerate, rec.ContractID, rec.ID, map[string]any{
		"period_start": rec.PeriodStart,
		"period_end":   rec.PeriodEnd,
		"regenerate":   req.Regenerate,
		"version":      rec.Version,
	})
}

func (h *StatementHandler) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Items []generateRequest `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if len(req.Items) == 0 || len(req.Items) > maxBatchSize {
		http.Error(w, fmt.Sprintf("items must contain 1 to %d requests", maxBatchSize), http.StatusBadRequest)
		return
	}
	requests := make([]statementapp.BatchRequest, 0, len(req.Items))
	for i, item := range req.Items {
		if !h.authorizeContract(w, r, item.TenantID, item.ContractID) {
			return
		}
		start, end, err := item.period()
		if err != nil {
			http.Error(w, fmt.Sprintf("items[%d]: %v", i, err), http.StatusBadRequest)
			return
		}
		requests = append(requests, statementapp.BatchRequest{
			ContractID:  item.ContractID,
			PeriodStart: start,
			PeriodEnd:   end,
			Regenerate:  item.Regenerate,
		})
	}
	results := h.service.BatchGenerate(r.Context(), requests)
	failed := 0
	for _, res := range results {
		if res.Err() != nil {
			failed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   len(results),
		"failed":  failed,
		"results": results,
	})
	h.logAudit(r, audit.ActionStatementBatch, "", "", map[string]any{"total": len(results), "failed": failed})
}

func (h *StatementHandler) handleList(w http.ResponseWriter, r *http.Request) {
	contractID := r.URL.Query().Get("contract_id")
	if !h.authorizeContract(w, r, "", contractID) {
		return
	}
	list, err := h.service.List(r.Context(), contractID)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	summaries := make([]map[string]any, 0, len(list))
	for i := range list {
		summaries = append(summaries, statementSummary(&list[i]))
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *StatementHandler) handleByID(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.Split(rest, "/")
	id := parts[0]
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if len(parts) == 1 && r.Method == http.MethodGet {
		h.handleGet(w, r, id)
		return
	}
	if len(parts) == 2 {
		switch {
		case parts[1] == "finalize" && r.Method == http.MethodPost:
			h.handleFinalize(w, r, id)
			return
		case parts[1] == "void" && r.Method == http.MethodPost:
			h.handleVoid(w, r, id)
			return
		case parts[1] == "verify" && r.Method == http.MethodGet:
			h.handleVerify(w, r, id)
			return
		case parts[1] == "audit" && r.Method == http.MethodGet:
			h.handleAuditTrail(w, r, id)
			return
		case parts[1] == "export.pdf" && r.Method == http.MethodGet:
			h.handleExport(w, r, id, "pdf")
			return
		case parts[1] == "export.xlsx" && r.Method == http.MethodGet:
			h.handleExport(w, r, id, "xlsx")
			return
		}
	}
	w.WriteHeader(http.StatusNotFound)
}

func (h *StatementHandler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *StatementHandler) handleVerify(w http.ResponseWriter, r *http.Request, id string) {
	v, err := h.service.Verify(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"verification": v,
		"matches":      v.Matches(),
	})
}

func (h *StatementHandler) handleAuditTrail(w http.ResponseWriter, r *http.Request, id string) {
	reader, ok := h.auditLogger.(audit.Reader)
	if !ok {
		http.Error(w, "audit trail not stored", http.StatusNotImplemented)
		return
	}
	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	entries, err := reader.Recent(r.Context(), rec.TenantID, rec.ID, 100)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		items = append(items, map[string]any{
			"action":     e.Action,
			"actor":      e.Actor,
			"role":       e.Role,
			"metadata":   e.Metadata,
			"created_at": e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"statement_id": rec.ID, "items": items})
}

func (h *StatementHandler) handleFinalize(w http.ResponseWriter, r *http.Request, id string) {
	rec, err := h.service.Finalize(r.Context(), id)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	resp := statementSummary(rec)
	resp["snapshot_hash"] = rec.SnapshotHash
	writeJSON(w, http.StatusOK, resp)
	h.logAudit(r, audit.ActionStatementFinalize, rec.ContractID, rec.ID, map[string]any{
		"snapshot_hash":    rec.SnapshotHash,
		"advance_recouped": rec.Statement.Advance.RecoupedAfter,
	})
}

func (h *StatementHandler) handleVoid(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	rec, err := h.service.Void(r.Context(), id, req.Reason)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statementSummary(rec))
	h.logAudit(r, audit.ActionStatementVoid, rec.ContractID, rec.ID, map[string]any{"reason": req.Reason})
}

func (h *StatementHandler) handleExport(w http.ResponseWriter, r *http.Request, id, format string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementExport(format, result, time.Since(start))
	}()

	rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		result = metrics.ResultError
		h.respondServiceError(w, r, err)
		return
	}
	var data []byte
	contentType := "application/pdf"
	if format == "pdf" {
		data, err = BuildStatementPDF(rec, h.companyName)
	} else {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		data, err = BuildStatementXLSX(rec, h.companyName)
	}
	if err != nil {
		result = metrics.ResultError
		h.logger.ErrorContext(r.Context(), "statement export", "statement_id", id, "format", format, "err", err)
		http.Error(w, "export "+format+" error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.ID+"."+format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, audit.ActionStatementExport, rec.ContractID, rec.ID, map[string]any{"format": format, "bytes": len(data)})
}

func (h *StatementHandler) handleCalculate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var in royalty.CalculationInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid json: "+err.Error(), http.StatusBadRequest)
		return
	}
	stmt, err := h.service.Calculate(r.Context(), in)
	if err != nil {
		h.respondServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stmt)
}

// authorizeContract rejects a request naming another tenant or a contract the
// caller's tenant does not own. It writes the response and returns false on rejection.
func (h *StatementHandler) authorizeContract(w http.ResponseWriter, r *http.Request, requestTenant, contractID string) bool {
	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID == "" {
		return true
	}
	if requestTenant != "" && requestTenant != tenantID {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	if h.contractChecker == nil || contractID == "" {
		return true
	}
	if err := h.contractChecker.EnsureContractTenant(r.Context(), tenantID, contractID); err != nil {
		if errors.Is(err, auth.ErrTenantMismatch) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return false
		}
		h.logger.ErrorContext(r.Context(), "contract tenant check", "contract_id", contractID, "err", err)
		http.Error(w, "tenant check failed", http.StatusInternalServerError)
		return false
	}
	return true
}

func (h *StatementHandler) logAudit(r *http.Request, action, contractID, statementID string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	entry := audit.FromRequest(r, action, "statement", statementID, contractID, meta)
	if entry.TenantID == "" {
		entry.TenantID = h.service.TenantFor(r.Context())
	}
	if err := h.auditLogger.Log(r.Context(), entry); err != nil {
		h.logger.WarnContext(r.Context(), "audit log", "action", action, "err", err)
	}
}

// errorBody is the JSON error response.
type errorBody struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	Detail any    `json:"detail,omitempty"`
}

func (h *StatementHandler) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "statement request failed", "path", r.URL.Path, "err", err)
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, errorBody) {
	body := errorBody{Error: err.Error(), Kind: royalty.ErrorKind(err)}
	var cfg *royalty.ConfigurationError
	var seq *royalty.SequenceError
	var in *royalty.InputError
	switch {
	case errors.As(err, &in):
		body.Detail = in.Detail
		return http.StatusBadRequest, body
	case errors.As(err, &cfg):
		body.Detail = cfg.Detail
		return http.StatusUnprocessableEntity, body
	case errors.As(err, &seq):
		body.Detail = seq.Detail
		return http.StatusConflict, body
	case errors.Is(err, auth.ErrTenantMismatch):
		return http.StatusForbidden, errorBody{Error: "forbidden"}
	case errors.Is(err, royalty.ErrStatementNotFound), errors.Is(err, royalty.ErrContractNotFound):
		return http.StatusNotFound, body
	case errors.Is(err, royalty.ErrStatementVoided), errors.Is(err, royalty.ErrStatementNotDraft):
		return http.StatusConflict, body
	case errors.Is(err, statementapp.ErrBadRequest), errors.Is(err, royalty.ErrInvalidPeriod):
		return http.StatusBadRequest, body
	}
	return http.StatusInternalServerError, body
}

func statementSummary(rec *royalty.StatementRecord) map[string]any {
	resp := map[string]any{
		"statement_id":       rec.ID,
		"contract_id":        rec.ContractID,
		"status":             rec.Status,
		"version":            rec.Version,
		"period_start":       rec.PeriodStart,
		"period_end":         rec.PeriodEnd,
		"gross_royalty":      rec.Statement.GrossRoyalty,
		"recoupment_applied": rec.Statement.RecoupmentApplied,
		"net_payable":        rec.Statement.NetPayable,
	}
	if rec.Supersedes != "" {
		resp["supersedes"] = rec.Supersedes
	}
	return resp
}

func parseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("required")
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, errors.New("must be YYYY-MM-DD or RFC3339")
	}
	return t.UTC(), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"royalty-cloud/internal/audit"
	"royalty-cloud/internal/auth"
	statementapp "royalty-cloud/internal/royalty/application"
	royalty "royalty-cloud/internal/royalty/domain"
	"royalty-cloud/internal/royalty/infrastructure/memory"
)

const testTenant = "tenant-1"

type recordingAudit struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (a *recordingAudit) Log(_ context.Context, entry audit.Entry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *recordingAudit) Recent(_ context.Context, tenantID, resourceID string, limit int) ([]audit.Entry, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []audit.Entry
	for i := len(a.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if e := a.entries[i]; e.TenantID == tenantID && e.ResourceID == resourceID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

func newTestMux(t *testing.T) (*http.ServeMux, *memory.Store, *recordingAudit) {
	t.Helper()
	store := memory.NewStore()
	store.PutContract(royalty.Contract{
		ID:          "contract-1",
		TenantID:    testTenant,
		TitleID:     "title-1",
		Status:      royalty.ContractActive,
		TierMode:    royalty.TierModePeriod,
		Currency:    "USD",
		AdvancePaid: royalty.MustMoney("1000.00"),
	}, []royalty.Tier{
		{Format: "paperback", MinQuantity: 0, MaxQuantity: royalty.Int64Ptr(5000), Rate: royalty.MustRate("0.10")},
		{Format: "paperback", MinQuantity: 5000, Rate: royalty.MustRate("0.12")},
	})
	store.AddSales(testTenant, royalty.SalesRecord{
		ID:        "s-1",
		TitleID:   "title-1",
		Format:    "paperback",
		Quantity:  6000,
		UnitPrice: royalty.MustMoney("10.00"),
		SaleDate:  time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC),
	})

	svc, err := statementapp.NewStatementService(store, store, nil, testTenant, statementapp.DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	auditLog := &recordingAudit{}
	handler, err := NewStatementHandler(svc, auth.NewContractChecker(store), auditLog, "Acme Press", nil)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	mux := http.NewServeMux()
	handler.Register(mux)
	return mux, store, auditLog
}

func do(t *testing.T, mux http.Handler, method, path, tenantID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if tenantID != "" {
		req = req.WithContext(auth.WithIdentity(req.Context(), tenantID, auth.RoleOperator, "user-1"))
	}
	resp := httptest.NewRecorder()
	mux.ServeHTTP(resp, req)
	return resp
}

func decodeMap(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", resp.Body.String(), err)
	}
	return out
}

var q1Request = map[string]any{
	"contract_id":  "contract-1",
	"period_start": "2024-01-01",
	"period_end":   "2024-04-01",
}

func TestStatementHTTP_GenerateFinalizeExport(t *testing.T) {
	mux, store, auditLog := newTestMux(t)

	resp := do(t, mux, http.MethodPost, "/api/v1/statements/generate", testTenant, q1Request)
	if resp.Code != http.StatusOK {
		t.Fatalf("generate status %d: %s", resp.Code, resp.Body.String())
	}
	gen := decodeMap(t, resp)
	id, _ := gen["statement_id"].(string)
	if id == "" || gen["status"] != royalty.StatementStatusDraft {
		t.Fatalf("generate response: %v", gen)
	}
	if gen["gross_royalty"] != "6200.00" || gen["recoupment_applied"] != "1000.00" || gen["net_payable"] != "5200.00" {
		t.Fatalf("amounts: %v", gen)
	}

	resp = do(t, mux, http.MethodGet, "/api/v1/statements/"+id, testTenant, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("get status %d", resp.Code)
	}
	var rec royalty.StatementRecord
	if err := json.Unmarshal(resp.Body.Bytes(), &rec); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if len(rec.Statement.Formats) != 1 || len(rec.Statement.Formats[0].Resolution.Breakdown) != 2 {
		t.Fatalf("record formats: %+v", rec.Statement.Formats)
	}

	resp = do(t, mux, http.MethodPost, "/api/v1/statements/"+id+"/finalize", testTenant, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("finalize status %d: %s", resp.Code, resp.Body.String())
	}
	fin := decodeMap(t, resp)
	if fin["status"] != royalty.StatementStatusFinalized || fin["snapshot_hash"] == "" {
		t.Fatalf("finalize response: %v", fin)
	}
	contract, _ := store.GetContract(context.Background(), testTenant, "contract-1")
	if contract.AdvanceRecouped.String() != "1000.00" {
		t.Fatalf("advance recouped %s", contract.AdvanceRecouped)
	}

	resp = do(t, mux, http.MethodGet, "/api/v1/statements/"+id+"/verify", testTenant, nil)
	if resp.Code != http.StatusOK || decodeMap(t, resp)["matches"] != true {
		t.Fatalf("verify status %d: %s", resp.Code, resp.Body.String())
	}

	pdf := do(t, mux, http.MethodGet, "/api/v1/statements/"+id+"/export.pdf", testTenant, nil)
	if pdf.Code != http.StatusOK || pdf.Header().Get("Content-Type") != "application/pdf" {
		t.Fatalf("pdf status %d type %s", pdf.Code, pdf.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(pdf.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("pdf body is not a pdf")
	}
	xlsx := do(t, mux, http.MethodGet, "/api/v1/statements/"+id+"/export.xlsx", testTenant, nil)
	if xlsx.Code != http.StatusOK || xlsx.Header().Get("Content-Type") != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("xlsx status %d type %s", xlsx.Code, xlsx.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(xlsx.Body.Bytes(), []byte("PK")) {
		t.Fatalf("xlsx body is not a zip")
	}

	resp = do(t, mux, http.MethodGet, "/api/v1/statements?contract_id=contract-1", testTenant, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("list status %d", resp.Code)
	}
	var list []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("list: %v %s", err, resp.Body.String())
	}

	want := []string{
		audit.ActionStatementGenerate,
		audit.ActionStatementFinalize,
		audit.ActionStatementExport,
		audit.ActionStatementExport,
	}
	got := auditLog.actions()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("audit actions %v want %v", got, want)
	}
}

func TestStatementHTTP_ErrorMapping(t *testing.T) {
	mux, _, _ := newTestMux(t)

	cases := []struct {
		name   string
		method string
		path   string
		tenant string
		body   any
		status int
	}{
		{"unknown statement", http.MethodGet, "/api/v1/statements/stmt-missing", testTenant, nil, http.StatusNotFound},
		{"finalize unknown", http.MethodPost, "/api/v1/statements/stmt-missing/finalize", testTenant, nil, http.StatusNotFound},
		{"bad date", http.MethodPost, "/api/v1/statements/generate", testTenant, map[string]any{
			"contract_id": "contract-1", "period_start": "Q1", "period_end": "2024-04-01",
		}, http.StatusBadRequest},
		{"inverted period", http.MethodPost, "/api/v1/statements/generate", testTenant, map[string]any{
			"contract_id": "contract-1", "period_start": "2024-04-01", "period_end": "2024-01-01",
		}, http.StatusBadRequest},
		{"other tenant's contract", http.MethodPost, "/api/v1/statements/generate", "tenant-2", q1Request, http.StatusForbidden},
		{"tenant in body mismatch", http.MethodPost, "/api/v1/statements/generate", testTenant, map[string]any{
			"tenant_id": "tenant-2", "contract_id": "contract-1", "period_start": "2024-01-01", "period_end": "2024-04-01",
		}, http.StatusForbidden},
		{"list without contract", http.MethodGet, "/api/v1/statements", testTenant, nil, http.StatusBadRequest},
		{"unknown subpath", http.MethodGet, "/api/v1/statements/stmt-1/unknown", testTenant, nil, http.StatusNotFound},
		{"calculate wrong method", http.MethodGet, "/api/v1/calculate", testTenant, nil, http.StatusMethodNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := do(t, mux, tc.method, tc.path, tc.tenant, tc.body)
			if resp.Code != tc.status {
				t.Fatalf("status %d want %d: %s", resp.Code, tc.status, resp.Body.String())
			}
		})
	}
}

func TestStatementHTTP_VoidedStatementConflicts(t *testing.T) {
	mux, _, _ := newTestMux(t)

	resp := do(t, mux, http.MethodPost, "/api/v1/statements/generate", testTenant, q1Request)
	id, _ := decodeMap(t, resp)["statement_id"].(string)

	resp = do(t, mux, http.MethodPost, "/api/v1/statements/"+id+"/void", testTenant, map[string]string{"reason": "wrong feed"})
	if resp.Code != http.StatusOK {
		t.Fatalf("void status %d: %s", resp.Code, resp.Body.String())
	}
	resp = do(t, mux, http.MethodPost, "/api/v1/statements/"+id+"/finalize", testTenant, nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("finalize voided status %d", resp.Code)
	}
}

func TestStatementHTTP_CorrectionAfterVoid(t *testing.T) {
	mux, _, _ := newTestMux(t)

	resp := do(t, mux, http.MethodPost, "/api/v1/statements/generate", testTenant, q1Request)
	id, _ := decodeMap(t, resp)["statement_id"].(string)
	if resp := do(t, mux, http.MethodPost, "/api/v1/statements/"+id+"/finalize", testTenant, nil); resp.Code != http.StatusOK {
		t.Fatalf("finalize status %d: %s", resp.Code, resp.Body.String())
	}
	if resp := do(t, mux, http.MethodPost, "/api/v1/statements/"+id+"/void", testTenant, map[string]string{"reason": "restated"}); resp.Code != http.StatusOK {
		t.Fatalf("void status %d: %s", resp.Code, resp.Body.String())
	}

	regen := map[string]any{"regenerate": true}
	for k, v := range q1Request {
		regen[k] = v
	}
	resp = do(t, mux, http.MethodPost, "/api/v1/statements/generate", testTenant, regen)
	if resp.Code != http.StatusOK {
		t.Fatalf("correction status %d: %s", resp.Code, resp.Body.String())
	}
	body := decodeMap(t, resp)
	if body["supersedes"] != id || body["version"] != float64(2) {
		t.Fatalf("correction body: %v", body)
	}
	correction, _ := body["statement_id"].(string)
	if resp := do(t, mux, http.MethodPost, "/api/v1/statements/"+correction+"/finalize", testTenant, nil); resp.Code != http.StatusOK {
		t.Fatalf("finalize correction status %d: %s", resp.Code, resp.Body.String())
	}
}

func TestStatementHTTP_Calculate(t *testing.T) {
	mux, _, _ := newTestMux(t)
	sale := time.Date(2024, time.February, 1, 0, 0, 0, 0, time.UTC)
	input := royalty.CalculationInput{
		Contract: royalty.Contract{
			ID:          "adhoc-1",
			TitleID:     "title-9",
			Status:      royalty.ContractActive,
			TierMode:    royalty.TierModePeriod,
			Currency:    "USD",
			AdvancePaid: royalty.MustMoney("0"),
		},
		Tiers: []royalty.Tier{{Format: "ebook", MinQuantity: 0, Rate: royalty.MustRate("0.25")}},
		Sales: []royalty.SalesRecord{{
			ID: "s-1", TitleID: "title-9", Format: "ebook", Quantity: 100, UnitPrice: royalty.MustMoney("4.00"), SaleDate: sale,
		}},
		PeriodStart: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2024, time.April, 1, 0, 0, 0, 0, time.UTC),
	}
	resp := do(t, mux, http.MethodPost, "/api/v1/calculate", testTenant, input)
	if resp.Code != http.StatusOK {
		t.Fatalf("calculate status %d: %s", resp.Code, resp.Body.String())
	}
	var stmt royalty.Statement
	if err := json.Unmarshal(resp.Body.Bytes(), &stmt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stmt.GrossRoyalty.String() != "100.00" || stmt.NetPayable.String() != "100.00" {
		t.Fatalf("statement: gross %s net %s", stmt.GrossRoyalty, stmt.NetPayable)
	}

	input.Tiers = []royalty.Tier{
		{Format: "ebook", MinQuantity: 0, MaxQuantity: royalty.Int64Ptr(100), Rate: royalty.MustRate("0.25")},
		{Format: "ebook", MinQuantity: 50, Rate: royalty.MustRate("0.30")},
	}
	resp = do(t, mux, http.MethodPost, "/api/v1/calculate", testTenant, input)
	if resp.Code != http.StatusUnprocessableEntity {
		t.Fatalf("overlapping tiers status %d: %s", resp.Code, resp.Body.String())
	}
	body := decodeMap(t, resp)
	if body["kind"] != royalty.KindConfiguration {
		t.Fatalf("error body: %v", body)
	}
}

func TestErrorResponse(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{&royalty.InputError{Detail: royalty.Detail{Field: "quantity"}}, http.StatusBadRequest},
		{&royalty.ConfigurationError{Detail: royalty.Detail{Format: "ebook"}}, http.StatusUnprocessableEntity},
		{&royalty.SequenceError{Detail: royalty.Detail{Field: "period_start"}}, http.StatusConflict},
		{royalty.ErrStatementNotDraft, http.StatusConflict},
		{royalty.ErrContractNotFound, http.StatusNotFound},
		{auth.ErrTenantMismatch, http.StatusForbidden},
		{statementapp.ErrBadRequest, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		status, _ := errorResponse(tc.err)
		if status != tc.status {
			t.Fatalf("%v: status %d want %d", tc.err, status, tc.status)
		}
	}
}

func TestStatementHTTP_AuditTrail(t *testing.T) {
	mux, _, _ := newTestMux(t)

	resp := do(t, mux, http.MethodPost, "/api/v1/statements/generate", testTenant, q1Request)
	if resp.Code != http.StatusOK {
		t.Fatalf("generate status %d: %s", resp.Code, resp.Body.String())
	}
	id, _ := decodeMap(t, resp)["statement_id"].(string)
	if resp := do(t, mux, http.MethodPost, "/api/v1/statements/"+id+"/finalize", testTenant, nil); resp.Code != http.StatusOK {
		t.Fatalf("finalize status %d: %s", resp.Code, resp.Body.String())
	}

	resp = do(t, mux, http.MethodGet, "/api/v1/statements/"+id+"/audit", testTenant, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("audit status %d: %s", resp.Code, resp.Body.String())
	}
	items, _ := decodeMap(t, resp)["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("expected 2 audit items, got %d", len(items))
	}
	if first, _ := items[0].(map[string]any); first["action"] != audit.ActionStatementFinalize {
		t.Fatalf("newest entry: %v", items[0])
	}
}

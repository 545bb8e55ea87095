package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"royalty-cloud/internal/auth"
	royalty "royalty-cloud/internal/royalty/domain"
	"royalty-cloud/internal/royalty/infrastructure/memory"
)

const testTenant = "tenant-1"

var q1 = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []any
}

func (p *recordingPublisher) Publish(_ context.Context, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func quarterBounds(n int) (time.Time, time.Time) {
	start := q1.AddDate(0, 3*n, 0)
	return start, start.AddDate(0, 3, 0)
}

func seedContract(store *memory.Store, id, titleID string, mode royalty.TierMode, paid string) {
	store.PutContract(royalty.Contract{
		ID:          id,
		TenantID:    testTenant,
		TitleID:     titleID,
		Status:      royalty.ContractActive,
		TierMode:    mode,
		Currency:    "USD",
		AdvancePaid: royalty.MustMoney(paid),
	}, []royalty.Tier{
		{Format: "paperback", MinQuantity: 0, MaxQuantity: royalty.Int64Ptr(5000), Rate: royalty.MustRate("0.10")},
		{Format: "paperback", MinQuantity: 5000, Rate: royalty.MustRate("0.12")},
	})
}

func addSale(store *memory.Store, titleID string, quarter int, qty int64) {
	start, _ := quarterBounds(quarter)
	store.AddSales(testTenant, royalty.SalesRecord{
		ID:        fmt.Sprintf("%s-s-%d-%d", titleID, quarter, qty),
		TitleID:   titleID,
		Format:    "paperback",
		Quantity:  qty,
		UnitPrice: royalty.MustMoney("10.00"),
		SaleDate:  start.AddDate(0, 0, 10),
	})
}

func addReturn(store *memory.Store, titleID string, quarter int, qty int64, status royalty.ReturnStatus) {
	start, _ := quarterBounds(quarter)
	store.AddReturns(testTenant, royalty.ReturnRecord{
		ID:         fmt.Sprintf("%s-r-%d-%d", titleID, quarter, qty),
		TitleID:    titleID,
		Format:     "paperback",
		Quantity:   qty,
		UnitPrice:  royalty.MustMoney("10.00"),
		ReturnDate: start.AddDate(0, 0, 20),
		Status:     status,
	})
}

func newTestService(t *testing.T, store *memory.Store, pub EventPublisher) *StatementService {
	t.Helper()
	svc, err := NewStatementService(store, store, pub, testTenant, DefaultConfig(), nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func TestStatementServiceAdvanceWorkflow(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContract(store, "contract-1", "title-1", royalty.TierModePeriod, "1000.00")
	addSale(store, "title-1", 0, 6000)
	addReturn(store, "title-1", 1, 200, royalty.ReturnApproved)
	addReturn(store, "title-1", 1, 999, royalty.ReturnPending)
	addSale(store, "title-1", 2, 500)
	pub := &recordingPublisher{}
	svc := newTestService(t, store, pub)

	wantRecouped := []string{"1000.00", "1000.00", "1000.00"}
	wantNet := []string{"5200.00", "-200.00", "500.00"}
	for q := 0; q < 3; q++ {
		start, end := quarterBounds(q)
		draft, err := svc.Generate(ctx, "contract-1", start, end, false)
		if err != nil {
			t.Fatalf("q%d generate: %v", q+1, err)
		}
		if draft.Status != royalty.StatementStatusDraft || draft.Version != 1 {
			t.Fatalf("q%d draft: %+v", q+1, draft)
		}
		final, err := svc.Finalize(ctx, draft.ID)
		if err != nil {
			t.Fatalf("q%d finalize: %v", q+1, err)
		}
		if final.SnapshotHash == "" || final.Status != royalty.StatementStatusFinalized {
			t.Fatalf("q%d final: %+v", q+1, final)
		}
		if got := final.Statement.NetPayable.String(); got != wantNet[q] {
			t.Fatalf("q%d net %s want %s", q+1, got, wantNet[q])
		}
		contract, _ := store.GetContract(ctx, testTenant, "contract-1")
		if contract.AdvanceRecouped.String() != wantRecouped[q] {
			t.Fatalf("q%d recouped %s", q+1, contract.AdvanceRecouped)
		}
	}
	if len(pub.events) != 3 {
		t.Fatalf("expected 3 finalized events, got %d", len(pub.events))
	}
	event, ok := pub.events[0].(StatementFinalized)
	if !ok || event.ContractID != "contract-1" || event.AdvanceRecouped.String() != "1000.00" {
		t.Fatalf("event: %+v", pub.events[0])
	}

	start, end := quarterBounds(0)
	if _, err := svc.Generate(ctx, "contract-1", start, end, true); !errors.Is(err, royalty.ErrSequence) {
		t.Fatalf("regenerating a finalized period should be a sequence error, got %v", err)
	}
}

func TestStatementServiceNoReversalOnNegativePeriod(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContract(store, "contract-1", "title-1", royalty.TierModePeriod, "1000.00")
	addSale(store, "title-1", 0, 600)
	addReturn(store, "title-1", 1, 200, royalty.ReturnApproved)
	addSale(store, "title-1", 2, 500)
	svc := newTestService(t, store, nil)

	want := []struct{ applied, net, recouped string }{
		{"600.00", "0.00", "600.00"},
		{"0.00", "-200.00", "600.00"},
		{"400.00", "100.00", "1000.00"},
	}
	for q, w := range want {
		start, end := quarterBounds(q)
		draft, err := svc.Generate(ctx, "contract-1", start, end, false)
		if err != nil {
			t.Fatalf("q%d generate: %v", q+1, err)
		}
		if _, err := svc.Finalize(ctx, draft.ID); err != nil {
			t.Fatalf("q%d finalize: %v", q+1, err)
		}
		st := draft.Statement
		if st.RecoupmentApplied.String() != w.applied || st.NetPayable.String() != w.net || st.Advance.RecoupedAfter.String() != w.recouped {
			t.Fatalf("q%d: applied %s net %s recouped %s", q+1, st.RecoupmentApplied, st.NetPayable, st.Advance.RecoupedAfter)
		}
	}
}

func TestStatementServiceGenerateReturnsExistingDraft(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContract(store, "contract-1", "title-1", royalty.TierModePeriod, "0.00")
	addSale(store, "title-1", 0, 10)
	svc := newTestService(t, store, nil)

	start, end := quarterBounds(0)
	first, err := svc.Generate(ctx, "contract-1", start, end, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	again, err := svc.Generate(ctx, "contract-1", start, end, false)
	if err != nil {
		t.Fatalf("generate again: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected existing draft %s, got %s", first.ID, again.ID)
	}
	regen, err := svc.Generate(ctx, "contract-1", start, end, true)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if regen.ID == first.ID || regen.Version != 2 {
		t.Fatalf("regenerate: %+v", regen)
	}
	list, err := svc.List(ctx, "contract-1")
	if err != nil || len(list) != 2 {
		t.Fatalf("list: %d %v", len(list), err)
	}
}

func TestStatementServiceStaleDraft(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContract(store, "contract-1", "title-1", royalty.TierModePeriod, "1000.00")
	addSale(store, "title-1", 0, 100)
	addSale(store, "title-1", 1, 100)
	svc := newTestService(t, store, nil)

	s1, e1 := quarterBounds(0)
	s2, e2 := quarterBounds(1)
	d1, err := svc.Generate(ctx, "contract-1", s1, e1, false)
	if err != nil {
		t.Fatalf("generate q1: %v", err)
	}
	d2, err := svc.Generate(ctx, "contract-1", s2, e2, false)
	if err != nil {
		t.Fatalf("generate q2: %v", err)
	}
	if _, err := svc.Finalize(ctx, d1.ID); err != nil {
		t.Fatalf("finalize q1: %v", err)
	}
	_, err = svc.Finalize(ctx, d2.ID)
	var seq *royalty.SequenceError
	if !errors.As(err, &seq) {
		t.Fatalf("expected stale draft sequence error, got %v", err)
	}

	d2, err = svc.Generate(ctx, "contract-1", s2, e2, true)
	if err != nil {
		t.Fatalf("regenerate q2: %v", err)
	}
	final, err := svc.Finalize(ctx, d2.ID)
	if err != nil {
		t.Fatalf("finalize regenerated q2: %v", err)
	}
	if final.Statement.Advance.RecoupedAfter.String() != "200.00" {
		t.Fatalf("recouped after q2: %s", final.Statement.Advance.RecoupedAfter)
	}
}

func TestStatementServiceConcurrentFinalize(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContract(store, "contract-1", "title-1", royalty.TierModePeriod, "1000.00")
	addSale(store, "title-1", 0, 100)
	pub := &recordingPublisher{}
	svc := newTestService(t, store, pub)

	start, end := quarterBounds(0)
	draft, err := svc.Generate(ctx, "contract-1", start, end, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Finalize(ctx, draft.ID)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("finalize %d: %v", i, err)
		}
	}
	contract, _ := store.GetContract(ctx, testTenant, "contract-1")
	if contract.AdvanceRecouped.String() != "100.00" {
		t.Fatalf("advance applied more than once: %s", contract.AdvanceRecouped)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected one event, got %d", len(pub.events))
	}
}

func TestStatementServiceVoidKeepsAdvance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContract(store, "contract-1", "title-1", royalty.TierModePeriod, "1000.00")
	addSale(store, "title-1", 0, 100)
	svc := newTestService(t, store, nil)

	start, end := quarterBounds(0)
	draft, _ := svc.Generate(ctx, "contract-1", start, end, false)
	if _, err := svc.Finalize(ctx, draft.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	voided, err := svc.Void(ctx, draft.ID, "duplicate sales feed")
	if err != nil {
		t.Fatalf("void: %v", err)
	}
	if voided.Status != royalty.StatementStatusVoided || voided.VoidReason != "duplicate sales feed" {
		t.Fatalf("voided: %+v", voided)
	}
	contract, _ := store.GetContract(ctx, testTenant, "contract-1")
	if contract.AdvanceRecouped.String() != "100.00" {
		t.Fatalf("void reversed the advance: %s", contract.AdvanceRecouped)
	}
	if _, err := svc.Finalize(ctx, draft.ID); !errors.Is(err, royalty.ErrStatementVoided) {
		t.Fatalf("expected voided error, got %v", err)
	}
}

func TestStatementServiceCorrectsVoidedStatement(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContract(store, "contract-1", "title-1", royalty.TierModePeriod, "1000.00")
	addSale(store, "title-1", 0, 100)
	addSale(store, "title-1", 1, 10)
	svc := newTestService(t, store, nil)

	start, end := quarterBounds(0)
	original, err := svc.Generate(ctx, "contract-1", start, end, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := svc.Finalize(ctx, original.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := svc.Void(ctx, original.ID, "late sales feed"); err != nil {
		t.Fatalf("void: %v", err)
	}
	addSale(store, "title-1", 0, 50)

	correction, err := svc.Generate(ctx, "contract-1", start, end, true)
	if err != nil {
		t.Fatalf("regenerate after void: %v", err)
	}
	if correction.Supersedes != original.ID || correction.Version != 2 {
		t.Fatalf("correction: %+v", correction)
	}
	adv := correction.Statement.Advance
	if adv.RecoupedBefore.String() != "0.00" || adv.RecoupedAfter.String() != "150.00" {
		t.Fatalf("correction must start from the voided statement's basis: %+v", adv)
	}
	again, err := svc.Generate(ctx, "contract-1", start, end, false)
	if err != nil || again.ID != correction.ID {
		t.Fatalf("existing correction draft: %+v %v", again, err)
	}

	final, err := svc.Finalize(ctx, correction.ID)
	if err != nil {
		t.Fatalf("finalize correction: %v", err)
	}
	if final.Status != royalty.StatementStatusFinalized || final.Supersedes != original.ID {
		t.Fatalf("final: %+v", final)
	}
	contract, _ := store.GetContract(ctx, testTenant, "contract-1")
	if contract.AdvanceRecouped.String() != "150.00" || !contract.LastFinalizedPeriodEnd.Equal(end) {
		t.Fatalf("contract after correction: recouped %s end %v", contract.AdvanceRecouped, contract.LastFinalizedPeriodEnd)
	}
	if _, err := svc.Generate(ctx, "contract-1", start, end, true); !errors.Is(err, royalty.ErrSequence) {
		t.Fatalf("a finalized correction must be voided before another, got %v", err)
	}

	// The next period follows on from the corrected state.
	s2, e2 := quarterBounds(1)
	q2, err := svc.Generate(ctx, "contract-1", s2, e2, false)
	if err != nil {
		t.Fatalf("generate q2: %v", err)
	}
	if _, err := svc.Finalize(ctx, q2.ID); err != nil {
		t.Fatalf("finalize q2: %v", err)
	}
	if q2.Statement.Advance.RecoupedAfter.String() != "160.00" {
		t.Fatalf("q2 recouped after %s", q2.Statement.Advance.RecoupedAfter)
	}
}

func TestStatementServiceCorrectionNeverLowersAdvance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContract(store, "contract-1", "title-1", royalty.TierModePeriod, "1000.00")
	addSale(store, "title-1", 0, 100)
	svc := newTestService(t, store, nil)

	start, end := quarterBounds(0)
	original, _ := svc.Generate(ctx, "contract-1", start, end, false)
	if _, err := svc.Finalize(ctx, original.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := svc.Void(ctx, original.ID, "returns missed"); err != nil {
		t.Fatalf("void: %v", err)
	}
	addReturn(store, "title-1", 0, 40, royalty.ReturnApproved)

	first, err := svc.Generate(ctx, "contract-1", start, end, true)
	if err != nil {
		t.Fatalf("correction: %v", err)
	}
	second, err := svc.Generate(ctx, "contract-1", start, end, true)
	if err != nil {
		t.Fatalf("second correction: %v", err)
	}
	if first.Statement.Advance.RecoupedAfter.String() != "60.00" {
		t.Fatalf("correction recouped after %s", first.Statement.Advance.RecoupedAfter)
	}
	if _, err := svc.Finalize(ctx, first.ID); err != nil {
		t.Fatalf("finalize correction: %v", err)
	}
	contract, _ := store.GetContract(ctx, testTenant, "contract-1")
	if contract.AdvanceRecouped.String() != "100.00" {
		t.Fatalf("correction lowered the advance: %s", contract.AdvanceRecouped)
	}
	var seq *royalty.SequenceError
	if _, err := svc.Finalize(ctx, second.ID); !errors.As(err, &seq) {
		t.Fatalf("two corrections of one void must not both finalize, got %v", err)
	}
}

func TestStatementServiceRejectsPeriodGap(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContract(store, "contract-1", "title-1", royalty.TierModePeriod, "1000.00")
	for q := 0; q < 3; q++ {
		addSale(store, "title-1", q, 100)
	}
	svc := newTestService(t, store, nil)

	s1, e1 := quarterBounds(0)
	d1, _ := svc.Generate(ctx, "contract-1", s1, e1, false)
	if _, err := svc.Finalize(ctx, d1.ID); err != nil {
		t.Fatalf("finalize q1: %v", err)
	}
	s3, e3 := quarterBounds(2)
	d3, err := svc.Generate(ctx, "contract-1", s3, e3, false)
	if err != nil {
		t.Fatalf("a draft ahead of time is allowed: %v", err)
	}
	var seq *royalty.SequenceError
	if _, err := svc.Finalize(ctx, d3.ID); !errors.As(err, &seq) || seq.Field != "period_start" {
		t.Fatalf("expected gap sequence error, got %v", err)
	}

	s2, e2 := quarterBounds(1)
	d2, _ := svc.Generate(ctx, "contract-1", s2, e2, false)
	if _, err := svc.Finalize(ctx, d2.ID); err != nil {
		t.Fatalf("finalize q2: %v", err)
	}
	d3, err = svc.Generate(ctx, "contract-1", s3, e3, true)
	if err != nil {
		t.Fatalf("regenerate q3: %v", err)
	}
	if _, err := svc.Finalize(ctx, d3.ID); err != nil {
		t.Fatalf("finalize q3 after q2: %v", err)
	}
}

func TestStatementServiceZeroSplitTolerance(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContract(store, "contract-1", "title-1", royalty.TierModePeriod, "0.00")
	store.SetOwnership(testTenant, "title-1", []royalty.OwnershipShare{
		{PayeeID: "author-a", Percentage: decimal.NewFromInt(60)},
		{PayeeID: "author-b", Percentage: decimal.RequireFromString("39.99")},
	})
	addSale(store, "title-1", 0, 7)
	start, end := quarterBounds(0)

	if _, err := newTestService(t, store, nil).Generate(ctx, "contract-1", start, end, false); err != nil {
		t.Fatalf("default tolerance: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Split.Tolerance = "0"
	strict, err := NewStatementService(store, store, nil, testTenant, cfg, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := strict.Generate(ctx, "contract-1", start, end, true); !errors.Is(err, royalty.ErrConfiguration) {
		t.Fatalf("expected configuration error under zero tolerance, got %v", err)
	}
}

func TestStatementServiceTenantIsolation(t *testing.T) {
	store := memory.NewStore()
	seedContract(store, "contract-1", "title-1", royalty.TierModePeriod, "0.00")
	addSale(store, "title-1", 0, 10)
	svc := newTestService(t, store, nil)

	start, end := quarterBounds(0)
	draft, err := svc.Generate(context.Background(), "contract-1", start, end, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	other := auth.WithIdentity(context.Background(), "tenant-2", auth.RoleAdmin, "intruder")
	if _, err := svc.Get(other, draft.ID); !errors.Is(err, auth.ErrTenantMismatch) {
		t.Fatalf("expected tenant mismatch, got %v", err)
	}
	if _, err := svc.Generate(other, "contract-1", start, end, false); !errors.Is(err, royalty.ErrContractNotFound) {
		t.Fatalf("expected contract not found for other tenant, got %v", err)
	}
	if _, err := svc.Get(context.Background(), "stmt-missing"); !errors.Is(err, royalty.ErrStatementNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestStatementServiceCumulativeMode(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContract(store, "contract-1", "title-1", royalty.TierModeCumulative, "0.00")
	addSale(store, "title-1", 0, 4900)
	addReturn(store, "title-1", 0, 100, royalty.ReturnApproved)
	addSale(store, "title-1", 1, 400)
	svc := newTestService(t, store, nil)

	start, end := quarterBounds(1)
	draft, err := svc.Generate(ctx, "contract-1", start, end, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	res := draft.Statement.Formats[0].Resolution
	if res.BaseQuantity != 4800 || res.Breakdown[0].Units != 200 || res.Breakdown[1].Units != 200 {
		t.Fatalf("cumulative resolution: %+v", res)
	}
	if draft.Statement.GrossRoyalty.String() != "440.00" {
		t.Fatalf("gross: %s", draft.Statement.GrossRoyalty)
	}
}

func TestStatementServiceSplitsPayees(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	seedContract(store, "contract-1", "title-1", royalty.TierModePeriod, "0.00")
	store.SetOwnership(testTenant, "title-1", []royalty.OwnershipShare{
		{PayeeID: "author-a", Percentage: decimal.NewFromInt(60)},
		{PayeeID: "author-b", Percentage: decimal.NewFromInt(40)},
	})
	addSale(store, "title-1", 0, 7)
	svc := newTestService(t, store, nil)

	start, end := quarterBounds(0)
	draft, err := svc.Generate(ctx, "contract-1", start, end, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	payees := draft.Statement.Payees
	if len(payees) != 2 || payees[0].NetPayable.String() != "4.20" || payees[1].NetPayable.String() != "2.80" {
		t.Fatalf("payees: %+v", payees)
	}
}

func TestStatementServiceCalculate(t *testing.T) {
	svc := newTestService(t, memory.NewStore(), nil)
	start, end := quarterBounds(0)
	in := royalty.CalculationInput{
		Contract: royalty.Contract{ID: "c-adhoc", TitleID: "t", TierMode: royalty.TierModePeriod},
		Tiers:    []royalty.Tier{{Format: "ebook", MinQuantity: 0, Rate: royalty.MustRate("0.25")}},
		Sales: []royalty.SalesRecord{{ID: "s1", TitleID: "t", Format: "ebook", Quantity: 4,
			UnitPrice: royalty.MustMoney("5.00"), SaleDate: start}},
		PeriodStart: start,
		PeriodEnd:   end,
	}
	stmt, err := svc.Calculate(context.Background(), in)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if stmt.TenantID != testTenant || stmt.NetPayable.String() != "5.00" {
		t.Fatalf("statement: %+v", stmt)
	}
	in.Contract.TenantID = "tenant-2"
	if _, err := svc.Calculate(context.Background(), in); !errors.Is(err, auth.ErrTenantMismatch) {
		t.Fatalf("expected tenant mismatch, got %v", err)
	}
}

func TestBatchGenerate(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	var requests []BatchRequest
	for i := 0; i < 12; i++ {
		id := fmt.Sprintf("contract-%02d", i)
		title := fmt.Sprintf("title-%02d", i)
		seedContract(store, id, title, royalty.TierModePeriod, "0.00")
		for q := 0; q < 2; q++ {
			addSale(store, title, q, int64(10*(i+1)))
			start, end := quarterBounds(1 - q)
			requests = append(requests, BatchRequest{ContractID: id, PeriodStart: start, PeriodEnd: end})
		}
	}
	requests = append(requests, BatchRequest{ContractID: "missing", PeriodStart: q1, PeriodEnd: q1.AddDate(0, 3, 0)})

	cfg := DefaultConfig()
	cfg.Batch.Workers = 3
	svc, err := NewStatementService(store, store, nil, testTenant, cfg, nil)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	results := svc.BatchGenerate(ctx, requests)
	if len(results) != len(requests) {
		t.Fatalf("results: %d", len(results))
	}
	for i, r := range results[:len(results)-1] {
		if r.Err() != nil || r.Statement == nil {
			t.Fatalf("result %d: %v", i, r.Err())
		}
		if r.Statement.ContractID != requests[i].ContractID || !r.Statement.PeriodStart.Equal(requests[i].PeriodStart) {
			t.Fatalf("result %d out of order: %+v", i, r.Statement)
		}
	}
	last := results[len(results)-1]
	if !errors.Is(last.Err(), royalty.ErrContractNotFound) || last.Error == "" || last.Statement != nil {
		t.Fatalf("missing contract result: %+v", last)
	}
}

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	var wg sync.WaitGroup
	counter := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("contract-1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter: %d", counter)
	}
	if len(k.locks) != 0 {
		t.Fatalf("idle keys retained: %d", len(k.locks))
	}
}

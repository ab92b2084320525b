package contract

import (
	"context"
	"errors"
	"testing"
	"time"

	"contractflow.org/internal/audit"
	"contractflow.org/internal/auth"
)

var (
	testClient      = auth.Principal{UserID: "client-1", Roles: []auth.Role{auth.RoleClient}}
	testProcurement = auth.Principal{UserID: "proc-1", Roles: []auth.Role{auth.RoleProcurement}}
	testLegal       = auth.Principal{UserID: "legal-1", Roles: []auth.Role{auth.RoleLegal}}
	testAdmin       = auth.Principal{UserID: "admin-1", Roles: []auth.Role{auth.RoleAdmin}}
)

func validInput() CreateInput {
	start := time.Now().UTC().AddDate(0, 1, 0)
	return CreateInput{
		Title:         "Office cleaning services",
		Type:          TypeService,
		Description:   "Weekly cleaning of two office floors including windows.",
		TargetPersons: 3,
		Budget:        Budget{Minimum: 500_000, Maximum: 900_000, Currency: "EUR"},
		StartDate:     start,
		EndDate:       start.AddDate(1, 0, 0),
	}
}

func newTestEngine(t *testing.T) (*Engine, *audit.Recorder) {
	t.Helper()
	rec, err := audit.NewRecorder(audit.NewMemoryStore())
	if err != nil {
		t.Fatalf("NewRecorder: %v", err)
	}
	eng, err := NewEngine(NewMemoryStore(), rec, nil)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return eng, rec
}

func TestCreateValidation(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	cases := []struct {
		name   string
		mutate func(*CreateInput)
		field  string
	}{
		{"min over max", func(in *CreateInput) { in.Budget = Budget{Minimum: 10_000, Maximum: 5_000, Currency: "EUR"} }, "budget"},
		{"start after end", func(in *CreateInput) { in.StartDate = in.EndDate.AddDate(0, 1, 0) }, "start_date"},
		{"start equals end", func(in *CreateInput) { in.StartDate = in.EndDate }, "start_date"},
		{"zero persons", func(in *CreateInput) { in.TargetPersons = 0 }, "target_persons"},
		{"too many persons", func(in *CreateInput) { in.TargetPersons = 21 }, "target_persons"},
		{"bad type", func(in *CreateInput) { in.Type = "LEASE" }, "type"},
		{"empty title", func(in *CreateInput) { in.Title = "  " }, "title"},
		{"no currency", func(in *CreateInput) { in.Budget.Currency = "" }, "budget.currency"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			_, err := eng.Create(ctx, testClient, in)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			found := false
			for _, f := range verr.Fields {
				if f == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected field %q in %v", tc.field, verr.Fields)
			}
		})
	}
}

func TestCreateSetsDraftAndAudit(t *testing.T) {
	eng, rec := newTestEngine(t)
	ctx := context.Background()

	c, err := eng.Create(ctx, testClient, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c.Status != StatusDraft {
		t.Fatalf("expected DRAFT, got %s", c.Status)
	}
	if c.ClientID != testClient.UserID {
		t.Fatalf("client not recorded: %s", c.ClientID)
	}
	if c.Reference == "" || c.ID == "" {
		t.Fatalf("identity not generated: %+v", c)
	}

	history, err := rec.EntityHistory(ctx, "contract", c.ID)
	if err != nil {
		t.Fatalf("EntityHistory: %v", err)
	}
	if len(history) != 1 || history[0].Action != "contract.create" {
		t.Fatalf("unexpected history: %v", history)
	}
}

func TestDirectJumpFailsInvalidTransition(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	c, err := eng.Create(ctx, testClient, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := eng.Submit(ctx, testClient, c.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	_, err = eng.TransitionTo(ctx, testProcurement, c.ID, StatusOpenForOffers, "")
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if ite.From != StatusPendingProcurement || ite.To != StatusOpenForOffers {
		t.Fatalf("unexpected error detail: %+v", ite)
	}

	got, _ := eng.Get(ctx, c.ID)
	if got.Status != StatusPendingProcurement {
		t.Fatalf("status changed on failed transition: %s", got.Status)
	}
}

func TestFullApprovalChain(t *testing.T) {
	eng, rec := newTestEngine(t)
	ctx := context.Background()

	c, _ := eng.Create(ctx, testClient, validInput())
	if _, err := eng.Submit(ctx, testClient, c.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := eng.ReviewProcurement(ctx, testProcurement, c.ID, true, "budget fits"); err != nil {
		t.Fatalf("ReviewProcurement: %v", err)
	}
	got, err := eng.ReviewLegal(ctx, testLegal, c.ID, true, "clauses fine")
	if err != nil {
		t.Fatalf("ReviewLegal: %v", err)
	}
	if got.Status != StatusOpenForOffers {
		t.Fatalf("expected OPEN_FOR_OFFERS, got %s", got.Status)
	}
	if got.OpenForOffersAt == nil {
		t.Fatal("openForOffersAt not stamped")
	}
	if got.Workflow.Procurement.ReviewedBy != testProcurement.UserID || got.Workflow.Procurement.Status != ReviewApproved {
		t.Fatalf("procurement stamp missing: %+v", got.Workflow.Procurement)
	}
	if got.Workflow.Legal.ReviewedBy != testLegal.UserID {
		t.Fatalf("legal stamp missing: %+v", got.Workflow.Legal)
	}

	history, _ := rec.EntityHistory(ctx, "contract", c.ID)
	if len(history) != 4 { // create + three transitions
		t.Fatalf("expected 4 audit entries, got %d", len(history))
	}
}

func TestRoleGateInsideEngine(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	c, _ := eng.Create(ctx, testClient, validInput())
	if _, err := eng.Submit(ctx, testClient, c.ID); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Legal may not decide the procurement stage.
	if _, err := eng.ReviewProcurement(ctx, testLegal, c.ID, true, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	// Nor may the owning client.
	if _, err := eng.ReviewProcurement(ctx, testClient, c.ID, true, ""); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for client, got %v", err)
	}
	// A non-owner client may not submit at all.
	c2, _ := eng.Create(ctx, testClient, validInput())
	stranger := auth.Principal{UserID: "other-client", Roles: []auth.Role{auth.RoleClient}}
	if _, err := eng.Submit(ctx, stranger, c2.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden for stranger, got %v", err)
	}
}

func TestAdminFinalRejectionStampsStageAndReason(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	c := advanceToPendingFinalApproval(t, eng)

	got, err := eng.Finalize(ctx, testAdmin, c.ID, false, "budget")
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if got.Status != StatusRejected {
		t.Fatalf("expected REJECTED, got %s", got.Status)
	}
	if got.Workflow.FinalApproval.Status != ReviewRejected {
		t.Fatalf("final approval stamp wrong: %+v", got.Workflow.FinalApproval)
	}
	if got.RejectionStage != "admin" {
		t.Fatalf("expected rejection stage admin, got %q", got.RejectionStage)
	}
	if got.Workflow.FinalApproval.Notes != "budget" {
		t.Fatalf("notes not carried: %+v", got.Workflow.FinalApproval)
	}
	if got.RejectedAt == nil {
		t.Fatal("rejectedAt not stamped")
	}
}

func TestBackwardTransitionClearsStageStamp(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	c, _ := eng.Create(ctx, testClient, validInput())
	eng.Submit(ctx, testClient, c.ID)
	eng.ReviewProcurement(ctx, testProcurement, c.ID, true, "ok")

	got, err := eng.TransitionTo(ctx, testLegal, c.ID, StatusPendingProcurement, "needs rework")
	if err != nil {
		t.Fatalf("send back: %v", err)
	}
	if got.Status != StatusPendingProcurement {
		t.Fatalf("expected PENDING_PROCUREMENT, got %s", got.Status)
	}
	if got.Workflow.Procurement.ReviewedBy != "" {
		t.Fatalf("procurement stamp not cleared: %+v", got.Workflow.Procurement)
	}
}

func TestRejectionReasonRecordedAtEachStage(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	c, _ := eng.Create(ctx, testClient, validInput())
	eng.Submit(ctx, testClient, c.ID)

	got, err := eng.ReviewProcurement(ctx, testProcurement, c.ID, false, "supplier blacklisted")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if got.RejectionStage != "procurement" {
		t.Fatalf("expected procurement stage, got %q", got.RejectionStage)
	}
	// Terminal: nothing moves a rejected contract.
	if _, err := eng.Submit(ctx, testClient, c.ID); err == nil {
		t.Fatal("expected failure on terminal state")
	}
}

func TestUpdateGuards(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	c, _ := eng.Create(ctx, testClient, validInput())

	title := "Renamed engagement"
	if _, err := eng.Update(ctx, testClient, c.ID, UpdateInput{Title: &title}); err != nil {
		t.Fatalf("owner update in DRAFT: %v", err)
	}

	// Status is not an updatable field at all: only transitions move it.
	got, _ := eng.Get(ctx, c.ID)
	if got.Title != title || got.Status != StatusDraft {
		t.Fatalf("unexpected state after update: %+v", got)
	}

	stranger := auth.Principal{UserID: "other", Roles: []auth.Role{auth.RoleClient}}
	if _, err := eng.Update(ctx, stranger, c.ID, UpdateInput{Title: &title}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}

	bad := Budget{Minimum: 9, Maximum: 1, Currency: "EUR"}
	var verr *ValidationError
	if _, err := eng.Update(ctx, testClient, c.ID, UpdateInput{Budget: &bad}); !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	// Editing stops once review is done.
	eng.Submit(ctx, testClient, c.ID)
	eng.ReviewProcurement(ctx, testProcurement, c.ID, true, "")
	eng.ReviewLegal(ctx, testLegal, c.ID, true, "")
	if _, err := eng.Update(ctx, testAdmin, c.ID, UpdateInput{Title: &title}); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("expected ErrNotEditable, got %v", err)
	}
}

func TestSoftDelete(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	c, _ := eng.Create(ctx, testClient, validInput())
	if err := eng.Delete(ctx, testClient, c.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := eng.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("Get after delete: %v", err)
	}
	if !got.Deleted || got.DeletedAt == nil || got.DeletedBy != testClient.UserID {
		t.Fatalf("soft-delete fields not stamped: %+v", got)
	}

	// Deleted contracts are invisible to transitions and lists.
	if _, err := eng.Submit(ctx, testClient, c.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	list, _ := eng.List(ctx, Filter{ClientID: testClient.UserID})
	for _, item := range list {
		if item.ID == c.ID {
			t.Fatal("deleted contract listed")
		}
	}
}

func TestConcurrentSubmitOnlyOneWins(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	c, _ := eng.Create(ctx, testClient, validInput())

	const n = 16
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func() {
			_, err := eng.Submit(ctx, testClient, c.ID)
			errs <- err
		}()
	}
	var wins int
	for i := 0; i < n; i++ {
		if err := <-errs; err == nil {
			wins++
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winning submit, got %d", wins)
	}
	got, _ := eng.Get(ctx, c.ID)
	if got.Status != StatusPendingProcurement {
		t.Fatalf("unexpected status: %s", got.Status)
	}
}

func advanceToPendingFinalApproval(t *testing.T, eng *Engine) *Contract {
	t.Helper()
	ctx := context.Background()
	coordinator := auth.Principal{UserID: "coord-1", Roles: []auth.Role{auth.RoleCoordinator}}

	c, err := eng.Create(ctx, testClient, validInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, step := range []func() (*Contract, error){
		func() (*Contract, error) { return eng.Submit(ctx, testClient, c.ID) },
		func() (*Contract, error) { return eng.ReviewProcurement(ctx, testProcurement, c.ID, true, "") },
		func() (*Contract, error) { return eng.ReviewLegal(ctx, testLegal, c.ID, true, "") },
		func() (*Contract, error) { return eng.StartOfferSelection(ctx, coordinator, c.ID, "offer-1", "") },
		func() (*Contract, error) { return eng.FinishOfferSelection(ctx, coordinator, c.ID) },
	} {
		if _, err := step(); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}
	got, _ := eng.Get(ctx, c.ID)
	if got.Status != StatusPendingFinalApproval {
		t.Fatalf("setup failed, status %s", got.Status)
	}
	return got
}

package contract

import (
	"testing"

	"contractflow.org/internal/auth"
)

func TestTransitionTableClosedOverStatusSet(t *testing.T) {
	for from, tos := range transitions {
		if !ValidStatus(from) {
			t.Fatalf("status %s missing from set", from)
		}
		for _, to := range tos {
			if !ValidStatus(to) {
				t.Fatalf("transition %s -> %s targets unknown status", from, to)
			}
		}
	}
}

func TestTerminalStatesHaveNoExits(t *testing.T) {
	for _, s := range []Status{StatusRejected, StatusCancelled, StatusCompleted} {
		if len(transitions[s]) != 0 {
			t.Fatalf("expected %s to be terminal, has exits %v", s, transitions[s])
		}
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		want     bool
	}{
		{StatusDraft, StatusPendingProcurement, true},
		{StatusDraft, StatusOpenForOffers, false},
		{StatusPendingProcurement, StatusPendingLegal, true},
		{StatusPendingProcurement, StatusDraft, true},
		{StatusPendingLegal, StatusOpenForOffers, true},
		{StatusPendingLegal, StatusPendingProcurement, true},
		{StatusOpenForOffers, StatusOfferSelected, true},
		{StatusOpenForOffers, StatusPendingFinalApproval, false},
		{StatusOfferSelected, StatusPendingFinalApproval, true},
		{StatusPendingFinalApproval, StatusFinalApproved, true},
		{StatusPendingFinalApproval, StatusOfferSelected, true},
		{StatusFinalApproved, StatusCompleted, true},
		{StatusFinalApproved, StatusCancelled, true},
		{StatusCompleted, StatusDraft, false},
		{StatusRejected, StatusPendingProcurement, false},
		// legacy workflow
		{StatusDraft, StatusPendingApproval, true},
		{StatusPendingApproval, StatusPublished, true},
		{StatusPublished, StatusSearchingProvider, true},
		{StatusSearchingProvider, StatusProviderAssigned, true},
		{StatusProviderAssigned, StatusInProgress, true},
		{StatusInProgress, StatusCompleted, true},
		{StatusPublished, StatusOpenForOffers, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s)=%v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestCanBeEdited(t *testing.T) {
	editable := map[Status]bool{
		StatusDraft:              true,
		StatusPendingProcurement: true,
		StatusPendingLegal:       true,
		StatusPendingApproval:    true,
	}
	for s := range transitions {
		c := &Contract{Status: s}
		if got := c.CanBeEdited(); got != editable[s] {
			t.Fatalf("CanBeEdited in %s = %v, want %v", s, got, editable[s])
		}
	}
}

func TestAcceptsOffers(t *testing.T) {
	for s := range transitions {
		c := &Contract{Status: s}
		if got := c.AcceptsOffers(); got != (s == StatusOpenForOffers) {
			t.Fatalf("AcceptsOffers in %s = %v", s, got)
		}
	}
	deleted := &Contract{Status: StatusOpenForOffers, Deleted: true}
	if deleted.AcceptsOffers() {
		t.Fatal("deleted contract must not accept offers")
	}
}

func TestStageOwnership(t *testing.T) {
	owner := "client-1"
	c := &Contract{ClientID: owner}

	client := auth.Principal{UserID: owner, Roles: []auth.Role{auth.RoleClient}}
	stranger := auth.Principal{UserID: "other", Roles: []auth.Role{auth.RoleClient}}
	procurement := auth.Principal{UserID: "p-1", Roles: []auth.Role{auth.RoleProcurement}}
	admin := auth.Principal{UserID: "a-1", Roles: []auth.Role{auth.RoleAdmin}}

	if !allowedFor(client, c, StatusDraft, StatusPendingProcurement) {
		t.Fatal("owning client must be able to submit")
	}
	if allowedFor(stranger, c, StatusDraft, StatusPendingProcurement) {
		t.Fatal("non-owner client must not submit someone else's contract")
	}
	if allowedFor(client, c, StatusPendingProcurement, StatusPendingLegal) {
		t.Fatal("client must not approve procurement stage")
	}
	if !allowedFor(procurement, c, StatusPendingProcurement, StatusRejected) {
		t.Fatal("procurement must be able to reject its stage")
	}
	if !allowedFor(admin, c, StatusPendingFinalApproval, StatusFinalApproved) {
		t.Fatal("admin owns final approval")
	}
	// legacy transitions are maintenance, admin only
	if allowedFor(procurement, c, StatusPublished, StatusSearchingProvider) {
		t.Fatal("legacy transition must not be open to procurement")
	}
	if !allowedFor(admin, c, StatusPublished, StatusSearchingProvider) {
		t.Fatal("admin must be able to drive legacy transitions")
	}
}

func TestRejectionStage(t *testing.T) {
	cases := map[Status]string{
		StatusPendingProcurement:   "procurement",
		StatusPendingLegal:         "legal",
		StatusPendingFinalApproval: "admin",
		StatusPendingApproval:      "approval",
		StatusDraft:                "",
	}
	for from, want := range cases {
		if got := rejectionStage(from); got != want {
			t.Fatalf("rejectionStage(%s)=%q, want %q", from, got, want)
		}
	}
}

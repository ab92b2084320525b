package contract

import "contractflow.org/internal/auth"

// transitions is the single source of truth for the state machine. Both the
// current review workflow and the legacy one live in this one map, so neither
// needs its own switch statement.
var transitions = map[Status][]Status{
	StatusDraft:                {StatusPendingProcurement, StatusPendingApproval},
	StatusPendingProcurement:   {StatusPendingLegal, StatusRejected, StatusDraft},
	StatusPendingLegal:         {StatusOpenForOffers, StatusRejected, StatusPendingProcurement},
	StatusOpenForOffers:        {StatusOfferSelected, StatusCancelled},
	StatusOfferSelected:        {StatusPendingFinalApproval},
	StatusPendingFinalApproval: {StatusFinalApproved, StatusRejected, StatusOfferSelected},
	StatusFinalApproved:        {StatusCompleted, StatusCancelled},

	// Legacy workflow.
	StatusPendingApproval:   {StatusPublished, StatusRejected, StatusDraft},
	StatusPublished:         {StatusSearchingProvider, StatusCancelled},
	StatusSearchingProvider: {StatusProviderAssigned, StatusCancelled},
	StatusProviderAssigned:  {StatusInProgress, StatusCancelled},
	StatusInProgress:        {StatusCompleted, StatusCancelled},

	// Terminal states have no outgoing transitions.
	StatusRejected:  nil,
	StatusCancelled: nil,
	StatusCompleted: nil,
}

// ValidStatus reports whether s is a member of the enumerated state set.
func ValidStatus(s Status) bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the (from, to) pair is in the table.
func CanTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

type transitionKey struct {
	from Status
	to   Status
}

// stageOwners binds each transition to the roles allowed to trigger it. The
// guard lives here, inside the engine, so a call site that forgets its own
// role check cannot silently allow an unauthorized transition. Admin may
// additionally trigger any transition.
var stageOwners = map[transitionKey][]auth.Role{
	{StatusDraft, StatusPendingProcurement}: {auth.RoleClient},

	{StatusPendingProcurement, StatusPendingLegal}: {auth.RoleProcurement},
	{StatusPendingProcurement, StatusRejected}:     {auth.RoleProcurement},
	{StatusPendingProcurement, StatusDraft}:        {auth.RoleProcurement},

	{StatusPendingLegal, StatusOpenForOffers}:      {auth.RoleLegal},
	{StatusPendingLegal, StatusRejected}:           {auth.RoleLegal},
	{StatusPendingLegal, StatusPendingProcurement}: {auth.RoleLegal},

	{StatusOpenForOffers, StatusOfferSelected}:        {auth.RoleCoordinator},
	{StatusOpenForOffers, StatusCancelled}:            {auth.RoleCoordinator},
	{StatusOfferSelected, StatusPendingFinalApproval}: {auth.RoleCoordinator},

	{StatusPendingFinalApproval, StatusFinalApproved}: {auth.RoleAdmin},
	{StatusPendingFinalApproval, StatusRejected}:      {auth.RoleAdmin},
	{StatusPendingFinalApproval, StatusOfferSelected}: {auth.RoleAdmin},

	{StatusFinalApproved, StatusCompleted}: {auth.RoleAdmin},
	{StatusFinalApproved, StatusCancelled}: {auth.RoleAdmin},

	// Legacy transitions are data maintenance, admin only.
}

// allowedFor reports whether the actor's roles permit the given transition.
// Client-owned transitions additionally require contract ownership.
func allowedFor(actor auth.Principal, c *Contract, from, to Status) bool {
	if actor.HasRole(auth.RoleAdmin) {
		return true
	}
	owners := stageOwners[transitionKey{from, to}]
	if len(owners) == 0 {
		return false
	}
	if !actor.HasRole(owners...) {
		return false
	}
	for _, r := range owners {
		if r == auth.RoleClient {
			return actor.UserID == c.ClientID
		}
	}
	return true
}

// rejectionStage names the stage a rejection came from, recorded on the
// contract so the outcome is explicable without replaying history.
func rejectionStage(from Status) string {
	switch from {
	case StatusPendingProcurement:
		return "procurement"
	case StatusPendingLegal:
		return "legal"
	case StatusPendingFinalApproval:
		return "admin"
	case StatusPendingApproval:
		return "approval"
	}
	return ""
}

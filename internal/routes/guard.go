package routes

import "github.com/medicore/console/internal/session"

// Authorizer is the view of the identity service the guard needs. All
// methods fail closed, so a malformed identity can only ever deny.
type Authorizer interface {
	Loading() bool
	IsAuthenticated() bool
	IsSuperAdmin() bool
	HasRole(name string) bool
}

// DecisionKind classifies the guard's verdict for a navigation.
type DecisionKind int

const (
	// DecisionPending means hydration has not finished; render a neutral
	// placeholder and decide nothing yet.
	DecisionPending DecisionKind = iota
	// DecisionAllow renders the requested view.
	DecisionAllow
	// DecisionRedirect sends the user to Decision.Target instead. Role
	// mismatches are never shown as errors.
	DecisionRedirect
)

// Decision is the guard's verdict.
type Decision struct {
	Kind   DecisionKind
	Target string
}

func redirect(target string) Decision {
	return Decision{Kind: DecisionRedirect, Target: target}
}

// Decide authorizes one navigation. It is a pure function of the identity
// snapshot and the route's constraints; it holds no state of its own.
func Decide(a Authorizer, rt Route) Decision {
	// Public pages render for anyone, even before hydration settles.
	if rt.Public {
		return Decision{Kind: DecisionAllow}
	}

	if a.Loading() {
		return Decision{Kind: DecisionPending}
	}

	if !a.IsAuthenticated() {
		return redirect(Login)
	}

	if rt.RequireSuperAdmin && !a.IsSuperAdmin() {
		// Send non-super-admins to the hospital-admin landing, never to the
		// super-admin page, so the redirect cannot loop.
		return redirect(HospitalAdminDashboard)
	}

	if len(rt.RequiredRoles) > 0 && !holdsAny(a, rt.RequiredRoles) {
		return redirect(roleLanding(a))
	}

	return Decision{Kind: DecisionAllow}
}

// DefaultRoute computes the landing route for the current identity, used
// after login and when visiting the root path.
func DefaultRoute(a Authorizer) string {
	if !a.IsAuthenticated() {
		return Login
	}
	return roleLanding(a)
}

// roleLanding maps an authenticated identity to its dashboard. One fixed
// precedence list serves both the root/login redirect and the guard's
// role-mismatch fallback, so two gated routes can never bounce a user
// between each other.
func roleLanding(a Authorizer) string {
	switch {
	case a.IsSuperAdmin():
		return SuperAdminDashboard
	case a.HasRole(session.RoleHospitalAdmin):
		return HospitalAdminDashboard
	case a.HasRole(session.RoleDoctor):
		return DoctorDashboard
	case a.HasRole(session.RolePharmacist):
		return PharmacistDashboard
	case a.HasRole(session.RoleReceptionist):
		return ReceptionistDashboard
	case a.HasRole(session.RoleNurse):
		return NurseDashboard
	default:
		// authenticated but no recognized role
		return HospitalAdminDashboard
	}
}

func holdsAny(a Authorizer, roles []string) bool {
	for _, name := range roles {
		if a.HasRole(name) {
			return true
		}
	}
	return false
}

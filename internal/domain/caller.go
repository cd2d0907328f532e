package domain

// CallerKind distinguishes who is invoking a pipeline operation.
type CallerKind string

const (
	CallerAnonymous CallerKind = "anonymous"
	CallerEndUser   CallerKind = "end_user"
	CallerInternal  CallerKind = "internal_service"
	CallerAdmin     CallerKind = "admin"
)

// Caller is resolved once at the HTTP boundary and passed through the pipeline.
type Caller struct {
	Kind    CallerKind
	UserID  string
	Service string
}

// EndUser returns a caller acting as the given account owner.
func EndUser(userID string) Caller {
	if userID == "" {
		return Caller{Kind: CallerAnonymous}
	}
	return Caller{Kind: CallerEndUser, UserID: userID}
}

// InternalService returns a trusted service caller, optionally acting on
// behalf of a user.
func InternalService(name, onBehalfOf string) Caller {
	return Caller{Kind: CallerInternal, Service: name, UserID: onBehalfOf}
}

// AdminToken returns a caller authenticated by the shared admin secret.
func AdminToken() Caller {
	return Caller{Kind: CallerAdmin, Service: "admin"}
}

// Authenticated reports whether the caller carries any verified identity.
func (c Caller) Authenticated() bool {
	return c.Kind == CallerEndUser || c.Kind == CallerInternal || c.Kind == CallerAdmin
}

// Trusted reports whether the caller bypasses ownership checks.
func (c Caller) Trusted() bool {
	return c.Kind == CallerInternal || c.Kind == CallerAdmin
}

// CanAccess reports whether the caller may act on p.
func (c Caller) CanAccess(p Photo) bool {
	if c.Trusted() {
		return true
	}
	return c.Kind == CallerEndUser && p.OwnedBy(c.UserID)
}

// String renders the caller for logs.
func (c Caller) String() string {
	switch c.Kind {
	case CallerEndUser:
		return "user:" + c.UserID
	case CallerInternal:
		if c.UserID != "" {
			return "service:" + c.Service + "/" + c.UserID
		}
		return "service:" + c.Service
	case CallerAdmin:
		return "admin"
	default:
		return "anonymous"
	}
}

package core

// Principal is the authenticated identity every data operation is scoped to.
type Principal struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
}

// SamePrincipal reports whether a and b refer to the same identity.
// Two nil principals are the same.
func SamePrincipal(a, b *Principal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.ID == b.ID
}

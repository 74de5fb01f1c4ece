package portal

import "time"

// Session is the renewable credential for one endpoint. Values are
// immutable; the Manager replaces the whole session on renewal so readers
// never observe partial state.
type Session struct {
	Token    string
	IssuedAt time.Time
	Validity time.Duration
	Endpoint *Endpoint
}

// Valid reports whether the session can still be used at now. Portals may
// reject a token earlier than the window predicts; that case surfaces as
// ErrSessionExpired from a call and is handled reactively.
func (s *Session) Valid(now time.Time) bool {
	if s == nil || s.Token == "" {
		return false
	}
	return now.Before(s.IssuedAt.Add(s.Validity))
}

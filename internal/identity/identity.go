package identity

// Identity is a stable user reference independent of any live connection.
// It is owned by the external user store; this core treats it as immutable.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	AvatarURL   string `json:"avatarUrl,omitempty"`
}

// Verifier validates a presented credential and yields the identity bound
// to it. A connection is only admitted after Verify succeeds.
type Verifier interface {
	Verify(token string) (Identity, error)
}

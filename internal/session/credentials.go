package session

import "sync"

// Credential holds one user's platform tokens. Either field may be empty;
// token usability is only discovered when the platform rejects a call.
type Credential struct {
	AccessToken  string
	RefreshToken string
}

// Credentials is the in-memory credential store, keyed by username.
// All state is process-lifetime only.
type Credentials struct {
	mu     sync.RWMutex
	byUser map[string]Credential
}

func NewCredentials() *Credentials {
	return &Credentials{byUser: map[string]Credential{}}
}

func (c *Credentials) Get(user string) (Credential, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cred, ok := c.byUser[user]
	return cred, ok
}

// SetAccessToken stores the access token, creating the entry if absent and
// preserving any existing refresh token.
func (c *Credentials) SetAccessToken(user, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred := c.byUser[user]
	cred.AccessToken = token
	c.byUser[user] = cred
}

// SetRefreshToken stores the refresh token, preserving any access token.
func (c *Credentials) SetRefreshToken(user, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cred := c.byUser[user]
	cred.RefreshToken = token
	c.byUser[user] = cred
}

// Remove deletes the user's entry. Removing an absent user is a no-op.
func (c *Credentials) Remove(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byUser, user)
}

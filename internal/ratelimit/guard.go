package ratelimit

import (
	"regexp"
	"time"
)

// Path names the quota that governed a request.
type Path string

const (
	PathIP     Path = "ip"
	PathKey    Path = "api_key"
	PathExempt Path = "exempt"
)

var keyFormat = regexp.MustCompile(`^[A-Za-z0-9_\-]{8,128}$`)

// ValidKeyFormat reports whether key is syntactically an API key.
func ValidKeyFormat(key string) bool {
	return keyFormat.MatchString(key)
}

// Decision describes an admitted request.
type Decision struct {
	Limit     int
	Remaining int
	Reset     time.Time
	Path      Path
}

// Guard chooses exactly one quota per request: the key quota when a
// syntactically valid key is presented, otherwise the IP quota.
type Guard struct {
	limiter *Limiter
	keys    *KeyManager
}

// NewGuard combines an IP limiter and a key manager.
func NewGuard(limiter *Limiter, keys *KeyManager) *Guard {
	return &Guard{limiter: limiter, keys: keys}
}

// NewDefaultGuard uses the built-in quotas and development keys.
func NewDefaultGuard(clock Clock) *Guard {
	limiter, err := NewLimiter(DefaultLimiterConfig(), clock)
	if err != nil {
		panic(err)
	}
	keys, err := NewKeyManager(DefaultAPIKeys(), clock)
	if err != nil {
		panic(err)
	}
	return NewGuard(limiter, keys)
}

// Admit decides one request. permission may be empty for endpoints that
// need none. Malformed keys fall through to the IP path.
func (g *Guard) Admit(client, apiKey, endpoint, permission string) (Decision, error) {
	return g.admit(client, apiKey, endpoint, permission, false)
}

// AdmitForwarded is Admit for a client address taken from a proxy
// header. The exempt list never applies to it.
func (g *Guard) AdmitForwarded(client, apiKey, endpoint, permission string) (Decision, error) {
	return g.admit(client, apiKey, endpoint, permission, true)
}

func (g *Guard) admit(client, apiKey, endpoint, permission string, forwarded bool) (Decision, error) {
	if ValidKeyFormat(apiKey) {
		if !g.keys.IsValid(apiKey) {
			return Decision{}, ErrInvalidKey
		}
		if permission != "" && !g.keys.HasPermission(apiKey, permission) {
			return Decision{}, ErrPermissionDenied
		}
		return g.keys.Allow(apiKey, endpoint)
	}
	if forwarded {
		return g.limiter.AllowForwarded(client, endpoint)
	}
	return g.limiter.Allow(client, endpoint)
}

// Limiter returns the IP limiter.
func (g *Guard) Limiter() *Limiter { return g.limiter }

// Keys returns the key manager.
func (g *Guard) Keys() *KeyManager { return g.keys }

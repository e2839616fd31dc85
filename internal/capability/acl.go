package capability

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tidwall/match"
)

// AnyCapability in a rule grants every capability.
const AnyCapability = "*"

// Rule grants Capabilities to every identity matching Mask.  Masks
// use * and ? wildcards and match the session identity as registered:
// the nickname for gateway logins, the peer name for outbound chats.
// "ops-*" grants every nickname starting with ops-.
type Rule struct {
	Mask         string
	Capabilities []string
}

func (r Rule) grants(identity, capability string) bool {
	if !match.Match(strings.ToLower(identity), strings.ToLower(r.Mask)) {
		return false
	}
	for _, c := range r.Capabilities {
		if c == capability || c == AnyCapability {
			return true
		}
	}
	return false
}

// ACL is a static mask → capability table.  It is safe for concurrent
// use; Grant and Revoke take effect for the next check.
type ACL struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewACL returns an ACL holding rules.
func NewACL(rules ...Rule) (*ACL, error) {
	a := &ACL{}
	for _, r := range rules {
		if err := a.Grant(r.Mask, r.Capabilities...); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Grant adds a rule.
func (a *ACL) Grant(mask string, capabilities ...string) error {
	if strings.TrimSpace(mask) == "" {
		return fmt.Errorf("acl: empty mask")
	}
	if len(capabilities) == 0 {
		return fmt.Errorf("acl: mask %q grants nothing", mask)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rules = append(a.rules, Rule{Mask: mask, Capabilities: append([]string(nil), capabilities...)})
	return nil
}

// Revoke removes every rule with exactly this mask and reports how many
// were removed.
func (a *ACL) Revoke(mask string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.rules[:0]
	for _, r := range a.rules {
		if r.Mask != mask {
			kept = append(kept, r)
		}
	}
	n := len(a.rules) - len(kept)
	a.rules = kept
	return n
}

// IsAuthorized implements relay.Authorizer.
func (a *ACL) IsAuthorized(identity, capability string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, r := range a.rules {
		if r.grants(identity, capability) {
			return true
		}
	}
	return false
}

// Rules returns a copy of the current rules.
func (a *ACL) Rules() []Rule {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Rule(nil), a.rules...)
}

// Package authz answers capability checks for the requesting principal,
// independent of any nonce check.
package authz

// CapabilityAuthenticate is required to connect or disconnect the site's
// provider authentication.
const CapabilityAuthenticate = "authenticate"

// CapabilitySetup is required to run the proxy setup flow.
const CapabilitySetup = "setup"

// Capabilities decides whether a user holds a capability. The host platform's
// role system sits behind this interface.
type Capabilities interface {
	Can(userID, capability string) bool
}

// StaticCapabilities grants every capability to a fixed set of administrator
// user IDs, which is the model a single-site installation needs.
type StaticCapabilities struct {
	admins map[string]struct{}
}

// NewStaticCapabilities creates a checker that grants all capabilities to the
// given administrators and nothing to anyone else.
func NewStaticCapabilities(adminIDs []string) *StaticCapabilities {
	admins := make(map[string]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		if id != "" {
			admins[id] = struct{}{}
		}
	}
	return &StaticCapabilities{admins: admins}
}

// Can reports whether userID is a configured administrator.
func (c *StaticCapabilities) Can(userID, capability string) bool {
	_, ok := c.admins[userID]
	return ok
}

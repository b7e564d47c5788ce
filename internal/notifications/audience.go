package notifications

import (
	"fmt"
	"strings"
	"time"

	"github.com/PrakarshaKondour/ETracking-sub000/internal/auth"
)

// Retention windows.
const (
	VendorRegistrationTTL = 24 * time.Hour
	DelayedOrderTTL       = 7 * 24 * time.Hour
	RecipientFeedTTL      = 7 * 24 * time.Hour
	AckTTL                = 7 * 24 * time.Hour
	DefaultIdempotencyTTL = 24 * time.Hour
)

const (
	adminVendorRegistrationsFeed = "notifications:admin:vendor_registrations"
	adminDelayedOrdersFeed       = "notifications:admin:delayed_orders"
)

type audienceRole uint8

const (
	roleAdmin audienceRole = iota + 1
	roleVendor
	roleCustomer
)

func (r audienceRole) String() string {
	switch r {
	case roleAdmin:
		return auth.RoleAdmin
	case roleVendor:
		return auth.RoleVendor
	case roleCustomer:
		return auth.RoleCustomer
	}
	return "unknown"
}

// Audience is a notification recipient: the admins as a group, or one
// vendor or customer. The zero value is invalid.
type Audience struct {
	role     audienceRole
	identity string
}

func AdminAudience() Audience { return Audience{role: roleAdmin, identity: "global"} }

func VendorAudience(username string) Audience {
	return Audience{role: roleVendor, identity: username}
}

func CustomerAudience(username string) Audience {
	return Audience{role: roleCustomer, identity: username}
}

// ParseAudience builds an Audience from a token role and username.
func ParseAudience(role, identity string) (Audience, error) {
	switch role {
	case auth.RoleAdmin:
		return AdminAudience(), nil
	case auth.RoleVendor, auth.RoleCustomer:
		if identity == "" {
			return Audience{}, fmt.Errorf("%s audience requires a username", role)
		}
		if role == auth.RoleVendor {
			return VendorAudience(identity), nil
		}
		return CustomerAudience(identity), nil
	}
	return Audience{}, fmt.Errorf("unknown audience role %q", role)
}

func (a Audience) IsAdmin() bool    { return a.role == roleAdmin }
func (a Audience) Role() string     { return a.role.String() }
func (a Audience) Identity() string { return a.identity }
func (a Audience) Valid() bool      { return a.role != 0 && a.identity != "" }

func (a Audience) String() string { return a.Role() + ":" + a.identity }

func (a Audience) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("invalid audience")
	}
	return []byte(a.String()), nil
}

func (a *Audience) UnmarshalText(text []byte) error {
	role, identity, ok := strings.Cut(string(text), ":")
	if !ok {
		return fmt.Errorf("malformed audience %q", text)
	}
	parsed, err := ParseAudience(role, identity)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// FeedKeys lists every feed this audience reads.
func (a Audience) FeedKeys() []string {
	if a.IsAdmin() {
		return []string{adminVendorRegistrationsFeed, adminDelayedOrdersFeed}
	}
	return []string{a.feedKey()}
}

func (a Audience) feedKey() string {
	return "notifications:" + a.Role() + ":" + a.identity
}

func (a Audience) orderKey(orderID string) string {
	return "notification:" + a.Role() + ":" + a.identity + ":order:" + orderID
}

func (a Audience) ackKey(orderID string) string {
	return "ack:delayed_order:" + a.Role() + ":" + a.identity + ":" + orderID
}

// keyPatterns matches every individual key owned by the audience.
func (a Audience) keyPatterns() []string {
	if a.IsAdmin() {
		return []string{"notification:vendor_registration:*", "notification:delayed_order:*"}
	}
	return []string{"notification:" + a.Role() + ":" + escapeGlob(a.identity) + ":*"}
}

func vendorRegistrationKey(vendorID string) string {
	return "notification:vendor_registration:" + vendorID
}

func delayedOrderKey(orderID string) string {
	return "notification:delayed_order:" + orderID
}

func escalationKey(orderID string) string {
	return "escalated:delayed_order:" + orderID
}

func orderStatusKey(customer, orderID string) string {
	return "notification:customer:" + customer + ":order_status:" + orderID
}

func idempotencyKey(vendorID string) string {
	return "idempotency:vendor:registered:" + vendorID
}

var globReplacer = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func escapeGlob(s string) string { return globReplacer.Replace(s) }

package session

import (
	"time"

	"github.com/google/uuid"
)

// Credentials is the access/refresh pair held by a client session.
type Credentials struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

func (c Credentials) Empty() bool { return c.Access == "" && c.Refresh == "" }

// Renewed returns the pair after a renewal: a blank refresh keeps the previous one.
func (c Credentials) Renewed(next Credentials) Credentials {
	out := Credentials{Access: next.Access, Refresh: next.Refresh}
	if out.Refresh == "" {
		out.Refresh = c.Refresh
	}
	return out
}

type Kind string

const (
	KindStored  Kind = "stored"
	KindCleared Kind = "cleared"
)

type Reason string

const (
	ReasonLogin          Reason = "login"
	ReasonLogout         Reason = "logout"
	ReasonRenewed        Reason = "renewed"
	ReasonRenewalFailed  Reason = "renewal_failed"
	ReasonNoRefreshToken Reason = "no_refresh_credential"
)

// Event describes a change of the stored pair. It never carries token values.
type Event struct {
	ID      uuid.UUID `json:"id"`
	Profile string    `json:"profile"`
	Kind    Kind      `json:"kind"`
	Reason  Reason    `json:"reason"`
	Subject string    `json:"subject,omitempty"` // jwt sub of the access token, if any
	At      time.Time `json:"at"`
}

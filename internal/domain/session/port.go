package session

import "context"

// Store persists the two credential slots. Load on an empty store returns
// empty Credentials and a nil error.
type Store interface {
	Load(ctx context.Context) (Credentials, error)
	Save(ctx context.Context, c Credentials) error
	Clear(ctx context.Context) error
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Authenticator talks to the backend auth endpoints.
type Authenticator interface {
	Login(ctx context.Context, email, password string) (Credentials, error)
	Logout(ctx context.Context, refresh string) error
}

// Renewer trades a refresh credential for a new pair.
type Renewer interface {
	Renew(ctx context.Context, refresh string) (Credentials, error)
}

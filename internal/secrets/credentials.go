package secrets

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Credential keys looked up through a Provider
const (
	KeyEmail    = "email"
	KeyUsername = "username"
	KeyPassword = "password"
)

var _ zerolog.LogObjectMarshaler = Credentials{}

// Credentials are supplied to a collection session at start
type Credentials struct {
	Email    Value
	Username Value
	Password Value

	// Patterns are extra redaction regexes for host-specific tokens
	Patterns []string
}

// Load resolves all credentials. Email and password are required; the
// username is only needed when the login flow asks for it.
func Load(ctx context.Context, p Provider) (Credentials, error) {
	var c Credentials
	for _, f := range []struct {
		key      string
		dst      *Value
		required bool
	}{
		{KeyEmail, &c.Email, true},
		{KeyUsername, &c.Username, false},
		{KeyPassword, &c.Password, true},
	} {
		v, err := p.Lookup(ctx, f.key)
		if err != nil {
			if IsNotFound(err) && !f.required {
				continue
			}
			return Credentials{}, fmt.Errorf("credential %s: %w", f.key, err)
		}
		*f.dst = NewValue(v)
	}
	return c, nil
}

// Redactor returns a redactor that also masks these exact values
func (c Credentials) Redactor() *Redactor {
	r := NewRedactor()
	r.AddSecrets(c.Email.Reveal(), c.Username.Reveal(), c.Password.Reveal())
	for _, p := range c.Patterns {
		if err := r.AddPattern(p); err != nil {
			log.Warn().Err(err).Msg("Ignoring redaction pattern")
		}
	}
	return r
}

func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{email:%t username:%t password:%t}", c.Email.IsSet(), c.Username.IsSet(), c.Password.IsSet())
}

// MarshalZerologObject logs which credentials are present, never their values
func (c Credentials) MarshalZerologObject(e *zerolog.Event) {
	e.Bool("email_set", c.Email.IsSet()).
		Bool("username_set", c.Username.IsSet()).
		Bool("password_set", c.Password.IsSet())
}

package credentials

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap/zapcore"
)

// ErrInvalidCredential is returned by Validate when a credential cannot be used to log in.
var ErrInvalidCredential = errors.New("invalid credential")

// Mask hides a secret for display. Secrets of up to three characters become all stars; longer ones keep
// only their first and last character. Length is measured in runes and preserved.
func Mask(secret string) string {
	n := utf8.RuneCountInString(secret)
	switch {
	case n == 0:
		return ""
	case n <= 3:
		return strings.Repeat("*", n)
	}
	first, _ := utf8.DecodeRuneInString(secret)
	last, _ := utf8.DecodeLastRuneInString(secret)
	return string(first) + strings.Repeat("*", n-2) + string(last)
}

// Secret holds a password. Every way of printing or serializing it yields the masked form; only Reveal
// returns the raw value.
type Secret struct {
	value string
}

// NewSecret wraps a raw value.
func NewSecret(raw string) Secret { return Secret{value: raw} }

// Reveal returns the raw value. It is meant for the single place that types it into the login form.
func (s Secret) Reveal() string { return s.value }

// Empty reports whether the secret is blank after trimming whitespace.
func (s Secret) Empty() bool { return strings.TrimSpace(s.value) == "" }

func (s Secret) String() string { return Mask(s.value) }

// GoString keeps %#v from dumping the struct field.
func (s Secret) GoString() string { return fmt.Sprintf("credentials.Secret(%q)", Mask(s.value)) }

// Format routes every fmt verb through the mask.
func (s Secret) Format(f fmt.State, verb rune) {
	switch verb {
	case 'q':
		fmt.Fprintf(f, "%q", Mask(s.value))
	case 'v':
		if f.Flag('#') {
			io.WriteString(f, s.GoString())
			return
		}
		io.WriteString(f, Mask(s.value))
	default:
		io.WriteString(f, Mask(s.value))
	}
}

// MarshalText is used by JSON and YAML encoders.
func (s Secret) MarshalText() ([]byte, error) { return []byte(Mask(s.value)), nil }

// Credential is one account to run the workflow for.
type Credential struct {
	Identifier string
	Secret     Secret
	Metadata   string
	// Row is the 1-based source row, 0 when the credential was not read from a table.
	Row int
}

// Validate rejects credentials with a blank identifier or secret.
func (c Credential) Validate() error {
	if strings.TrimSpace(c.Identifier) == "" {
		return fmt.Errorf("%w: identifier is empty", ErrInvalidCredential)
	}
	if c.Secret.Empty() {
		return fmt.Errorf("%w: secret is empty", ErrInvalidCredential)
	}
	return nil
}

// MarshalLogObject lets credentials be logged with zap.Object without exposing the secret.
func (c Credential) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("identifier", c.Identifier)
	enc.AddString("secret", c.Secret.String())
	if c.Metadata != "" {
		enc.AddString("metadata", c.Metadata)
	}
	if c.Row > 0 {
		enc.AddInt("row", c.Row)
	}
	return nil
}

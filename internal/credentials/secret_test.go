package credentials

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"pgregory.net/rapid"
)

func TestMask(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		in, want string
	}{
		{"", ""},
		{"a", "*"},
		{"ab", "**"},
		{"abc", "***"},
		{"abcd", "a**d"},
		{"hunter22", "h******2"},
		{"pässwörd", "p******d"},
		{"日本語パス", "日***ス"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, Mask(tc.in), "Mask(%q)", tc.in)
	}
}

// TestMask_Properties checks, for arbitrary secrets, that length is preserved and only the outer
// characters survive.
func TestMask_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		secret := rapid.String().Draw(rt, "secret")
		masked := Mask(secret)
		runes := []rune(secret)
		maskedRunes := []rune(masked)

		if utf8.RuneCountInString(masked) != len(runes) {
			rt.Fatalf("length changed: %d -> %d", len(runes), len(maskedRunes))
		}
		if len(runes) <= 3 {
			if strings.Trim(masked, "*") != "" {
				rt.Fatalf("short secret leaked characters: %q", masked)
			}
			return
		}
		if maskedRunes[0] != runes[0] || maskedRunes[len(runes)-1] != runes[len(runes)-1] {
			rt.Fatalf("outer characters not kept: %q -> %q", secret, masked)
		}
		interior := string(maskedRunes[1 : len(maskedRunes)-1])
		if strings.Trim(interior, "*") != "" {
			rt.Fatalf("interior leaked: %q", masked)
		}
	})
}

func TestSecret_NeverPrintsRawValue(t *testing.T) {
	t.Parallel()
	s := NewSecret("correct-horse")
	const masked = "c***********e"

	assert.Equal(t, "correct-horse", s.Reveal())
	assert.Equal(t, masked, s.String())
	for _, verb := range []string{"%v", "%s", "%+v", "%q", "%#v", "%x", "%d"} {
		out := fmt.Sprintf(verb, s)
		assert.NotContains(t, out, "correct-horse", "verb %s", verb)
		assert.NotContains(t, out, "orrect", "verb %s", verb)
	}

	cred := Credential{Identifier: "dosen01", Secret: s}
	for _, verb := range []string{"%v", "%+v", "%#v"} {
		assert.NotContains(t, fmt.Sprintf(verb, cred), "correct-horse", "verb %s on credential", verb)
	}

	data, err := json.Marshal(cred)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "correct-horse")
	assert.Contains(t, string(data), masked)
}

func TestCredential_ZapFieldIsMasked(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	cred := Credential{Identifier: "dosen01", Secret: NewSecret("s3cr3t!"), Metadata: "Senin", Row: 2}
	logger.Info("attempt", zap.Object("credential", cred), zap.Stringer("secret", cred.Secret))

	require.Equal(t, 1, logs.Len())
	ctx := logs.All()[0].ContextMap()
	assert.Equal(t, "s*****!", ctx["secret"])
	obj, ok := ctx["credential"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "dosen01", obj["identifier"])
	assert.Equal(t, "s*****!", obj["secret"])
	assert.Equal(t, "Senin", obj["metadata"])
}

func TestCredential_Validate(t *testing.T) {
	t.Parallel()
	assert.NoError(t, Credential{Identifier: "u", Secret: NewSecret("p")}.Validate())

	err := Credential{Identifier: "  ", Secret: NewSecret("p")}.Validate()
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Contains(t, err.Error(), "identifier")

	err = Credential{Identifier: "u", Secret: NewSecret("")}.Validate()
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.Contains(t, err.Error(), "secret")
}

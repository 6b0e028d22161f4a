package stealth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/rollcall/internal/config"
)

func TestPersonaFromConfig(t *testing.T) {
	p := PersonaFromConfig(config.BrowserConfig{UserAgent: "  Mozilla/5.0 Test  ", Timezone: "Asia/Jakarta", Locale: "id-ID"})
	assert.Equal(t, Persona{UserAgent: "Mozilla/5.0 Test", Timezone: "Asia/Jakarta", Locale: "id-ID"}, p)

	defaults := PersonaFromConfig(config.NewDefaultConfig().Browser)
	assert.Empty(t, defaults.UserAgent, "the default keeps Chrome's own user agent")
	assert.Equal(t, "Asia/Jakarta", defaults.Timezone)
	assert.Equal(t, "id-ID", defaults.Locale)
}

func TestAcceptLanguage(t *testing.T) {
	tests := []struct {
		locale   string
		expected string
	}{
		{"id-ID", "id-ID,id;q=0.9"},
		{"en-US", "en-US,en;q=0.9"},
		{"id", "id"},
		{"", ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.locale, func(t *testing.T) {
			assert.Equal(t, tt.expected, Persona{Locale: tt.locale}.AcceptLanguage())
		})
	}
}

func TestApply(t *testing.T) {
	t.Run("FullPersona", func(t *testing.T) {
		core, logs := observer.New(zap.DebugLevel)
		tasks := Apply(Persona{UserAgent: "UA", Timezone: "Asia/Jakarta", Locale: "id-ID"}, zap.New(core))
		// evasions, user agent, timezone, locale, headers
		assert.Len(t, tasks, 5)
		require.Equal(t, 1, logs.FilterMessage("Applying browser persona.").Len())
		fields := logs.All()[0].ContextMap()
		assert.Equal(t, "Asia/Jakarta", fields["timezone"])
	})

	t.Run("EmptyPersonaOnlyInjectsEvasions", func(t *testing.T) {
		assert.Len(t, Apply(Persona{}, nil), 1)
	})

	t.Run("TimezoneOnly", func(t *testing.T) {
		assert.Len(t, Apply(Persona{Timezone: "UTC"}, nil), 2)
	})
}

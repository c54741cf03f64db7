package registrywarden

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewRootCommand_RegistersExpectedFlags(t *testing.T) {
	cmd := NewRootCommand()

	for _, name := range []string{"config", "log-level", "metrics-addr", "audit-db"} {
		assert.NotNil(t, cmd.Flags().Lookup(name), "expected flag %q to be registered", name)
	}
}

func TestNewRootCommand_UsesExpectedName(t *testing.T) {
	cmd := NewRootCommand()
	assert.Equal(t, "registrywarden", cmd.Use)
}

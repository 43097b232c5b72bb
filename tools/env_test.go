package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetenv(t *testing.T) {
	t.Setenv("QFARM_TOOLS_TEST", "set")
	assert.Equal(t, "set", Getenv("TOOLS_TEST", "def"))

	t.Setenv("QFARM_TOOLS_TEST", "")
	assert.Equal(t, "def", Getenv("TOOLS_TEST", "def"))
	assert.Equal(t, "def", Getenv("TOOLS_UNSET", "def"))
}

func TestAccountCodeKey(t *testing.T) {
	for in, want := range map[string]string{
		"main":      "CODE_MAIN",
		"main farm": "CODE_MAIN_FARM",
		"Alt-2":     "CODE_ALT_2",
		"a.b":       "CODE_A_B",
	} {
		assert.Equal(t, want, AccountCodeKey(in), in)
	}
}

package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := rootCommand()
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	assert.True(t, names["serve"])
	assert.True(t, names["export"])
	assert.True(t, names["import"])
	assert.True(t, names["version"])
}

func TestExitCodeForNilIsZero(t *testing.T) {
	assert.Equal(t, 0, ExitCodeFor(nil))
}

func TestExitCodeForUsageErrorIsTwo(t *testing.T) {
	assert.Equal(t, 2, ExitCodeFor(&cliUsageError{msg: "bad flag"}))
}

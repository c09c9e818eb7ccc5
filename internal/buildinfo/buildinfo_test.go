package buildinfo

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrint(t *testing.T) {
	orig := Version
	Version = "v0.3.1"
	t.Cleanup(func() { Version = orig })

	var buf bytes.Buffer
	Print(&buf, "wardsync")

	assert.Equal(t, "wardsync version: v0.3.1\nwardsync build date: N/A\nwardsync build commit: N/A\n", buf.String())
}

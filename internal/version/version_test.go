package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrent(t *testing.T) {
	info := Current()
	assert.Equal(t, Info{Version: "dev", GitSHA: "unknown", BuildTime: "unknown"}, info)
	assert.Equal(t, "rftwin dev (unknown, built unknown)", info.String())
}

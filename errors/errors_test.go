package errors

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesCallSite(t *testing.T) {
	err := New("tool %q failed", "calculate")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "[errors_test.go:"), err.Error())
	assert.Contains(t, err.Error(), `tool "calculate" failed`)
}

func TestWrapf(t *testing.T) {
	assert.NoError(t, Wrapf(nil, "ignored"))

	base := Sentinel("boom")
	err := Wrapf(base, "starting %s", "tool server")
	require.Error(t, err)
	assert.True(t, Is(err, base))
	assert.Contains(t, err.Error(), "starting tool server: boom")
}

type codeErr struct{ code int }

func (c *codeErr) Error() string { return "code" }

func TestAs(t *testing.T) {
	err := Wrapf(&codeErr{code: 7}, "outer")
	var target *codeErr
	require.True(t, As(err, &target))
	assert.Equal(t, 7, target.code)
}

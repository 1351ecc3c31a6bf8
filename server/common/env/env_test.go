package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	t.Setenv("ENVTEST_STRING", "  value  ")
	assert.Equal(t, "value", String("ENVTEST_STRING", "fallback"))
	assert.Equal(t, "fallback", String("ENVTEST_STRING_MISSING", "fallback"))
}

func TestInt(t *testing.T) {
	t.Setenv("ENVTEST_INT", "42")
	assert.Equal(t, 42, Int("ENVTEST_INT", 7))

	t.Setenv("ENVTEST_INT_BAD", "not-a-number")
	assert.Equal(t, 7, Int("ENVTEST_INT_BAD", 7))

	t.Setenv("ENVTEST_INT_NEG", "-3")
	assert.Equal(t, 7, Int("ENVTEST_INT_NEG", 7))
}

func TestBool(t *testing.T) {
	t.Setenv("ENVTEST_BOOL", "true")
	assert.True(t, Bool("ENVTEST_BOOL", false))

	t.Setenv("ENVTEST_BOOL_BAD", "yep")
	assert.True(t, Bool("ENVTEST_BOOL_BAD", true))
}

func TestDuration(t *testing.T) {
	t.Setenv("ENVTEST_DUR", "45s")
	assert.Equal(t, 45*time.Second, Duration("ENVTEST_DUR", time.Minute))

	t.Setenv("ENVTEST_DUR_BAD", "soon")
	assert.Equal(t, time.Minute, Duration("ENVTEST_DUR_BAD", time.Minute))

	t.Setenv("ENVTEST_DUR_NEG", "-5s")
	assert.Equal(t, time.Minute, Duration("ENVTEST_DUR_NEG", time.Minute))
}

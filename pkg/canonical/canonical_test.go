package canonical_test

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonzim-cmd/kura-training-sub000/pkg/canonical"
)

func TestJCS_SortsKeys(t *testing.T) {
	out, err := canonical.JCS(map[string]any{"b": 1, "a": 2, "c": 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1,"c":3}`, string(out))
}

func TestJCS_NoHTMLEscaping(t *testing.T) {
	out, err := canonical.JCS(map[string]string{"note": "a<b>&c"})
	require.NoError(t, err)
	assert.Contains(t, string(out), "a<b>&c")
}

func TestHash_Prefix(t *testing.T) {
	h, err := canonical.Hash(map[string]int{"reps": 8})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(h, canonical.DigestPrefix))
	assert.Len(t, h, len(canonical.DigestPrefix)+64)
}

func TestHashStrings_OrderIndependent(t *testing.T) {
	a := canonical.HashStrings([]string{"e1", "e2", "e3"})
	b := canonical.HashStrings([]string{"e3", "e1", "e2"})
	assert.Equal(t, a, b)

	c := canonical.HashStrings([]string{"e1", "e2"})
	assert.NotEqual(t, a, c)
}

// Property: the digest of an object does not depend on map iteration order.
func TestHash_DeterministicProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("hash is stable across invocations", prop.ForAll(
		func(keys []string, values []string) bool {
			obj := make(map[string]any)
			for i, k := range keys {
				if i < len(values) {
					obj[k] = values[i]
				}
			}
			h1, err1 := canonical.Hash(obj)
			h2, err2 := canonical.Hash(obj)
			return err1 == nil && err2 == nil && h1 == h2
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}

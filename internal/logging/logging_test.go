package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryN(t *testing.T) {
	e := NewEveryN(3)
	var allowed []bool
	for i := 0; i < 7; i++ {
		allowed = append(allowed, e.Allow())
	}
	assert.Equal(t, []bool{true, false, false, true, false, false, true}, allowed)
	assert.Equal(t, uint64(7), e.Count())
}

func TestEveryNClampsToOne(t *testing.T) {
	e := NewEveryN(0)
	assert.True(t, e.Allow())
	assert.True(t, e.Allow())
}

func TestSetLevel(t *testing.T) {
	saved := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(saved) })

	var buf bytes.Buffer
	log := New(&buf)
	require.NoError(t, SetLevel("warn"))
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	assert.Error(t, SetLevel("loud"))
	assert.NoError(t, SetLevel(""))
}

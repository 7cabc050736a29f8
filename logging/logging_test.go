package logging

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewWithWriter_Level(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "WARN")

	log.Info().Msg("hidden")
	assert.Empty(t, buf.String())

	log.Warn().Str("account_id", "coa-1120").Msg("shown")
	assert.Contains(t, buf.String(), `"account_id":"coa-1120"`)
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestNewWithWriter_UnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "loud")

	log.Debug().Msg("hidden")
	assert.Empty(t, buf.String())
	log.Info().Msg("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithContext(context.Background(), NewWithWriter(&buf, "info"))

	fromCtx := FromContext(ctx)
	fromCtx.Info().Msg("from context")
	assert.Contains(t, buf.String(), "from context")

	// A bare context yields a logger that writes nothing.
	bare := FromContext(context.Background())
	bare.Error().Msg("dropped")
	assert.NotContains(t, buf.String(), "dropped")
}

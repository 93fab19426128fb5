package hoststats

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollectReadsHost(t *testing.T) {
	s := Collect(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)), 0)

	assert.Greater(t, s.RAMTotalMB, 0.0)
	assert.LessOrEqual(t, s.RAMUsedMB, s.RAMTotalMB)
	assert.Greater(t, s.ProcessRSSMB, 0.0)
	assert.GreaterOrEqual(t, s.CPULoad, 0.0)
}

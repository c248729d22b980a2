package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewGenerationMetrics(t *testing.T) {
	gm, err := NewGenerationMetrics()
	require.NoError(t, err)
	require.NotNil(t, gm)
}

func TestRecordersDoNotPanic(t *testing.T) {
	gm, err := NewGenerationMetrics()
	require.NoError(t, err)

	ctx := context.Background()
	gm.RecordJobCreated(ctx, "project-a")
	gm.RecordJobCompleted(ctx, "project-a", 2*time.Second)
	gm.RecordJobFailed(ctx, "project-a", "planning", time.Second)
	gm.RecordUnitGenerated(ctx, "project-a", "html")
	gm.RecordUnitFailed(ctx, "project-a", "hero")
	gm.RecordConnectionOpened(ctx)
	gm.RecordConnectionClosed(ctx)
}

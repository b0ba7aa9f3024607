package tracing

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStartSpanReturnsUsableContextAndEndFunc(t *testing.T) {
	ctx, end := StartSpan(context.Background(), "test-span")
	require.NotNil(t, ctx)
	require.NotPanics(t, end)
}

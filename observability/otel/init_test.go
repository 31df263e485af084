package otel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInitWithoutExporters(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{ServiceName: "lendingd"})
	require.NoError(t, err)
	require.NoError(t, shutdown(context.Background()))

	_, err = Init(context.Background(), Config{})
	require.Error(t, err)
}

func TestParseHeaders(t *testing.T) {
	require.Equal(t, map[string]string{"api-key": "abc", "x": "1=2"}, ParseHeaders(" api-key = abc ,broken,=skip, x=1=2"))
	require.Empty(t, ParseHeaders(""))
}

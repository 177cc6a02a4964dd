package shared

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdempotencyKey(t *testing.T) {
	require.Equal(t, "transfer:complete:abc", IdempotencyKey("transfer", "complete", "abc"))
	require.Equal(t, "inventory", IdempotencyKey("inventory"))

	// Different modules never collide on the same step/id.
	require.NotEqual(t,
		IdempotencyKey("transfer", "complete", "1"),
		IdempotencyKey("receipt", "complete", "1"))
}

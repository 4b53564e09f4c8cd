package httpx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientContext(t *testing.T) {
	ctx := context.Background()

	_, ok := ClientFromContext(ctx)
	assert.False(t, ok)
	assert.Equal(t, "api", actorFromContext(ctx))

	assert.Equal(t, ctx, SetClientInContext(ctx, ""))

	ctx = SetClientInContext(ctx, "api:key-2")
	name, ok := ClientFromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "api:key-2", name)
	assert.Equal(t, "api:key-2", actorFromContext(ctx))
}

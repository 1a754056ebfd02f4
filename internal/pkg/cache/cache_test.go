package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "paypal:access_token", Key("paypal", "access_token"))
	assert.Equal(t, "billing", Key("billing"))
	assert.Equal(t, "", Key())
}

func TestReachableWithoutClient(t *testing.T) {
	assert.Error(t, Reachable(context.Background(), nil))
}

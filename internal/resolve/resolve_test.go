package resolve

import (
	"context"
	"testing"

	"github.com/hookbus/hookbus/internal/hookerr"
	"github.com/stretchr/testify/assert"
)

func TestAddressesLiteralIPv4(t *testing.T) {
	addrs, err := Addresses(context.Background(), "127.0.0.1")
	assert.NoError(t, err)
	assert.Len(t, addrs, 1)
	assert.Equal(t, "127.0.0.1", addrs[0].String())
}

func TestAddressesLiteralIPv6(t *testing.T) {
	addrs, err := Addresses(context.Background(), "::1")
	assert.NoError(t, err)
	assert.Len(t, addrs, 1)
}

func TestAddressesUnresolvableHost(t *testing.T) {
	_, err := Addresses(context.Background(), "this-host-does-not-exist.invalid")
	assert.Error(t, err)
	assert.True(t, hookerr.IsResolveError(err))
}

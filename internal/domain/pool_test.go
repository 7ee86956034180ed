package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPoolKey(t *testing.T) {
	const checksummed = "0x88e6A0c2dDD26FEEb64F039a2c41296FcB3f5640"

	tests := []struct {
		name    string
		chain   string
		pair    string
		address string
		want    PoolKey
		wantErr bool
	}{
		{"valid", "ethereum", "WETH/USDC", checksummed,
			PoolKey("ethereum:WETH/USDC:" + checksummed), false},
		{"lowercase address is checksummed", "ethereum", "WETH/USDC",
			"0x88e6a0c2ddd26feeb64f039a2c41296fcb3f5640",
			PoolKey("ethereum:WETH/USDC:" + checksummed), false},
		{"uppercase address is checksummed", "ethereum", "WETH/USDC",
			"0x88E6A0C2DDD26FEEB64F039A2C41296FCB3F5640",
			PoolKey("ethereum:WETH/USDC:" + checksummed), false},
		{"surrounding whitespace trimmed", "  ethereum ", " WETH/USDC ",
			checksummed, PoolKey("ethereum:WETH/USDC:" + checksummed), false},
		{"missing chain", "", "WETH/USDC", checksummed, "", true},
		{"missing pair", "ethereum", "", checksummed, "", true},
		{"short address", "ethereum", "WETH/USDC", "0x1234", "", true},
		{"non-hex address", "ethereum", "WETH/USDC",
			"0xZZe6A0c2dDD26FEEb64F039a2c41296FcB3f5640", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewPoolKey(tt.chain, tt.pair, tt.address)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPoolKeyComponents(t *testing.T) {
	key, err := NewPoolKey("arbitrum", "WBTC/USDT", "0x99ac8cA7087fA4A2A1FB6357269965A2014ABc35")
	require.NoError(t, err)

	assert.Equal(t, "arbitrum", key.Chain())
	assert.Equal(t, "WBTC/USDT", key.Pair())
	assert.Equal(t, "0x99ac8cA7087fA4A2A1FB6357269965A2014ABc35", key.Address())

	// Malformed keys degrade to empty components, never panic.
	malformed := PoolKey("just-a-chain")
	assert.Empty(t, malformed.Chain())
	assert.Empty(t, malformed.Pair())
	assert.Empty(t, malformed.Address())
}

func TestTierText(t *testing.T) {
	tests := []struct {
		tier Tier
		text string
	}{
		{TierWatch, "WATCH"},
		{TierElevated, "ELEVATED"},
		{TierCritical, "CRITICAL"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.text, tt.tier.String())

			b, err := tt.tier.MarshalText()
			require.NoError(t, err)
			assert.Equal(t, tt.text, string(b))

			var back Tier
			require.NoError(t, back.UnmarshalText(b))
			assert.Equal(t, tt.tier, back)
		})
	}

	var tier Tier
	assert.Error(t, tier.UnmarshalText([]byte("SEVERE")))
}

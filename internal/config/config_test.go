package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseProtocolParamDefaults(t *testing.T) {
	maxClient, interval := ParseProtocolParam("")
	require.Equal(t, 64, maxClient)
	require.Equal(t, 24*time.Hour, interval)
}

func TestParseProtocolParamMaxClientOnly(t *testing.T) {
	maxClient, interval := ParseProtocolParam("128")
	require.Equal(t, 128, maxClient)
	require.Equal(t, 24*time.Hour, interval)
}

func TestParseProtocolParamWithInterval(t *testing.T) {
	maxClient, interval := ParseProtocolParam("32#3600")
	require.Equal(t, 32, maxClient)
	require.Equal(t, time.Hour, interval)
}

func TestParseProtocolParamMalformedFallsBackToDefaults(t *testing.T) {
	maxClient, interval := ParseProtocolParam("not-a-number#also-bad")
	require.Equal(t, 64, maxClient)
	require.Equal(t, 24*time.Hour, interval)
}

func TestParseUserParamExtractsIDAndKey(t *testing.T) {
	id, key, ok := ParseUserParam("1000000:s3cret")
	require.True(t, ok)
	require.Equal(t, uint32(1000000), id)
	require.Equal(t, []byte("s3cret"), key)
}

func TestParseUserParamWithoutColonIsNotOK(t *testing.T) {
	_, _, ok := ParseUserParam("no-colon-here")
	require.False(t, ok)
}

// SPDX-License-Identifier: Apache-2.0

package rpc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNegotiateVersionAcceptsInRange(t *testing.T) {
	v, err := NegotiateVersion(2)
	require.NoError(t, err)
	require.Equal(t, 2, v)
}

func TestNegotiateVersionRejectsOutOfRange(t *testing.T) {
	_, err := NegotiateVersion(99)
	require.Error(t, err)
	apiErr, ok := err.(*APIError)
	require.True(t, ok)
	require.Equal(t, ErrVersionMismatch, apiErr.Code)
}

func TestHelloEstablishesSessionAndByeEndsIt(t *testing.T) {
	var s Session
	resp, err := s.Hello("dsuid-1", 2)
	require.NoError(t, err)
	require.Equal(t, "dsuid-1", resp.Result["dSUID"])
	require.True(t, s.Active())

	s.Bye()
	require.False(t, s.Active())
}

func TestHelloRejectsBadVersionWithoutActivatingSession(t *testing.T) {
	var s Session
	_, err := s.Hello("dsuid-1", 0)
	require.Error(t, err)
	require.False(t, s.Active())
}

func TestResetDropsSessionButCallerKeepsDevicesAlive(t *testing.T) {
	var s Session
	_, _ = s.Hello("dsuid-1", 1)
	s.Reset()
	require.False(t, s.Active())
	require.Empty(t, s.DSUID)
}

// SPDX-License-Identifier: Apache-2.0

package script

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNullEngineRunReportsNoRuntime(t *testing.T) {
	var e NullEngine
	_, err := e.Run(context.Background(), "dev1_C0", "1+1")
	require.Error(t, err)
	scriptErr, ok := err.(*Error)
	require.True(t, ok)
	require.Equal(t, 501, scriptErr.Code)
}

func TestNullEngineSubscribeTicketCancelIsNoop(t *testing.T) {
	var e NullEngine
	ticket := e.Subscribe("dev1_C0", func(ValueSourceUpdate) {})
	require.NotPanics(t, func() { ticket.Cancel() })
}

func TestNullEngineCommandAlwaysSucceeds(t *testing.T) {
	var e NullEngine
	require.NoError(t, e.Command(context.Background(), "dev1_C0", Restart))
}

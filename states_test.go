package sluice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range AllStatuses {
		got, err := ParseStatus(s.String())
		require.NoError(t, err)
		require.Equal(t, s, got)
	}

	_, err := ParseStatus("running")
	require.ErrorIs(t, err, ErrUnknownStatus)
	_, err = ParseStatus("")
	require.ErrorIs(t, err, ErrUnknownStatus)
}

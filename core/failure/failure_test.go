// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

package failure

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	require := require.New(t)

	require.Equal(uint32(0x00020002), FrameMacMismatch.Code())
	require.Equal(uint32(0x00040001), TicketsCountIsEqualZero.Code())

	err := fmt.Errorf("call failed: %w", FrameMacMismatch.WithMessage("seq %d", 3))
	require.True(errors.Is(err, FrameMacMismatch))
	require.False(errors.Is(err, FrameHeaderTagMismatch))
	require.Equal(FrameMacMismatch.Code(), CodeOf(err))
	require.Equal(uint32(0), CodeOf(errors.New("plain")))
}

func TestShouldTriggerRepair(t *testing.T) {
	require := require.New(t)

	require.True(ShouldTriggerRepair(TicketsCountIsEqualZero))
	require.True(ShouldTriggerRepair(fmt.Errorf("x: %w", FromAlert("Invalid ticket"))))
	require.False(ShouldTriggerRepair(FromAlert("access denied")))
	require.False(ShouldTriggerRepair(FrameMacMismatch))
	require.False(ShouldTriggerRepair(errors.New("eof")))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := NotConnected.Wrap(cause)
	require.ErrorIs(t, err, cause)
	require.ErrorIs(t, err, NotConnected)
	require.Contains(t, err.Error(), "connection reset")
}

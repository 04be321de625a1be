// SPDX-FileCopyrightText: Copyright (C) 2026  The Cipherlane Authors
// SPDX-License-Identifier: AGPL-3.0-only

//go:build !nometrics

package instrument

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	require := require.New(t)

	Init(prometheus.NewRegistry())

	before := testutil.ToFloat64(framesSent.WithLabelValues("handshake"))
	FrameSent("handshake")
	require.Equal(before+1, testutil.ToFloat64(framesSent.WithLabelValues("handshake")))

	TicketsAvailable(7)
	require.Equal(float64(7), testutil.ToFloat64(ticketsAvailable))

	Handshake("ecdhe", true)
	require.GreaterOrEqual(testutil.ToFloat64(handshakes.WithLabelValues("ecdhe", "ok")), float64(1))
}

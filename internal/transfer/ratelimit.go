// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package transfer

import (
	"context"
	"net"

	"golang.org/x/time/rate"
)

// maxBurstSize caps how many bytes a single throttled write can consume
// from the token bucket at once, so a large packet doesn't stall waiting on
// a burst reservation bigger than the bucket can ever hold.
const maxBurstSize = 256 * 1024

// throttledConn wraps a net.Conn so every Write respects a bytes/sec cap, for
// per-job bandwidth limiting. Reads are left unthrottled: the wire protocol
// is request/response, so throttling the sender's writes already paces the
// whole exchange.
type throttledConn struct {
	net.Conn
	limiter *rate.Limiter
	ctx     context.Context
}

// Throttle wraps conn with a bytesPerSec write cap. bytesPerSec <= 0 disables
// throttling and returns conn unchanged.
func Throttle(ctx context.Context, conn net.Conn, bytesPerSec int64) net.Conn {
	if bytesPerSec <= 0 {
		return conn
	}
	burst := int(bytesPerSec)
	if burst > maxBurstSize {
		burst = maxBurstSize
	}
	return &throttledConn{
		Conn:    conn,
		limiter: rate.NewLimiter(rate.Limit(bytesPerSec), burst),
		ctx:     ctx,
	}
}

func (c *throttledConn) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		chunk := len(p)
		if chunk > c.limiter.Burst() {
			chunk = c.limiter.Burst()
		}
		if err := c.limiter.WaitN(c.ctx, chunk); err != nil {
			return total, err
		}
		n, err := c.Conn.Write(p[:chunk])
		total += n
		if err != nil {
			return total, err
		}
		p = p[n:]
	}
	return total, nil
}

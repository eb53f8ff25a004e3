package mqtt

import (
	"context"
	"errors"
	"time"
)

// DisconnectReason classifies why a connection attempt or established
// connection ended, driving the reconnect ladder in Listen.
type DisconnectReason int

const (
	// ReasonConnectionLost is a read/write failure on an already-open
	// socket: reconnect immediately.
	ReasonConnectionLost DisconnectReason = iota
	// ReasonRefused is a CONNACK rejection that indicates bad credentials:
	// give up, the caller must re-authenticate.
	ReasonRefused
	// ReasonNoConnection is a dial failure (DNS, TCP refused, TLS
	// handshake failure): back off and retry up to a limit.
	ReasonNoConnection
	// ReasonLocal is our own Disconnect call; the listen loop exits
	// cleanly.
	ReasonLocal
	// ReasonOther covers a clean server-initiated DISCONNECT or any other
	// read failure: reconnect immediately, same as ReasonConnectionLost.
	ReasonOther
)

// ErrNotLoggedIn is returned by Listen when the server rejects the CONNECT
// with credentials it considers invalid; the caller should surface
// status.StateBadCredentials and not retry.
var ErrNotLoggedIn = errors.New("mqtt: server rejected credentials")

// ErrNotConnected is returned by Listen once retryLimit consecutive
// no-connection failures have been exhausted.
var ErrNotConnected = errors.New("mqtt: exhausted reconnect attempts")

// DisconnectHandler is invoked once per dropped connection, before the
// reconnect ladder decides what to do next. The bridge uses this to report
// status.BridgeState transitions.
type DisconnectHandler func(reason DisconnectReason, err error)

// ListenParams configures one Listen call. Host and TokenHash are funcs
// rather than values because both can change while the loop runs: a region
// hint redirects the next dial, and a QUEUE_NOT_FOUND sync error clears the
// resume material so the next CONNECT falls back to create-queue.
type ListenParams struct {
	// Host returns the edge to dial next; empty means DefaultHost.
	Host func() string
	// TokenHash returns the session-resume material for the next CONNECT,
	// or nil to make a fresh connection.
	TokenHash func() []byte
	// InitialSeqID seeds the delta queue cursor for the first connection;
	// later reconnects use the highest seq id observed on the wire.
	InitialSeqID int64
	// OnConnect is invoked after every successful CONNECT + queue
	// create/resume, including reconnects.
	OnConnect func()
	// OnDisconnect is invoked once per dropped or failed connection.
	OnDisconnect DisconnectHandler
	// RetryLimit bounds consecutive dial failures before Listen gives up
	// with ErrNotConnected.
	RetryLimit int
}

// Listen keeps the connection alive: it blocks until ctx is cancelled, the
// server permanently rejects the credentials, or RetryLimit consecutive
// no-connection failures occur. Each established connection's readLoop
// exiting is classified into a DisconnectReason and handled per the
// reconnect ladder:
//   - local Disconnect -> return nil, nothing more to do
//   - CONNACK refusal -> return ErrNotLoggedIn
//   - dial failure -> exponential backoff, RetryLimit attempts, then
//     ErrNotConnected
//   - anything else (lost connection, server DISCONNECT) -> reconnect
//     immediately with no backoff and no retry limit, since a previously
//     working connection dropping is expected to recover
func (c *Client) Listen(ctx context.Context, params ListenParams) error {
	noConnStreak := 0
	lastSeqID := params.InitialSeqID
	if stored := c.seqID.Load(); stored > lastSeqID {
		lastSeqID = stored
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var tokenHash []byte
		if params.TokenHash != nil {
			tokenHash = params.TokenHash()
		}
		var host string
		if params.Host != nil {
			host = params.Host()
		}
		err := c.Connect(ctx, host, lastSeqID, tokenHash)
		if err != nil {
			var connErr *ConnectError
			if errors.As(err, &connErr) {
				params.OnDisconnect(ReasonRefused, err)
				return ErrNotLoggedIn
			}
			noConnStreak++
			params.OnDisconnect(ReasonNoConnection, err)
			if noConnStreak > params.RetryLimit {
				return ErrNotConnected
			}
			if !sleepBackoff(ctx, noConnStreak) {
				return ctx.Err()
			}
			continue
		}
		noConnStreak = 0
		if params.OnConnect != nil {
			params.OnConnect()
		}

		c.WaitDisconnected(ctx)
		if stored := c.seqID.Load(); stored > lastSeqID {
			lastSeqID = stored
		}

		if c.IsExpectedDisconnect() {
			params.OnDisconnect(ReasonLocal, nil)
			return nil
		}
		params.OnDisconnect(ReasonOther, nil)
		// fall through and reconnect immediately.
	}
}

// sleepBackoff waits attempt^2 seconds, capped at 60s.
func sleepBackoff(ctx context.Context, attempt int) bool {
	delay := time.Duration(attempt*attempt) * time.Second
	if delay > time.Minute {
		delay = time.Minute
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

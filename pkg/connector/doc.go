// Copyright 2024-2026 Aiku AI

// Package connector implements a Matrix-Facebook Messenger puppeting bridge
// using the mautrix bridgev2 framework.
//
// Messenger has no bot/app API; every account on the Messenger side is the
// logged-in user's own account, reached the way the official mobile app
// does: a Thrift-over-MQTT ("MQTToT") realtime connection for sending,
// typing, read receipts, and delta sync, plus signed GraphQL/REST calls
// over HTTP for login, thread metadata, history backfill, reactions, and
// media upload. See the msgrapi package for that transport layer.
//
// # Core Types
//
// [MetaConnector] implements [bridgev2.NetworkConnector] and owns the
// bridge-wide config and the optional QR/credential login website.
//
// [MetaClient] represents one logged-in Facebook account. It maintains the
// MQTToT connection for realtime events and performs GraphQL/REST calls for
// chat metadata, message history, reactions, and media.
//
// # Echo Prevention
//
// Every message and read receipt this bridge sends on Messenger's behalf
// comes back down the same MQTToT delta sync stream moments later. The
// dedup registry in dedup.go tracks our own sends by offline threading id
// and recently seen message ids so those echoes resolve the pending send
// instead of being bridged back in as a second, duplicate event.
//
// # Sub-packages
//
//   - metafmt converts an inbound Messenger message (with mentions) into
//     Matrix formatted content.
//   - matrixfmt converts Matrix HTML into Messenger's plain-text wire format.
//   - database holds the connector's own backfill queue table.
//   - backfillqueue drains that queue, one worker per login.
package connector

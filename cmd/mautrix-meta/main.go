// Copyright 2024-2026 Aiku AI

// Command mautrix-meta is a Matrix-Facebook Messenger puppeting bridge built
// on the mautrix bridgev2 framework. It translates messages between the two
// platforms, mapping each Matrix user to a dedicated Messenger login so they
// can send and receive as themselves.
package main

import (
	"go.mau.fi/mautrix-meta/pkg/connector"
	"maunium.net/go/mautrix/bridgev2/matrix/mxmain"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var m = mxmain.BridgeMain{
	Name:        "mautrix-meta",
	URL:         "https://github.com/mautrix/meta",
	Description: "A Matrix-Facebook Messenger puppeting bridge",
	Version:     "0.1.0",

	Connector: &connector.MetaConnector{},
}

func main() {
	m.Run()
}

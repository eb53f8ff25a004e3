// Copyright 2024-2026 Aiku AI

// Package database holds the connector's own tables: state that bridgev2's
// generic portal/ghost/message rows have no column for, currently just the
// history backfill queue.
package database

import (
	"embed"

	"go.mau.fi/util/dbutil"
)

var table dbutil.UpgradeTable

//go:embed *.sql
var rawUpgrades embed.FS

func init() {
	table.RegisterFS(rawUpgrades)
}

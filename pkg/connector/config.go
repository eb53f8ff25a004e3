// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"text/template"
	"time"

	up "go.mau.fi/util/configupgrade"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// Config holds the Facebook Messenger connector configuration.
type Config struct {
	Facebook struct {
		DeviceSeed        string `yaml:"device_seed"`
		DefaultRegionHint string `yaml:"default_region_hint"`
		ConnectionType    string `yaml:"connection_type"`
		Carrier           string `yaml:"carrier"`
		HNI               int    `yaml:"hni"`
	} `yaml:"facebook"`

	Bridge struct {
		PeriodicReconnect struct {
			Interval         string `yaml:"interval"`
			Mode             string `yaml:"mode"`
			Always           bool   `yaml:"always"`
			MinConnectedTime int    `yaml:"min_connected_time"`
		} `yaml:"periodic_reconnect"`

		OnReconnectionFail struct {
			Action  string `yaml:"action"`
			WaitFor int    `yaml:"wait_for"`
		} `yaml:"on_reconnection_fail"`

		Backfill struct {
			Enabled             bool `yaml:"enabled"`
			MaxPages            int  `yaml:"max_pages"`
			PageDelaySeconds    int  `yaml:"page_delay_seconds"`
			PostBatchDelaySeconds int `yaml:"post_batch_delay_seconds"`
			MaxTotalPages       int  `yaml:"max_total_pages"`
			UnreadHoursThreshold int `yaml:"unread_hours_threshold"`
		} `yaml:"backfill"`

		ResyncMaxDisconnectedTimeSeconds int  `yaml:"resync_max_disconnected_time"`
		PresenceFromFacebook             bool `yaml:"presence_from_facebook"`
		SandboxMediaDownload             bool `yaml:"sandbox_media_download"`
		TemporaryDisconnectNotices       bool `yaml:"temporary_disconnect_notices"`

		DisplaynameTemplate string `yaml:"displayname_template"`
	} `yaml:"bridge"`

	Web struct {
		// ListenAddr is the address the admin login website listens on.
		// Empty disables it.
		ListenAddr string `yaml:"listen_addr"`
	} `yaml:"web"`

	displaynameTemplate *template.Template
}

// DisplaynameParams holds the parameters for rendering the displayname
// template.
type DisplaynameParams struct {
	Name     string
	Username string
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

func (c *Config) PostProcess() error {
	var err error
	c.displaynameTemplate, err = template.New("displayname").Parse(c.Bridge.DisplaynameTemplate)
	return err
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "facebook", "device_seed")
	helper.Copy(up.Str, "facebook", "default_region_hint")
	helper.Copy(up.Str, "facebook", "connection_type")
	helper.Copy(up.Str, "facebook", "carrier")
	helper.Copy(up.Int, "facebook", "hni")

	helper.Copy(up.Str, "bridge", "periodic_reconnect", "interval")
	helper.Copy(up.Str, "bridge", "periodic_reconnect", "mode")
	helper.Copy(up.Bool, "bridge", "periodic_reconnect", "always")
	helper.Copy(up.Int, "bridge", "periodic_reconnect", "min_connected_time")

	helper.Copy(up.Str, "bridge", "on_reconnection_fail", "action")
	helper.Copy(up.Int, "bridge", "on_reconnection_fail", "wait_for")

	helper.Copy(up.Bool, "bridge", "backfill", "enabled")
	helper.Copy(up.Int, "bridge", "backfill", "max_pages")
	helper.Copy(up.Int, "bridge", "backfill", "page_delay_seconds")
	helper.Copy(up.Int, "bridge", "backfill", "post_batch_delay_seconds")
	helper.Copy(up.Int, "bridge", "backfill", "max_total_pages")
	helper.Copy(up.Int, "bridge", "backfill", "unread_hours_threshold")

	helper.Copy(up.Int, "bridge", "resync_max_disconnected_time")
	helper.Copy(up.Bool, "bridge", "presence_from_facebook")
	helper.Copy(up.Bool, "bridge", "sandbox_media_download")
	helper.Copy(up.Bool, "bridge", "temporary_disconnect_notices")
	helper.Copy(up.Str, "bridge", "displayname_template")

	helper.Copy(up.Str, "web", "listen_addr")
}

func (mc *MetaConnector) GetConfig() (example string, data any, upgrader up.Upgrader) {
	return ExampleConfig, &mc.Config, &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks:         nil,
		Base:           ExampleConfig,
	}
}

// FormatDisplayname renders the configured displayname template, falling
// back to the username when no template was configured or rendering fails.
func (c *Config) FormatDisplayname(params DisplaynameParams) string {
	if c.displaynameTemplate == nil {
		return params.Name
	}
	var buf templateBuffer
	if err := c.displaynameTemplate.Execute(&buf, params); err != nil {
		return params.Name
	}
	return string(buf)
}

// templateBuffer is a simple io.Writer that appends to a byte slice.
type templateBuffer []byte

func (b *templateBuffer) Write(p []byte) (int, error) {
	*b = append(*b, p...)
	return len(p), nil
}

// ResyncMaxDisconnectedTime returns the configured resync window as a
// time.Duration for convenience at call sites.
func (c *Config) ResyncMaxDisconnectedTime() time.Duration {
	return time.Duration(c.Bridge.ResyncMaxDisconnectedTimeSeconds) * time.Second
}

// PeriodicReconnectInterval parses the periodic reconnect interval, which
// is a duration string in the config. Zero means disabled; a malformed
// value also disables rather than failing startup.
func (c *Config) PeriodicReconnectInterval() time.Duration {
	if c.Bridge.PeriodicReconnect.Interval == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Bridge.PeriodicReconnect.Interval)
	if err != nil {
		return 0
	}
	return d
}

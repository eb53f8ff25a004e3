// Package msgrapi is the hand-rolled client for the messenger mobile app's
// wire protocols: HTTP/GraphQL (package http), the MQTToT realtime layer
// (package mqtt), and the Thrift Compact codec those two ride on (package
// thrift). This file holds the per-account identity state that every
// request, every CONNECT frame, and every signature is derived from.
package msgrapi

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// Application describes the impersonated mobile client. These values are
// fixed: they identify "Messenger for Android" to the server and changing
// them is equivalent to pretending to be a different client build.
type Application struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	ID        string `json:"id"`
	Locale    string `json:"locale"`
	Build     int64  `json:"build"`
	VersionID int64  `json:"version_id"`
}

// ClientID and ClientSecret are the app-level OAuth credentials baked into
// the Android client. They are not secret in the sense of being unique to
// any account; every installation of the app ships the same values.
const (
	ClientID     = "256002347743983"
	ClientSecret = "374e60f8b9bb6b8cbb30f78030438895"
)

// AccessToken returns the app-level "client|secret" bearer used before an
// account has its own OAuth access token.
func (a Application) AccessToken() string {
	return a.ID
}

// DefaultApplication returns the fixed Application identity.
func DefaultApplication() Application {
	return Application{
		Name:      "Orca-Android",
		Version:   "294.0.0.24.129",
		ID:        ClientID,
		Locale:    "en_US",
		Build:     263695262,
		VersionID: 3402226163209239,
	}
}

// Device describes the impersonated hardware. UUID and ADID are derived
// per-account (see Generate); everything else is a fixed device profile.
type Device struct {
	Manufacturer string `json:"manufacturer"`
	Builder      string `json:"builder"`
	Name         string `json:"name"`
	Software     string `json:"software"`
	Architecture string `json:"architecture"`
	Dimensions   string `json:"dimensions"`
	UserAgent    string `json:"user_agent"`

	ConnectionType    string `json:"connection_type"`
	ConnectionQuality string `json:"connection_quality"`
	Language          string `json:"language"`
	CountryCode       string `json:"country_code"`

	UUID string `json:"uuid"`
	ADID string `json:"adid"`

	DeviceGroup string `json:"device_group"`
}

// DefaultDevice returns the fixed device profile (a Pixel 3 on Android 10),
// with UUID/ADID left empty for Generate to fill in.
func DefaultDevice() Device {
	return Device{
		Manufacturer:      "Google",
		Builder:           "google",
		Name:              "Pixel 3",
		Software:          "10",
		Architecture:      "arm64-v8a:null",
		Dimensions:        "{density=2.75,width=1080,height=2028}",
		UserAgent:         "Dalvik/2.1.0 (Linux; U; Android 10; Pixel 3 Build/QQ3A.200605.001)",
		ConnectionType:    "WIFI",
		ConnectionQuality: "EXCELLENT",
		Language:          "en_US",
		CountryCode:       "US",
	}
}

// Carrier describes the impersonated mobile carrier.
type Carrier struct {
	Name string `json:"name"`
	HNI  int    `json:"hni"`
}

// DefaultCarrier returns the fixed carrier profile.
func DefaultCarrier() Carrier {
	return Carrier{Name: "Verizon", HNI: 311390}
}

// Session holds the mutable, account-specific auth state: the tuple
// (AccessToken, UID, MachineID) must be either fully set or
// fully null for any logged-in account.
type Session struct {
	AccessToken              string `json:"access_token,omitempty"`
	UID                      int64  `json:"uid,omitempty"`
	PasswordEncryptionPubkey string `json:"password_encryption_pubkey,omitempty"`
	PasswordEncryptionKeyID  int    `json:"password_encryption_key_id,omitempty"`
	MachineID                string `json:"machine_id,omitempty"`
	TransientAuthToken       string `json:"transient_auth_token,omitempty"`
	LoginFirstFactor         string `json:"login_first_factor,omitempty"`
	RegionHint               string `json:"region_hint,omitempty"`
}

// LoggedIn reports whether the session's auth tuple is fully set, checking
// at the read site rather than trusting partial state.
func (s Session) LoggedIn() bool {
	return s.AccessToken != "" && s.UID != 0 && s.MachineID != ""
}

// State is the full per-account identity blob (component B): the four
// sub-structs the server expects to see consistently on every request and
// every MQTT CONNECT.
type State struct {
	Application Application `json:"application"`
	Device      Device      `json:"device"`
	Carrier     Carrier     `json:"carrier"`
	Session     Session     `json:"session"`
}

// NewState returns a State with fixed application/device/carrier defaults
// and an empty session, ready for Generate to derive device identity.
func NewState() *State {
	return &State{
		Application: DefaultApplication(),
		Device:      DefaultDevice(),
		Carrier:     DefaultCarrier(),
		Session:     Session{RegionHint: "ODN"},
	}
}

// Generate deterministically derives the device UUID and ADID from a
// configured per-deployment seed and the bridge user's Matrix ID, via
// HMAC-SHA-256, so that re-running login for the same Matrix user always
// reproduces the same device identity ("device/adid
// deterministically derived from a configured seed + the external Matrix
// user id via HMAC-SHA-256"). This intentionally differs from the upstream
// Python implementation, which seeds a non-cryptographic PRNG with a plain
// string; HMAC gives a uniformly distributed, non-reversible derivation
// without pulling in a second randomness primitive.
func (s *State) Generate(seed, matrixUserID string) {
	mac := hmac.New(sha256.New, []byte(seed))
	mac.Write([]byte(matrixUserID))
	digest := mac.Sum(nil)

	// First 16 bytes become a version-4 UUID (RFC 4122 variant bits set,
	// same shape as the upstream uuid.UUID(int=..., version=4) derivation).
	var uuidBytes [16]byte
	copy(uuidBytes[:], digest[:16])
	uuidBytes[6] = (uuidBytes[6] & 0x0f) | 0x40
	uuidBytes[8] = (uuidBytes[8] & 0x3f) | 0x80
	s.Device.UUID = uuid.Must(uuid.FromBytes(uuidBytes[:])).String()

	// Next 8 bytes become the hex-encoded ADID.
	s.Device.ADID = hex.EncodeToString(digest[16:24])
}

// uaParts returns the ordered FB-prefixed user-agent metadata fields.
func (s *State) uaParts() [][2]string {
	return [][2]string{
		{"FBAN", s.Application.Name},
		{"FBAV", s.Application.Version},
		{"FBPN", s.Application.ID},
		{"FBLC", s.Device.Language},
		{"FBBV", fmt.Sprintf("%d", s.Application.Build)},
		{"FBCR", s.Carrier.Name},
		{"FBMF", s.Device.Manufacturer},
		{"FBBD", s.Device.Builder},
		{"FBDV", s.Device.Name},
		{"FBSV", s.Device.Software},
		{"FBCA", s.Device.Architecture},
		{"FBDM", s.Device.Dimensions},
		{"FB_FW", "1"},
	}
}

// UserAgentMeta returns the bracketed "FBAN/...;FBAV/...;..." metadata
// suffix appended to the device user-agent string.
func (s *State) UserAgentMeta() string {
	out := "["
	for i, part := range s.uaParts() {
		if i > 0 {
			out += ";"
		}
		out += part[0] + "/" + part[1]
	}
	return out + ";]"
}

// UserAgent returns the full HTTP User-Agent header value for this account.
func (s *State) UserAgent() string {
	return s.Device.UserAgent + " " + s.UserAgentMeta()
}

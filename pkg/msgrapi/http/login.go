package http

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strconv"
	"time"

	"go.mau.fi/mautrix-meta/pkg/msgrapi"
)

// mobileConfigField is one entry of a mobile-config item's field list.
type mobileConfigField struct {
	K    int     `json:"k"`
	Bln  *int    `json:"bln,omitempty"`
	I64  *int64  `json:"i64,omitempty"`
	Str  *string `json:"str,omitempty"`
	Pname *string `json:"pname,omitempty"`
}

type mobileConfigItem struct {
	Fields []mobileConfigField `json:"fields"`
	Hash   string              `json:"hash"`
}

// mobileConfig is the JSON shape returned by mobileconfigsessionless. The
// RSA pubkey and key id used for password encryption live at config
// number 15712, fields 2 and 1 respectively.
type mobileConfig struct {
	Configs map[string]mobileConfigItem `json:"configs"`
}

func (m mobileConfig) find(number, fieldK int) *mobileConfigField {
	item, ok := m.Configs[strconv.Itoa(number)]
	if !ok {
		return nil
	}
	for i := range item.Fields {
		if item.Fields[i].K == fieldK {
			return &item.Fields[i]
		}
	}
	return nil
}

// FetchPasswordEncryptionKey retrieves the sessionless mobile-config blob
// and extracts the RSA pubkey and key id used to encrypt passwords.
func (c *Client) FetchPasswordEncryptionKey(ctx context.Context) (pubkeyPEM string, keyID int, err error) {
	params := map[string]string{
		"query_hash":     "4d43269ae03c31739a1e8542bc0d1da3c0acb1a85de6903ee9f669e2bc4b7af7",
		"one_query_hash": "835e01d247719369d2affa524786437bd4ad9443e351d95eb95d23d4aed357c7",
		"bool_opt_policy": "3",
		"device_id":      c.State.Device.UUID,
		"api_version":    "8",
		"fetch_type":     "SYNC_FULL",
		"unit_type":      "1",
		"access_token":   c.State.Application.AccessToken(),
	}
	for k, v := range c.Params() {
		params[k] = v
	}
	body := c.Format(params, false, nil)
	resp, err := c.PostForm(ctx, HostBGraph+"/mobileconfigsessionless", body, nil)
	if err != nil {
		return "", 0, err
	}
	data, err := ReadAll(resp)
	if err != nil {
		return "", 0, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return "", 0, &ResponseTypeError{Status: resp.StatusCode, Body: string(data)}
	}
	if err := handleResponseBody(resp.StatusCode, decoded); err != nil {
		return "", 0, err
	}
	var cfg mobileConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return "", 0, fmt.Errorf("failed to parse mobile config: %w", err)
	}
	keyIDField := cfg.find(15712, 1)
	pubkeyField := cfg.find(15712, 2)
	if keyIDField == nil || keyIDField.I64 == nil || pubkeyField == nil || pubkeyField.Str == nil {
		return "", 0, fmt.Errorf("mobile config response is missing the password encryption key")
	}
	return *pubkeyField.Str, int(*keyIDField.I64), nil
}

// EncryptPassword generates a random
// AES-256 key + 12-byte IV, RSA-PKCS1v15-wrap the AES key with the fetched
// pubkey, AES-GCM encrypt the UTF-8 password (with the current unix epoch
// seconds, as a decimal string, as AEAD associated data), and compose the
// binary envelope:
//
//	[0x01, keyIDByte, iv(12), len(encKey) as LE u16, encKey, gcmTag(16), ciphertext]
//
// base64-encoded and prefixed literally "#PWD_MSGR:1:<epoch>:".
func EncryptPassword(password string, pubkeyPEM string, keyID int) (string, error) {
	block, _ := pem.Decode([]byte(pubkeyPEM))
	var pub *rsa.PublicKey
	if block != nil {
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return "", fmt.Errorf("failed to parse RSA pubkey: %w", err)
		}
		rsaPub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return "", fmt.Errorf("password pubkey is not RSA")
		}
		pub = rsaPub
	} else {
		// Some deployments hand back a raw base64 DER block with no PEM
		// armor; fall back to parsing it directly.
		der, err := base64.StdEncoding.DecodeString(pubkeyPEM)
		if err != nil {
			return "", fmt.Errorf("password pubkey is neither PEM nor base64 DER: %w", err)
		}
		parsed, err := x509.ParsePKIXPublicKey(der)
		if err != nil {
			return "", fmt.Errorf("failed to parse RSA pubkey: %w", err)
		}
		rsaPub, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return "", fmt.Errorf("password pubkey is not RSA")
		}
		pub = rsaPub
	}

	aesKey := make([]byte, 32)
	if _, err := rand.Read(aesKey); err != nil {
		return "", err
	}
	iv := make([]byte, 12)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	epoch := time.Now().Unix()
	aad := []byte(strconv.FormatInt(epoch, 10))

	block2, err := aes.NewCipher(aesKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCMWithNonceSize(block2, len(iv))
	if err != nil {
		return "", err
	}
	sealed := gcm.Seal(nil, iv, []byte(password), aad)
	// Go's GCM.Seal appends the tag to the ciphertext; split them back out
	// to match the envelope's separate tag/ciphertext fields.
	tagSize := gcm.Overhead()
	ciphertext := sealed[:len(sealed)-tagSize]
	tag := sealed[len(sealed)-tagSize:]

	encKey, err := rsa.EncryptPKCS1v15(rand.Reader, pub, aesKey)
	if err != nil {
		return "", fmt.Errorf("failed to RSA-encrypt AES key: %w", err)
	}

	envelope := make([]byte, 0, 2+len(iv)+2+len(encKey)+len(tag)+len(ciphertext))
	envelope = append(envelope, 0x01, byte(keyID))
	envelope = append(envelope, iv...)
	var lenBuf [2]byte
	binary.LittleEndian.PutUint16(lenBuf[:], uint16(len(encKey)))
	envelope = append(envelope, lenBuf[:]...)
	envelope = append(envelope, encKey...)
	envelope = append(envelope, tag...)
	envelope = append(envelope, ciphertext...)

	encoded := base64.StdEncoding.EncodeToString(envelope)
	return fmt.Sprintf("#PWD_MSGR:1:%d:%s", epoch, encoded), nil
}

// Jazoest derives the "jazoest" form field required for server acceptance:
// the literal prefix "2" followed by the decimal sum of the UTF-8
// codepoints of deviceUUID. This formula has no documented semantics and
// must be reproduced unchanged.
func Jazoest(deviceUUID string) string {
	var sum int64
	for _, r := range deviceUUID {
		sum += int64(r)
	}
	return "2" + strconv.FormatInt(sum, 10)
}

// LoginResult carries the outcome of a successful /auth/login call.
type LoginResult struct {
	AccessToken     string
	UID             int64
	MachineID       string
	AnalyticsClaim  string
	UserStorageKey  string
}

// Login submits a password-based login. If the
// server responds with a 406 TwoFactorRequiredError, the caller should
// persist its fields into the account session and call LoginTwoFactor or
// LoginApprovedMachine next.
func (c *Client) Login(ctx context.Context, email, encryptedPassword string) (*LoginResult, error) {
	return c.doLogin(ctx, map[string]string{
		"email":    email,
		"password": encryptedPassword,
		"credentials_type": "password",
	})
}

// LoginTwoFactor submits the follow-up two-factor login call, retaining
// login_first_factor/transient_auth_token/machine_id/uid from the initial
// 406 response.
func (c *Client) LoginTwoFactor(ctx context.Context, email, code string) (*LoginResult, error) {
	if c.State.Session.LoginFirstFactor == "" {
		return nil, fmt.Errorf("no two-factor login in progress")
	}
	return c.doLogin(ctx, map[string]string{
		"email":                      email,
		"password":                   code,
		"twofactor_code":             code,
		"encrypted_msisdn":           "",
		"currently_logged_in_userid": "0",
		"userid":                     strconv.FormatInt(c.State.Session.UID, 10),
		"machine_id":                 c.State.Session.MachineID,
		"first_factor":               c.State.Session.LoginFirstFactor,
		"credentials_type":           "two_factor",
	})
}

// LoginApprovedMachine submits the "approved machine" variant, using the
// transient auth token in place of a password.
func (c *Client) LoginApprovedMachine(ctx context.Context) (*LoginResult, error) {
	if c.State.Session.TransientAuthToken == "" {
		return nil, fmt.Errorf("no two-factor login in progress")
	}
	return c.doLogin(ctx, map[string]string{
		"password":         c.State.Session.TransientAuthToken,
		"email":            strconv.FormatInt(c.State.Session.UID, 10),
		"encrypted_msisdn": "",
		"credentials_type": "transient_token",
	})
}

// doLogin assembles the common login form fields, signs and submits the
// request, and on success stores the resulting identity into the client's
// session. On a 406 TwoFactorRequiredError it records the partial state
// the follow-up call needs before propagating the error.
func (c *Client) doLogin(ctx context.Context, extra map[string]string) (*LoginResult, error) {
	fields := map[string]string{
		"adid":                       c.State.Device.ADID,
		"api_key":                    msgrapi.ClientID,
		"community_id":               "",
		"secure_family_device_id":    "",
		"cpl":                        "true",
		"currently_logged_in_userid": "0",
		"device_id":                  c.State.Device.UUID,
		"fb_api_caller_class":        "AuthOperations$PasswordAuthOperation",
		"fb_api_req_friendly_name":   "authenticate",
		"format":                     "json",
		"generate_analytics_claim":   "1",
		"generate_machine_id":        "1",
		"generate_session_cookies":   "1",
		"jazoest":                    Jazoest(c.State.Device.UUID),
		"meta_inf_fbmeta":            "NO_FILE",
		"source":                     "login",
		"try_num":                    "1",
	}
	for k, v := range c.Params() {
		fields[k] = v
	}
	for k, v := range extra {
		fields[k] = v
	}
	body := c.Format(fields, true, map[string]string{"access_token": c.State.Application.AccessToken()})

	resp, err := c.PostForm(ctx, HostBGraph+"/auth/login", body, map[string]string{
		"x-fb-friendly-name": fields["fb_api_req_friendly_name"],
	})
	if err != nil {
		return nil, err
	}
	data, err := ReadAll(resp)
	if err != nil {
		return nil, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, &ResponseTypeError{Status: resp.StatusCode, Body: string(data)}
	}
	if err := handleResponseBody(resp.StatusCode, decoded); err != nil {
		if twoFactor, ok := err.(*TwoFactorRequiredError); ok {
			c.State.Session.MachineID = twoFactor.MachineID
			uid, _ := strconv.ParseInt(twoFactor.UID, 10, 64)
			c.State.Session.UID = uid
			c.State.Session.LoginFirstFactor = twoFactor.LoginFirstFactor
			c.State.Session.TransientAuthToken = twoFactor.AuthToken
		}
		return nil, err
	}

	token, _ := decoded["access_token"].(string)
	uidVal, _ := decoded["uid"]
	uid := parseUID(uidVal)
	machineID, _ := decoded["machine_id"].(string)
	analyticsClaim, _ := decoded["analytics_claim"].(string)
	userStorageKey, _ := decoded["user_storage_key"].(string)

	c.State.Session.AccessToken = token
	c.State.Session.UID = uid
	c.State.Session.MachineID = machineID
	c.State.Session.LoginFirstFactor = ""

	return &LoginResult{
		AccessToken:    token,
		UID:            uid,
		MachineID:      machineID,
		AnalyticsClaim: analyticsClaim,
		UserStorageKey: userStorageKey,
	}, nil
}

// CheckApprovedMachine polls whether the device/account pair from a prior
// two-factor challenge has since been approved, letting the login flow
// skip straight to LoginApprovedMachine.
func (c *Client) CheckApprovedMachine(ctx context.Context) (bool, error) {
	fields := map[string]string{
		"u":                        strconv.FormatInt(c.State.Session.UID, 10),
		"m":                        c.State.Session.MachineID,
		"method":                   "GET",
		"fb_api_req_friendly_name": "checkApprovedMachine",
		"fb_api_caller_class":      "com.facebook.account.twofac.protocol.TwoFacServiceHandler",
		"access_token":             c.State.Application.AccessToken(),
	}
	for k, v := range c.Params() {
		fields[k] = v
	}
	body := c.Format(fields, false, nil)
	resp, err := c.PostForm(ctx, HostGraph+"/check_approved_machine", body, map[string]string{
		"x-fb-friendly-name": fields["fb_api_req_friendly_name"],
	})
	if err != nil {
		return false, err
	}
	data, err := ReadAll(resp)
	if err != nil {
		return false, err
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return false, &ResponseTypeError{Status: resp.StatusCode, Body: string(data)}
	}
	if err := handleResponseBody(resp.StatusCode, decoded); err != nil {
		return false, err
	}
	items, _ := decoded["data"].([]any)
	if len(items) == 0 {
		return false, nil
	}
	first, _ := items[0].(map[string]any)
	approved, _ := first["approved"].(bool)
	return approved, nil
}

// parseUID accepts either a JSON number or a numeric string for the uid
// field, since Facebook's endpoints are inconsistent about which they send.
func parseUID(v any) int64 {
	switch val := v.(type) {
	case string:
		uid, _ := strconv.ParseInt(val, 10, 64)
		return uid
	case float64:
		return int64(val)
	default:
		return 0
	}
}

package gateway

import "time"

// AuthStrategy produces the auth object for the connect handshake.
// The gateway lineage supports two shapes: plain bearer-token/password
// auth, and a signed device-identity challenge. Which one a deployment
// accepts is server policy; TokenAuth is the default.
type AuthStrategy interface {
	// ConnectAuth builds the "auth" member of the connect params.
	// nonce is the challenge from a connect.challenge event, or empty when
	// the client connected without being challenged. A nil map with nil
	// error means "no auth material".
	ConnectAuth(nonce string) (map[string]any, error)
}

// TokenAuth authenticates with a bearer token and/or shared password.
type TokenAuth struct {
	Token    string
	Password string
}

func (a TokenAuth) ConnectAuth(string) (map[string]any, error) {
	if a.Token == "" && a.Password == "" {
		return nil, nil
	}
	auth := map[string]any{}
	if a.Token != "" {
		auth["token"] = a.Token
	}
	if a.Password != "" {
		auth["password"] = a.Password
	}
	return auth, nil
}

// DeviceAuth authenticates with a persistent Ed25519 device identity,
// signing the challenge nonce when the server provides one. A cached
// per-role token from a previous grant is attached when available.
type DeviceAuth struct {
	Identity *DeviceIdentity
	Store    *DeviceTokenStore
	ClientID string
	Mode     string
	Role     string
	Scopes   []string

	// now is overridable for tests.
	now func() time.Time
}

func (a *DeviceAuth) ConnectAuth(nonce string) (map[string]any, error) {
	if a.Identity == nil {
		return nil, nil
	}
	nowFn := a.now
	if nowFn == nil {
		nowFn = time.Now
	}
	signedAtMs := nowFn().UnixMilli()

	var token string
	if a.Store != nil {
		if entry, err := a.Store.Load(a.Identity.DeviceID, a.Role); err == nil && entry != nil {
			token = entry.Token
		}
	}

	payload := BuildDeviceAuthPayload(DeviceAuthPayload{
		DeviceID:   a.Identity.DeviceID,
		ClientID:   a.ClientID,
		ClientMode: a.Mode,
		Role:       a.Role,
		Scopes:     a.Scopes,
		SignedAtMs: signedAtMs,
		Token:      token,
		Nonce:      nonce,
	})
	signature, err := a.Identity.Sign(payload)
	if err != nil {
		return nil, err
	}

	auth := map[string]any{
		"deviceId":   a.Identity.DeviceID,
		"publicKey":  a.Identity.PublicKeyRawBase64URL(),
		"signature":  signature,
		"signedAtMs": signedAtMs,
	}
	if nonce != "" {
		auth["nonce"] = nonce
	}
	if token != "" {
		auth["token"] = token
	}
	return auth, nil
}

package gateway

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/openclaw/clawdeck/pkg/errors"
)

// DeviceIdentity is a persistent Ed25519 keypair identifying this device to
// the gateway. The device id is the SHA-256 hex digest of the raw public key.
type DeviceIdentity struct {
	DeviceID      string
	PublicKeyPEM  string
	PrivateKeyPEM string

	privateKey ed25519.PrivateKey
	publicKey  ed25519.PublicKey
}

type deviceIdentityFile struct {
	Version       int    `json:"version"`
	DeviceID      string `json:"deviceId"`
	PublicKeyPEM  string `json:"publicKeyPem"`
	PrivateKeyPEM string `json:"privateKeyPem"`
	CreatedAtMs   int64  `json:"createdAtMs"`
}

// LoadOrCreateDeviceIdentity loads the device identity from
// <stateDir>/identity/device.json, creating and persisting a fresh keypair
// when none exists or the stored one is unreadable.
func LoadOrCreateDeviceIdentity(stateDir string) (*DeviceIdentity, error) {
	path := filepath.Join(stateDir, "identity", "device.json")

	if identity, err := loadDeviceIdentity(path); err == nil {
		return identity, nil
	}

	publicKey, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIdentityLoad, "failed to generate device keypair")
	}

	publicPEM, err := encodePublicKeyPEM(publicKey)
	if err != nil {
		return nil, err
	}
	privatePEM, err := encodePrivateKeyPEM(privateKey)
	if err != nil {
		return nil, err
	}
	deviceID := deviceIDFromPublicKey(publicKey)

	record := deviceIdentityFile{
		Version:       1,
		DeviceID:      deviceID,
		PublicKeyPEM:  publicPEM,
		PrivateKeyPEM: privatePEM,
		CreatedAtMs:   time.Now().UnixMilli(),
	}
	if err := writeJSONFile(path, record); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeIdentityLoad, "failed to persist device identity").
			WithContext("path", path)
	}

	return &DeviceIdentity{
		DeviceID:      deviceID,
		PublicKeyPEM:  publicPEM,
		PrivateKeyPEM: privatePEM,
		privateKey:    privateKey,
		publicKey:     publicKey,
	}, nil
}

func loadDeviceIdentity(path string) (*DeviceIdentity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var record deviceIdentityFile
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, err
	}
	if record.Version != 1 || record.PublicKeyPEM == "" || record.PrivateKeyPEM == "" {
		return nil, fmt.Errorf("unrecognized device identity record")
	}

	publicKey, err := decodePublicKeyPEM(record.PublicKeyPEM)
	if err != nil {
		return nil, err
	}
	privateKey, err := decodePrivateKeyPEM(record.PrivateKeyPEM)
	if err != nil {
		return nil, err
	}

	// The stored id is advisory; the public key is authoritative. Rewrite the
	// record when they disagree.
	derivedID := deviceIDFromPublicKey(publicKey)
	if derivedID != record.DeviceID {
		record.DeviceID = derivedID
		_ = writeJSONFile(path, record)
	}

	return &DeviceIdentity{
		DeviceID:      derivedID,
		PublicKeyPEM:  record.PublicKeyPEM,
		PrivateKeyPEM: record.PrivateKeyPEM,
		privateKey:    privateKey,
		publicKey:     publicKey,
	}, nil
}

// Sign signs payload with the device's private key and returns an unpadded
// base64url signature.
func (d *DeviceIdentity) Sign(payload string) (string, error) {
	if len(d.privateKey) == 0 {
		return "", errors.New(errors.ErrCodeIdentityLoad, "device identity has no private key")
	}
	signature := ed25519.Sign(d.privateKey, []byte(payload))
	return base64.RawURLEncoding.EncodeToString(signature), nil
}

// PublicKeyRawBase64URL returns the raw 32-byte public key, base64url encoded
// without padding.
func (d *DeviceIdentity) PublicKeyRawBase64URL() string {
	return base64.RawURLEncoding.EncodeToString(d.publicKey)
}

// DeviceAuthPayload is the material covered by a device auth signature.
type DeviceAuthPayload struct {
	DeviceID   string
	ClientID   string
	ClientMode string
	Role       string
	Scopes     []string
	SignedAtMs int64
	Token      string
	Nonce      string
}

// BuildDeviceAuthPayload serializes the signed fields as a versioned
// pipe-joined string: v1 without a challenge nonce, v2 with one.
func BuildDeviceAuthPayload(p DeviceAuthPayload) string {
	version := "v1"
	if p.Nonce != "" {
		version = "v2"
	}
	fields := []string{
		version,
		p.DeviceID,
		p.ClientID,
		p.ClientMode,
		p.Role,
		strings.Join(p.Scopes, ","),
		fmt.Sprintf("%d", p.SignedAtMs),
		p.Token,
	}
	if version == "v2" {
		fields = append(fields, p.Nonce)
	}
	return strings.Join(fields, "|")
}

func deviceIDFromPublicKey(key ed25519.PublicKey) string {
	sum := sha256.Sum256(key)
	return hex.EncodeToString(sum[:])
}

func encodePublicKeyPEM(key ed25519.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(key)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeIdentityLoad, "failed to marshal public key")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

func encodePrivateKeyPEM(key ed25519.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", errors.Wrap(err, errors.ErrCodeIdentityLoad, "failed to marshal private key")
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

func decodePublicKeyPEM(pemText string) (ed25519.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in public key")
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not Ed25519")
	}
	return key, nil
}

func decodePrivateKeyPEM(pemText string) (ed25519.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemText))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in private key")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	key, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not Ed25519")
	}
	return key, nil
}

func writeJSONFile(path string, payload any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if err := os.WriteFile(path, data, 0600); err != nil {
		return err
	}
	return nil
}

// DeviceTokenStore caches per-role tokens granted to a device identity in
// <stateDir>/identity/device-auth.json.
type DeviceTokenStore struct {
	path string
}

// DeviceTokenEntry is one cached role grant.
type DeviceTokenEntry struct {
	Token       string   `json:"token"`
	Role        string   `json:"role"`
	Scopes      []string `json:"scopes"`
	UpdatedAtMs int64    `json:"updatedAtMs"`
}

type deviceTokenFile struct {
	Version  int                         `json:"version"`
	DeviceID string                      `json:"deviceId"`
	Tokens   map[string]DeviceTokenEntry `json:"tokens"`
}

// NewDeviceTokenStore returns a store rooted at stateDir.
func NewDeviceTokenStore(stateDir string) *DeviceTokenStore {
	return &DeviceTokenStore{path: filepath.Join(stateDir, "identity", "device-auth.json")}
}

// Load returns the cached token entry for deviceID and role, or nil when no
// valid entry exists. Corrupt files read as empty.
func (s *DeviceTokenStore) Load(deviceID, role string) (*DeviceTokenEntry, error) {
	record, err := s.read()
	if err != nil || record == nil {
		return nil, err
	}
	if record.DeviceID != deviceID {
		return nil, nil
	}
	entry, ok := record.Tokens[role]
	if !ok || entry.Token == "" {
		return nil, nil
	}
	return &entry, nil
}

// Store persists a token grant for deviceID and role, preserving grants for
// other roles when the file already belongs to this device.
func (s *DeviceTokenStore) Store(deviceID, role, token string, scopes []string) error {
	record := &deviceTokenFile{
		Version:  1,
		DeviceID: deviceID,
		Tokens:   map[string]DeviceTokenEntry{},
	}
	if existing, err := s.read(); err == nil && existing != nil && existing.DeviceID == deviceID {
		for k, v := range existing.Tokens {
			record.Tokens[k] = v
		}
	}

	normalized := make([]string, 0, len(scopes))
	seen := map[string]bool{}
	for _, scope := range scopes {
		scope = strings.TrimSpace(scope)
		if scope == "" || seen[scope] {
			continue
		}
		seen[scope] = true
		normalized = append(normalized, scope)
	}
	sort.Strings(normalized)

	record.Tokens[role] = DeviceTokenEntry{
		Token:       token,
		Role:        role,
		Scopes:      normalized,
		UpdatedAtMs: time.Now().UnixMilli(),
	}
	return writeJSONFile(s.path, record)
}

// Clear removes the token grant for deviceID and role, if present.
func (s *DeviceTokenStore) Clear(deviceID, role string) error {
	record, err := s.read()
	if err != nil || record == nil {
		return nil
	}
	if record.DeviceID != deviceID {
		return nil
	}
	if _, ok := record.Tokens[role]; !ok {
		return nil
	}
	delete(record.Tokens, role)
	return writeJSONFile(s.path, record)
}

func (s *DeviceTokenStore) read() (*deviceTokenFile, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var record deviceTokenFile
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, nil
	}
	if record.Version != 1 {
		return nil, nil
	}
	if record.Tokens == nil {
		record.Tokens = map[string]DeviceTokenEntry{}
	}
	return &record, nil
}

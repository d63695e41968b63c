// Package identity manages the device's key material: an ed25519 pair that
// signs events and an x25519 pair that derives shared encryption secrets.
// Keys are generated on first run and persisted in the cache settings.
package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
	"golang.org/x/crypto/curve25519"

	"tillsync/pkg/platform/sentinel"
)

// KeyStore persists key material between runs. The cache settings table
// implements it.
type KeyStore interface {
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// RemoteSigner signs on behalf of a device that holds only a public key,
// the way a browser extension signs for a web client. Implementations talk
// to an external signer process.
type RemoteSigner interface {
	PublicKey(ctx context.Context) (string, error)
	Sign(ctx context.Context, digest []byte) ([]byte, error)
}

const (
	settingDeviceID   = "device_id"
	settingSignKey    = "identity.sign_priv"
	settingEncryptKey = "identity.enc_priv"
)

// Identity is the device's resolved key material. The signing private key
// may be absent when signing is delegated to a RemoteSigner.
type Identity struct {
	deviceID string
	signPriv ed25519.PrivateKey
	signPub  ed25519.PublicKey
	encPriv  []byte
	encPub   []byte
}

// LoadOrCreate restores the device identity from the store, generating and
// persisting fresh keys on first run.
func LoadOrCreate(ctx context.Context, store KeyStore) (*Identity, error) {
	deviceID, err := store.GetSetting(ctx, settingDeviceID)
	if err != nil {
		return nil, fmt.Errorf("load device id: %w", err)
	}
	if deviceID == "" {
		deviceID = uuid.NewString()
		if err := store.SetSetting(ctx, settingDeviceID, deviceID); err != nil {
			return nil, fmt.Errorf("persist device id: %w", err)
		}
	}

	signHex, err := store.GetSetting(ctx, settingSignKey)
	if err != nil {
		return nil, fmt.Errorf("load signing key: %w", err)
	}
	var signPriv ed25519.PrivateKey
	if signHex == "" {
		_, signPriv, err = ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate signing key: %w", err)
		}
		if err := store.SetSetting(ctx, settingSignKey, hex.EncodeToString(signPriv.Seed())); err != nil {
			return nil, fmt.Errorf("persist signing key: %w", err)
		}
	} else {
		seed, err := hex.DecodeString(signHex)
		if err != nil || len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("stored signing key malformed: %w", sentinel.ErrInvalidState)
		}
		signPriv = ed25519.NewKeyFromSeed(seed)
	}

	encHex, err := store.GetSetting(ctx, settingEncryptKey)
	if err != nil {
		return nil, fmt.Errorf("load encryption key: %w", err)
	}
	var encPriv []byte
	if encHex == "" {
		encPriv = make([]byte, curve25519.ScalarSize)
		if _, err := rand.Read(encPriv); err != nil {
			return nil, fmt.Errorf("generate encryption key: %w", err)
		}
		if err := store.SetSetting(ctx, settingEncryptKey, hex.EncodeToString(encPriv)); err != nil {
			return nil, fmt.Errorf("persist encryption key: %w", err)
		}
	} else {
		encPriv, err = hex.DecodeString(encHex)
		if err != nil || len(encPriv) != curve25519.ScalarSize {
			return nil, fmt.Errorf("stored encryption key malformed: %w", sentinel.ErrInvalidState)
		}
	}

	return New(deviceID, signPriv, encPriv)
}

// New assembles an identity from existing key material. signPriv may be nil
// for devices that delegate signing.
func New(deviceID string, signPriv ed25519.PrivateKey, encPriv []byte) (*Identity, error) {
	id := &Identity{deviceID: deviceID, signPriv: signPriv}
	if signPriv != nil {
		id.signPub = signPriv.Public().(ed25519.PublicKey)
	}
	if encPriv != nil {
		pub, err := curve25519.X25519(encPriv, curve25519.Basepoint)
		if err != nil {
			return nil, fmt.Errorf("derive encryption public key: %w", err)
		}
		id.encPriv = encPriv
		id.encPub = pub
	}
	return id, nil
}

// DeviceID returns the stable uuid identifying this device.
func (i *Identity) DeviceID() string { return i.deviceID }

// PublicKey returns the hex signing public key used as the event author.
func (i *Identity) PublicKey() string { return hex.EncodeToString(i.signPub) }

// SetPublicKey records an author key obtained from a remote signer, for
// devices with no resident signing key.
func (i *Identity) SetPublicKey(hexKey string) error {
	pub, err := hex.DecodeString(hexKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("malformed public key: %w", sentinel.ErrInvalidState)
	}
	i.signPub = pub
	return nil
}

// CanSign reports whether a resident signing key is available.
func (i *Identity) CanSign() bool { return i.signPriv != nil }

// Sign signs digest with the resident key, failing closed when absent.
func (i *Identity) Sign(digest []byte) ([]byte, error) {
	if i.signPriv == nil {
		return nil, fmt.Errorf("resident signing key absent: %w", sentinel.ErrNoSigner)
	}
	return ed25519.Sign(i.signPriv, digest), nil
}

// Verify checks sig over digest against a hex author key.
func Verify(authorHex string, digest, sig []byte) bool {
	pub, err := hex.DecodeString(authorHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest, sig)
}

// EncryptionPublicKey returns the x25519 public key, nil when absent.
func (i *Identity) EncryptionPublicKey() []byte { return i.encPub }

// SharedSecret computes the x25519 shared secret with a peer encryption key.
func (i *Identity) SharedSecret(peerPub []byte) ([]byte, error) {
	if i.encPriv == nil {
		return nil, fmt.Errorf("encryption key absent: %w", sentinel.ErrInvalidState)
	}
	secret, err := curve25519.X25519(i.encPriv, peerPub)
	if err != nil {
		return nil, fmt.Errorf("derive shared secret: %w", err)
	}
	return secret, nil
}

// Package codec encrypts and decrypts record payloads with versioned
// envelopes. The encryption strategy list is resolved once from a capability
// descriptor at session start; per-payload encoding walks the list in
// priority order and the first scheme that succeeds wins. Decoding dispatches
// on the envelope version and degrades to nil on anything it cannot read —
// an undecryptable payload skips one record, never crashes the pipeline.
//
// The codec does no I/O and never lets an error escape Decode.
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"tillsync/pkg/platform/sentinel"
)

// ExternalEncrypter is an encrypt/decrypt delegate for devices that hold
// only a public key, in the way a browser extension mediates crypto for a
// web client. Content produced by it is opaque to this process.
type ExternalEncrypter interface {
	Encrypt(plaintext []byte) (string, error)
	Decrypt(content string) ([]byte, error)
}

// SecretSource exposes the x25519 agreement the codec needs without pulling
// in the whole identity package.
type SecretSource interface {
	SharedSecret(peerPub []byte) ([]byte, error)
}

// Capabilities describes what key material this session holds. It is
// resolved once at startup; the codec never re-probes per call.
type Capabilities struct {
	// TeamCode enables the team scheme when non-empty.
	TeamCode string
	// Secrets and PeerPublicKey enable the asymmetric shared schemes.
	Secrets       SecretSource
	PeerPublicKey []byte
	// LocalKey enables the device-local scheme (32 bytes).
	LocalKey []byte
	// Encrypter enables delegated encryption.
	Encrypter ExternalEncrypter
}

type encoder func(plaintext []byte) (string, error)

// Codec encodes and decodes payloads according to resolved capabilities.
type Codec struct {
	encoders  []encoder
	teamKey   []byte
	sharedKey []byte // HKDF-derived AEAD key, nil without peer material
	legacyKey []byte // SHA-256 of raw shared secret
	localKey  []byte
	external  ExternalEncrypter
}

// New resolves the ordered strategy list from caps. Priority: team scheme,
// asymmetric shared scheme (AEAD with CBC fallback), local key, external
// encrypter, plaintext.
func New(caps Capabilities) (*Codec, error) {
	c := &Codec{external: caps.Encrypter}

	if caps.TeamCode != "" {
		key, err := deriveKey([]byte(caps.TeamCode), "tillsync:team:v3")
		if err != nil {
			return nil, err
		}
		c.teamKey = key
		c.encoders = append(c.encoders, c.encodeTeam)
	}

	if caps.Secrets != nil && len(caps.PeerPublicKey) > 0 {
		secret, err := caps.Secrets.SharedSecret(caps.PeerPublicKey)
		if err != nil {
			return nil, fmt.Errorf("resolve shared secret: %w", err)
		}
		shared, err := deriveKey(secret, "tillsync:shared:v2")
		if err != nil {
			return nil, err
		}
		legacy := sha256.Sum256(secret)
		c.sharedKey = shared
		c.legacyKey = legacy[:]
		c.encoders = append(c.encoders, c.encodeShared)
	}

	if len(caps.LocalKey) > 0 {
		c.localKey = caps.LocalKey
		c.encoders = append(c.encoders, c.encodeLocal)
	}

	if caps.Encrypter != nil {
		c.encoders = append(c.encoders, c.encodeExternal)
	}

	return c, nil
}

// Encode serializes payload and encrypts it with the first scheme that
// succeeds. When every scheme fails (or none is configured) the payload goes
// out as plaintext JSON with encrypted=false — callers tag the event so the
// reader knows not to invoke decryption.
func (c *Codec) Encode(payload any) (content string, encrypted bool, err error) {
	plaintext, err := json.Marshal(payload)
	if err != nil {
		return "", false, fmt.Errorf("marshal payload: %w", err)
	}
	for _, enc := range c.encoders {
		if out, err := enc(plaintext); err == nil {
			return out, true, nil
		}
	}
	return string(plaintext), false, nil
}

// Decode reverses Encode. For encrypted content it dispatches on the
// envelope version; every failure path degrades to "attempt plain JSON
// parse, else nil". It never returns an error.
func (c *Codec) Decode(content string, encrypted bool) json.RawMessage {
	if !encrypted {
		return plainJSON(content)
	}
	env, ok := parseEnvelope(content)
	if !ok {
		return plainJSON(content)
	}

	var plaintext []byte
	var err error
	switch env.V {
	case versionLegacyShared:
		if c.legacyKey == nil {
			return nil
		}
		plaintext, err = openLegacy(c.legacyKey, env)
	case versionShared:
		if c.sharedKey == nil {
			return nil
		}
		plaintext, err = openAEAD(c.sharedKey, env)
	case versionTeam:
		if c.teamKey == nil {
			return nil
		}
		plaintext, err = openAEAD(c.teamKey, env)
	case versionLocal:
		if c.localKey == nil {
			return nil
		}
		plaintext, err = openAEAD(c.localKey, env)
	case versionExternal:
		if c.external == nil {
			return nil
		}
		plaintext, err = c.external.Decrypt(env.Ct)
	default:
		// Unknown version: written by a newer build. Skip, don't crash.
		return nil
	}
	if err != nil {
		return nil
	}
	return plainJSON(string(plaintext))
}

// DecodeErr is Decode with the failure made explicit, for callers that
// count skipped records.
func (c *Codec) DecodeErr(content string, encrypted bool) (json.RawMessage, error) {
	if raw := c.Decode(content, encrypted); raw != nil {
		return raw, nil
	}
	return nil, fmt.Errorf("no scheme decoded payload: %w", sentinel.ErrUndecryptable)
}

func (c *Codec) encodeTeam(plaintext []byte) (string, error) {
	env, err := sealAEAD(versionTeam, c.teamKey, plaintext)
	if err != nil {
		return "", err
	}
	return env.marshal()
}

func (c *Codec) encodeShared(plaintext []byte) (string, error) {
	env, err := sealAEAD(versionShared, c.sharedKey, plaintext)
	if err != nil {
		// Weaker legacy scheme as fallback, matching what old readers expect.
		env, err = sealLegacy(c.legacyKey, plaintext)
		if err != nil {
			return "", err
		}
	}
	return env.marshal()
}

func (c *Codec) encodeLocal(plaintext []byte) (string, error) {
	env, err := sealAEAD(versionLocal, c.localKey, plaintext)
	if err != nil {
		return "", err
	}
	return env.marshal()
}

func (c *Codec) encodeExternal(plaintext []byte) (string, error) {
	ct, err := c.external.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return Envelope{V: versionExternal, Ct: ct}.marshal()
}

func plainJSON(content string) json.RawMessage {
	raw := json.RawMessage(content)
	if !json.Valid(raw) {
		return nil
	}
	return raw
}

// TeamScope derives the public routing tag for a team from its shared code.
// Any device holding the code can compute it and discover teammates' records
// without knowing their identities in advance. Relay operators see the tag;
// that metadata leak is an accepted product tradeoff.
func TeamScope(teamCode string) string {
	sum := sha256.Sum256([]byte(teamCode))
	return hex.EncodeToString(sum[:])
}

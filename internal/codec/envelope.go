package codec

import (
	"encoding/base64"
	"encoding/json"
)

// Envelope is the wire form of an encrypted payload. The version selects the
// decode path; ct and iv are base64. Decoding an unknown version yields nil
// data, never an error escaping the codec.
type Envelope struct {
	V  int    `json:"v"`
	Ct string `json:"ct"`
	Iv string `json:"iv,omitempty"`
}

// Envelope versions. Decode paths for every released version are kept
// forever; schema evolution is forward-only.
const (
	versionLegacyShared = 1 // x25519 + AES-256-CBC
	versionShared       = 2 // x25519 + HKDF + ChaCha20-Poly1305
	versionTeam         = 3 // team-code-derived key + ChaCha20-Poly1305
	versionLocal        = 4 // device-local key + ChaCha20-Poly1305
	versionExternal     = 5 // delegated to an external encrypter process
)

func (e Envelope) ciphertext() ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.Ct)
}

func (e Envelope) nonce() ([]byte, error) {
	return base64.StdEncoding.DecodeString(e.Iv)
}

func newEnvelope(version int, ct, iv []byte) Envelope {
	env := Envelope{V: version, Ct: base64.StdEncoding.EncodeToString(ct)}
	if iv != nil {
		env.Iv = base64.StdEncoding.EncodeToString(iv)
	}
	return env
}

func (e Envelope) marshal() (string, error) {
	b, err := json.Marshal(e)
	return string(b), err
}

// parseEnvelope reports ok=false for content that is not an envelope at all,
// so callers can fall through to a plain JSON parse.
func parseEnvelope(content string) (Envelope, bool) {
	var env Envelope
	if err := json.Unmarshal([]byte(content), &env); err != nil {
		return Envelope{}, false
	}
	if env.V == 0 || env.Ct == "" {
		return Envelope{}, false
	}
	return env, true
}

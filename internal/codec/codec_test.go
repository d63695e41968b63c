package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

type fakeSecrets struct {
	secret []byte
	err    error
}

func (f fakeSecrets) SharedSecret([]byte) ([]byte, error) { return f.secret, f.err }

type fakeEncrypter struct {
	failEncrypt bool
}

func (f fakeEncrypter) Encrypt(plaintext []byte) (string, error) {
	if f.failEncrypt {
		return "", errors.New("extension unavailable")
	}
	return base64.StdEncoding.EncodeToString(plaintext), nil
}

func (f fakeEncrypter) Decrypt(content string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(content)
}

type payload struct {
	ID    string `json:"id"`
	Total int    `json:"total"`
}

type CodecSuite struct {
	suite.Suite
}

func TestCodecSuite(t *testing.T) {
	suite.Run(t, new(CodecSuite))
}

func (s *CodecSuite) roundTrip(c *Codec, wantVersion int) {
	in := payload{ID: "o1", Total: 1000}
	content, encrypted, err := c.Encode(in)
	s.Require().NoError(err)
	s.True(encrypted)

	env, ok := parseEnvelope(content)
	s.Require().True(ok)
	s.Equal(wantVersion, env.V)

	raw := c.Decode(content, true)
	s.Require().NotNil(raw)
	var out payload
	s.Require().NoError(json.Unmarshal(raw, &out))
	s.Equal(in, out)
}

func (s *CodecSuite) TestTeamSchemeRoundTrip() {
	c, err := New(Capabilities{TeamCode: "team-1234"})
	s.Require().NoError(err)
	s.roundTrip(c, versionTeam)
}

func (s *CodecSuite) TestSharedSchemeRoundTrip() {
	c, err := New(Capabilities{
		Secrets:       fakeSecrets{secret: make([]byte, 32)},
		PeerPublicKey: make([]byte, 32),
	})
	s.Require().NoError(err)
	s.roundTrip(c, versionShared)
}

func (s *CodecSuite) TestLegacySchemeRoundTrip() {
	c, err := New(Capabilities{
		Secrets:       fakeSecrets{secret: make([]byte, 32)},
		PeerPublicKey: make([]byte, 32),
	})
	s.Require().NoError(err)

	env, err := sealLegacy(c.legacyKey, []byte(`{"id":"o1","total":1000}`))
	s.Require().NoError(err)
	content, err := env.marshal()
	s.Require().NoError(err)

	raw := c.Decode(content, true)
	s.Require().NotNil(raw)
	s.JSONEq(`{"id":"o1","total":1000}`, string(raw))
}

func (s *CodecSuite) TestLocalSchemeRoundTrip() {
	c, err := New(Capabilities{LocalKey: make([]byte, 32)})
	s.Require().NoError(err)
	s.roundTrip(c, versionLocal)
}

func (s *CodecSuite) TestExternalSchemeRoundTrip() {
	c, err := New(Capabilities{Encrypter: fakeEncrypter{}})
	s.Require().NoError(err)
	s.roundTrip(c, versionExternal)
}

func (s *CodecSuite) TestTeamSchemeTakesPriority() {
	c, err := New(Capabilities{
		TeamCode:      "team-1234",
		Secrets:       fakeSecrets{secret: make([]byte, 32)},
		PeerPublicKey: make([]byte, 32),
		LocalKey:      make([]byte, 32),
	})
	s.Require().NoError(err)
	s.roundTrip(c, versionTeam)
}

func (s *CodecSuite) TestPlaintextLastResort() {
	c, err := New(Capabilities{Encrypter: fakeEncrypter{failEncrypt: true}})
	s.Require().NoError(err)

	content, encrypted, err := c.Encode(payload{ID: "o1", Total: 1000})
	s.Require().NoError(err)
	s.False(encrypted)
	s.JSONEq(`{"id":"o1","total":1000}`, content)

	raw := c.Decode(content, false)
	s.Require().NotNil(raw)
	s.JSONEq(content, string(raw))
}

func (s *CodecSuite) TestUnknownVersionReturnsNil() {
	c, err := New(Capabilities{TeamCode: "team-1234"})
	s.Require().NoError(err)

	content, merr := Envelope{V: 99, Ct: "AAAA"}.marshal()
	s.Require().NoError(merr)
	s.Nil(c.Decode(content, true))
}

func (s *CodecSuite) TestDecodeFallsBackToPlainJSON() {
	c, err := New(Capabilities{TeamCode: "team-1234"})
	s.Require().NoError(err)

	// Tagged encrypted but carrying plain JSON (misbehaving writer).
	raw := c.Decode(`{"id":"o1"}`, true)
	s.Require().NotNil(raw)
	s.JSONEq(`{"id":"o1"}`, string(raw))

	// Garbage degrades to nil, no panic.
	s.Nil(c.Decode("not json at all", true))
	s.Nil(c.Decode("not json at all", false))
}

func (s *CodecSuite) TestDecodeWrongKeyReturnsNil() {
	writer, err := New(Capabilities{TeamCode: "team-1234"})
	s.Require().NoError(err)
	reader, err := New(Capabilities{TeamCode: "other-team"})
	s.Require().NoError(err)

	content, encrypted, err := writer.Encode(payload{ID: "o1"})
	s.Require().NoError(err)
	s.True(encrypted)
	s.Nil(reader.Decode(content, true))
}

func (s *CodecSuite) TestDecodeWithoutCapabilityReturnsNil() {
	writer, err := New(Capabilities{LocalKey: make([]byte, 32)})
	s.Require().NoError(err)
	reader, err := New(Capabilities{})
	s.Require().NoError(err)

	content, encrypted, err := writer.Encode(payload{ID: "o1"})
	s.Require().NoError(err)
	s.True(encrypted)
	s.Nil(reader.Decode(content, true))
}

func (s *CodecSuite) TestTeamScopeStable() {
	s.Equal(TeamScope("team-1234"), TeamScope("team-1234"))
	s.NotEqual(TeamScope("team-1234"), TeamScope("team-5678"))
	s.Len(TeamScope("team-1234"), 64)
}

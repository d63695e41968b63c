package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeEndpoints(t *testing.T) {
	t.Run("later layers win role flags", func(t *testing.T) {
		defaults := []Endpoint{defaultEndpoint("wss://a.example"), defaultEndpoint("wss://b.example")}
		cached := []Endpoint{{URL: "wss://a.example", Read: true, Write: false, Outbox: true}}

		merged := mergeEndpoints(defaults, cached)

		require.Len(t, merged, 2)
		byURL := map[string]Endpoint{}
		for _, ep := range merged {
			byURL[ep.URL] = ep
		}
		assert.False(t, byURL["wss://a.example"].Write, "cached edit overrides default")
		assert.True(t, byURL["wss://a.example"].Outbox)
		assert.True(t, byURL["wss://b.example"].Write)
	})

	t.Run("trailing slash dedupes", func(t *testing.T) {
		merged := mergeEndpoints(
			[]Endpoint{defaultEndpoint("wss://a.example/")},
			[]Endpoint{{URL: "wss://a.example", Read: true}},
		)
		assert.Len(t, merged, 1)
	})

	t.Run("empty urls dropped", func(t *testing.T) {
		merged := mergeEndpoints([]Endpoint{{URL: "  "}, defaultEndpoint("wss://a.example")})
		assert.Len(t, merged, 1)
	})
}

func TestEnsurePrimary(t *testing.T) {
	t.Run("promotes first when none marked", func(t *testing.T) {
		eps := ensurePrimary([]Endpoint{defaultEndpoint("wss://a.example"), defaultEndpoint("wss://b.example")})
		assert.True(t, eps[0].Primary)
		assert.False(t, eps[1].Primary)
	})

	t.Run("first primary wins when several marked", func(t *testing.T) {
		eps := ensurePrimary([]Endpoint{
			{URL: "wss://a.example", Primary: true},
			{URL: "wss://b.example", Primary: true},
		})
		assert.True(t, eps[0].Primary)
		assert.False(t, eps[1].Primary)
	})

	t.Run("empty list is fine", func(t *testing.T) {
		assert.Empty(t, ensurePrimary(nil))
	})
}

func TestDecodeFrame(t *testing.T) {
	t.Run("ok frame", func(t *testing.T) {
		fr, err := decodeFrame([]byte(`["OK","ev-1",true,""]`))
		require.NoError(t, err)
		assert.Equal(t, frameOK, fr.label)

		id, err := fr.str(0)
		require.NoError(t, err)
		assert.Equal(t, "ev-1", id)

		accepted, err := fr.boolean(1)
		require.NoError(t, err)
		assert.True(t, accepted)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := decodeFrame([]byte(`{"not":"a frame"}`))
		assert.Error(t, err)

		_, err = decodeFrame([]byte(`[]`))
		assert.Error(t, err)
	})

	t.Run("missing argument", func(t *testing.T) {
		fr, err := decodeFrame([]byte(`["EOSE"]`))
		require.NoError(t, err)
		_, err = fr.str(0)
		assert.Error(t, err)
	})
}

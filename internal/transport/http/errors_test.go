package transporthttp

import (
	"log/slog"
	"net/http"
	"testing"

	"tillsync/internal/relay"
	"tillsync/pkg/testutil"
)

// TestRelayAdminErrorEnvelopes verifies the admin API's JSON error contract,
// which the UI relies on to show actionable messages.
func TestRelayAdminErrorEnvelopes(t *testing.T) {
	relays := &fakeRelays{endpoints: []relay.Endpoint{
		{URL: "wss://r1.example", Read: true, Write: true, Primary: true},
	}}
	router := NewRouter(NewHandler(relays, nil, nil, nil, slog.New(slog.DiscardHandler)))

	testutil.Given(t, "a configured relay pool", func(t *testing.T) {
		testutil.When(t, "adding a relay with a malformed body", func(t *testing.T) {
			req := testutil.NewRequestWithBody(t, http.MethodPost, "/v1/relays", `{"url":`)
			rr := testutil.DoRequest(router, req)

			testutil.Then(t, "the envelope carries invalid_input", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusBadRequest)
				testutil.AssertErrorCode(t, rr, "invalid_input")
			})
		})

		testutil.When(t, "removing a relay that does not exist", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodDelete, "/v1/relays?url=wss%3A%2F%2Fnope.example", nil)
			rr := testutil.DoRequest(router, req)

			testutil.Then(t, "the envelope carries not_found", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusNotFound)
				testutil.AssertErrorCode(t, rr, "not_found")
			})
		})

		testutil.When(t, "listing relays", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodGet, "/v1/relays", nil)
			rr := testutil.DoRequest(router, req)

			testutil.Then(t, "the configured endpoints come back", func(t *testing.T) {
				testutil.AssertStatus(t, rr, http.StatusOK)
				eps := testutil.UnmarshalResponse[[]relay.Endpoint](t, rr)
				if len(*eps) != 1 {
					t.Fatalf("expected 1 endpoint, got %d", len(*eps))
				}
			})
		})
	})
}

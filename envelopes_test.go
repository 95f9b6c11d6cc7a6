package nostr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func TestParseMessage(t *testing.T) {
	testCases := []struct {
		Name             string
		Message          string
		ExpectedEnvelope Envelope
	}{
		{
			Name:             "empty",
			Message:          "",
			ExpectedEnvelope: nil,
		},
		{
			Name:             "invalid string",
			Message:          "invalid input",
			ExpectedEnvelope: nil,
		},
		{
			Name:             "unknown label",
			Message:          `["AUTH","challenge"]`,
			ExpectedEnvelope: nil,
		},
		{
			Name:    "EVENT envelope with subscription id",
			Message: `["EVENT","_",{"id":"dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962","pubkey":"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d","created_at":1644271588,"kind":1,"tags":[],"content":"now that https://blueskyweb.org/blog/2-7-2022-overview was announced we can stop working on nostr?","sig":"230e9d8f0ddaf7eb70b5f7741ccfa37e87a455c9a469282e3464e2052d3192cd63a167e196e381ef9d7e69e9ea43af2443b839974dc85d8aaab9efe1d9296524"}]`,
			ExpectedEnvelope: &EventEnvelope{
				SubscriptionID: ptr("_"),
				Event: Event{
					ID:        "dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962",
					PubKey:    "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",
					CreatedAt: 1644271588,
					Kind:      1,
					Tags:      Tags{},
					Content:   "now that https://blueskyweb.org/blog/2-7-2022-overview was announced we can stop working on nostr?",
					Sig:       "230e9d8f0ddaf7eb70b5f7741ccfa37e87a455c9a469282e3464e2052d3192cd63a167e196e381ef9d7e69e9ea43af2443b839974dc85d8aaab9efe1d9296524",
				},
			},
		},
		{
			Name:             "EOSE envelope",
			Message:          `["EOSE","sub-1"]`,
			ExpectedEnvelope: ptr(EOSEEnvelope("sub-1")),
		},
		{
			Name:             "client CLOSE envelope",
			Message:          `["CLOSE","sub-1"]`,
			ExpectedEnvelope: &CloseEnvelope{SubscriptionID: "sub-1"},
		},
		{
			Name:             "relay CLOSE envelope with reason",
			Message:          `["CLOSE","sub-1","error: shutting down"]`,
			ExpectedEnvelope: &CloseEnvelope{SubscriptionID: "sub-1", Reason: ptr("error: shutting down")},
		},
		{
			Name:             "OK envelope accepted",
			Message:          `["OK","3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",true,"Event accepted"]`,
			ExpectedEnvelope: &OKEnvelope{EventID: "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d", OK: true, Reason: ptr("Event accepted")},
		},
		{
			Name:             "OK envelope rejected without reason",
			Message:          `["OK","3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",false]`,
			ExpectedEnvelope: &OKEnvelope{EventID: "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d", OK: false},
		},
		{
			Name:             "NOTICE envelope",
			Message:          `["NOTICE","rate limited"]`,
			ExpectedEnvelope: ptr(NoticeEnvelope("rate limited")),
		},
		{
			Name:    "REQ envelope",
			Message: `["REQ","sub-1",{"kinds":[1],"limit":10}]`,
			ExpectedEnvelope: &ReqEnvelope{
				SubscriptionID: "sub-1",
				Filter:         Filter{Kinds: []int{1}, Limit: 10},
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.Name, func(t *testing.T) {
			env := ParseMessage([]byte(tc.Message))
			if tc.ExpectedEnvelope == nil {
				assert.Nil(t, env)
				return
			}
			require.NotNil(t, env)
			assert.Equal(t, tc.ExpectedEnvelope, env)
		})
	}
}

func TestEnvelopeMarshalling(t *testing.T) {
	reqFrame, err := ReqEnvelope{
		SubscriptionID: "sub-1",
		Filter:         Filter{Kinds: []int{1}, Authors: []string{"aa"}, Limit: 10},
	}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `["REQ","sub-1",{"kinds":[1],"authors":["aa"],"limit":10}]`, string(reqFrame))

	closeFrame, err := CloseEnvelope{SubscriptionID: "sub-1"}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `["CLOSE","sub-1"]`, string(closeFrame))

	okFrame, err := OKEnvelope{EventID: "ee", OK: true, Reason: ptr("Event accepted")}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `["OK","ee",true,"Event accepted"]`, string(okFrame))

	evt := Event{
		ID:        "dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962",
		PubKey:    "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",
		CreatedAt: 1644271588,
		Kind:      1,
		Tags:      Tags{},
		Content:   "hello",
		Sig:       "ff",
	}
	eventFrame, err := EventEnvelope{Event: evt}.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t,
		`["EVENT",{"id":"dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962","pubkey":"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d","created_at":1644271588,"kind":1,"tags":[],"content":"hello","sig":"ff"}]`,
		string(eventFrame))
}

func TestEnvelopeFilterTagRoundTrip(t *testing.T) {
	frame := `["REQ","s",{"authors":["aa"],"#p":["bb"],"since":10,"until":20,"limit":5}]`
	env := ParseMessage([]byte(frame))
	require.NotNil(t, env)

	req, ok := env.(*ReqEnvelope)
	require.True(t, ok)
	assert.Equal(t, "s", req.SubscriptionID)
	assert.Equal(t, []string{"aa"}, req.Filter.Authors)
	assert.Equal(t, TagMap{"p": {"bb"}}, req.Filter.Tags)
	assert.Equal(t, Timestamp(10), *req.Filter.Since)
	assert.Equal(t, Timestamp(20), *req.Filter.Until)
	assert.Equal(t, 5, req.Filter.Limit)

	remarshalled, err := req.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, frame, string(remarshalled))
}

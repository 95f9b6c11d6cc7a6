package nostr

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventParsingAndVerifying(t *testing.T) {
	rawEvents := []string{
		`{"id":"dc90c95f09947507c1044e8f48bcf6350aa6bff1507dd4acfc755b9239b5c962","pubkey":"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d","created_at":1644271588,"kind":1,"tags":[],"content":"now that https://blueskyweb.org/blog/2-7-2022-overview was announced we can stop working on nostr?","sig":"230e9d8f0ddaf7eb70b5f7741ccfa37e87a455c9a469282e3464e2052d3192cd63a167e196e381ef9d7e69e9ea43af2443b839974dc85d8aaab9efe1d9296524"}`,
		`{"id":"9e662bdd7d8abc40b5b15ee1ff5e9320efc87e9274d8d440c58e6eed2dddfbe2","pubkey":"373ebe3d45ec91977296a178d9f19f326c70631d2a1b0bbba5c5ecc2eb53b9e7","created_at":1644844224,"kind":3,"tags":[["p","3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"],["p","75fc5ac2487363293bd27fb0d14fb966477d0f1dbc6361d37806a6a740eda91e"],["p","46d0dfd3a724a302ca9175163bdf788f3606b3fd1bb12d5fe055d1e418cb60ea"]],"content":"{\"wss://nostr-pub.wellorder.net\":{\"read\":true,\"write\":true},\"wss://nostr.bitcoiner.social\":{\"read\":false,\"write\":true},\"wss://expensive-relay.fiatjaf.com\":{\"read\":true,\"write\":true},\"wss://relayer.fiatjaf.com\":{\"read\":true,\"write\":true},\"wss://relay.bitid.nz\":{\"read\":true,\"write\":true},\"wss://nostr.rocks\":{\"read\":true,\"write\":true}}","sig":"811355d3484d375df47581cb5d66bed05002c2978894098304f20b595e571b7e01b2efd906c5650080ffe49cf1c62b36715698e9d88b9e8be43029a2f3fa66be"}`,
	}

	for _, raw := range rawEvents {
		var ev Event
		err := json.Unmarshal([]byte(raw), &ev)
		require.NoError(t, err, "failed to parse event json")

		assert.Equal(t, ev.GetID(), ev.ID, "derived id does not match the serialized id")

		ok, err := ev.CheckSignature()
		require.NoError(t, err)
		assert.True(t, ok, "signature verification failed when it should have succeeded")

		asjson, err := json.Marshal(ev)
		require.NoError(t, err, "failed to re-marshal the event as json")
		assert.Equal(t, raw, string(asjson), "json serialization broken")
	}
}

func TestEventIDIsDeterministic(t *testing.T) {
	mk := func() *Event {
		return &Event{
			PubKey:    "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",
			CreatedAt: 1688572619,
			Kind:      KindTextNote,
			Tags:      Tags{{"e", "982071d94ac476fa9cbb2d6ceae13c9fcd794d423d68f1a04f31bb962f4f0b4c"}},
			Content:   "Hello, World!",
		}
	}

	a, b := mk(), mk()
	assert.Equal(t, a.GetID(), b.GetID())

	// the id is a function of every field of the pre-image
	b.Content = "Hello, World"
	assert.NotEqual(t, a.GetID(), b.GetID())
}

func TestEventSerializeCanonicalForm(t *testing.T) {
	evt := &Event{
		PubKey:    "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",
		CreatedAt: 1644271588,
		Kind:      1,
		Content:   "say \"hello\"\nand leave",
	}

	assert.Equal(t,
		`[0,"3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d",1644271588,1,[],"say \"hello\"\nand leave"]`,
		string(evt.Serialize()))
}

func TestEventSignAndVerify(t *testing.T) {
	sk := GeneratePrivateKey()
	require.NotEmpty(t, sk)

	evt := &Event{Kind: KindTextNote, Content: "Hello, World!"}
	require.NoError(t, evt.Sign(sk))

	pk, err := GetPublicKey(sk)
	require.NoError(t, err)
	assert.Equal(t, pk, evt.PubKey)
	assert.Equal(t, evt.GetID(), evt.ID)
	assert.NotZero(t, evt.CreatedAt)
	assert.NotNil(t, evt.Tags)

	ok, err := evt.CheckSignature()
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEventSignRejectsInvalidKind(t *testing.T) {
	sk := GeneratePrivateKey()
	evt := &Event{Kind: MaxKind, Content: "out of range"}
	assert.ErrorIs(t, evt.Sign(sk), ErrEventInvalidKind)
}

func TestEventValidate(t *testing.T) {
	pk := "3bf0c63fcb93463407af97a5e5ee64fa883d107ef9e558472c4eb9aaaefa459d"

	t.Run("missing pubkey", func(t *testing.T) {
		evt := &Event{Kind: 1, Content: "x", Sig: "ff"}
		assert.ErrorIs(t, evt.Validate(), ErrEventMissingPubKey)
	})

	t.Run("invalid kind", func(t *testing.T) {
		evt := &Event{PubKey: pk, Kind: -1, Sig: "ff"}
		assert.ErrorIs(t, evt.Validate(), ErrEventInvalidKind)
	})

	t.Run("missing signature", func(t *testing.T) {
		evt := &Event{PubKey: pk, Kind: 1}
		assert.ErrorIs(t, evt.Validate(), ErrEventMissingSig)
	})

	t.Run("created_at defaults to now", func(t *testing.T) {
		evt := &Event{PubKey: pk, Kind: 1, Sig: "ff"}
		require.NoError(t, evt.Validate())
		assert.InDelta(t, int64(Now()), int64(evt.CreatedAt), 5)
	})
}

func TestEventEquals(t *testing.T) {
	a := &Event{ID: "aa"}
	b := &Event{ID: "aa"}
	c := &Event{ID: "bb"}
	blank := &Event{}

	eq, err := a.Equals(b)
	require.NoError(t, err)
	assert.True(t, eq)

	eq, err = a.Equals(c)
	require.NoError(t, err)
	assert.False(t, eq)

	_, err = a.Equals(blank)
	assert.True(t, errors.Is(err, ErrEventMissingID))
}

func TestEventRoundTrip(t *testing.T) {
	sk := GeneratePrivateKey()
	evt := &Event{
		Kind:    KindTextNote,
		Tags:    Tags{{"t", "introductions"}},
		Content: "round and round",
	}
	require.NoError(t, evt.Sign(sk))

	raw, err := evt.MarshalJSON()
	require.NoError(t, err)

	var parsed Event
	require.NoError(t, parsed.UnmarshalJSON(raw))

	eq, err := parsed.Equals(evt)
	require.NoError(t, err)
	assert.True(t, eq)
	assert.Equal(t, evt.Tags, parsed.Tags)
	assert.Equal(t, evt.Content, parsed.Content)
}

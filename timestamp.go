package nostr

import "time"

// Timestamp is a Unix timestamp in seconds, as carried by the created_at
// field of events and the since/until fields of filters.
type Timestamp int64

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().Unix())
}

func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t), 0)
}

package store

// Key builders for every record the relay keeps. Centralized so the monthly
// wipe, the adapters, and the tests agree on shapes.

const (
	// CurrentMonthKey records the last month a reset ran for.
	CurrentMonthKey = "system:currentMonth"
	// ResetLockKey is the mutual-exclusion lock held during a reset.
	ResetLockKey = "system:resetLock"
)

// TokenKey maps an identity to its single currently-registered token.
func TokenKey(identity string) string { return "token:" + identity }

// NameKey maps an identity to its requested display name.
func NameKey(identity string) string { return "name:" + identity }

// AdminSessionKey maps a raw token to the identity holding elevation.
func AdminSessionKey(token string) string { return "adminSession:" + token }

// MuteKey flags an active mute for an identity.
func MuteKey(identity string) string { return "msg:mute:" + identity }

// MuteLevelKey remembers an identity's offense level across mute expiries.
func MuteLevelKey(identity string) string { return "msg:muteLevel:" + identity }

// LastTimeKey records the timestamp of the last accepted message.
func LastTimeKey(identity string) string { return "msg:lastTime:" + identity }

// LastIntervalKey records the gap between the last two messages.
func LastIntervalKey(identity string) string { return "msg:lastInterval:" + identity }

// RepeatCountKey counts consecutive same-cadence messages.
func RepeatCountKey(identity string) string { return "msg:repeatCount:" + identity }

// RateKey is a token-bucket key scoped by purpose.
func RateKey(purpose, key string) string { return "rate:" + purpose + ":" + key }

// OriginKey counts concurrent connections from one network origin.
func OriginKey(origin string) string { return "conn:origin:" + origin }

// HistoryKey is the bounded message list of a room.
func HistoryKey(room string) string { return "history:" + room }

// MessageKeysFor returns the admission record keys for one identity.
func MessageKeysFor(identity string) MessageKeys {
	return MessageKeys{
		Muted:        MuteKey(identity),
		MuteLevel:    MuteLevelKey(identity),
		LastTime:     LastTimeKey(identity),
		LastInterval: LastIntervalKey(identity),
		RepeatCount:  RepeatCountKey(identity),
	}
}

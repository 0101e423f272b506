package ratelimit

// Typed key builders keep the counter kinds in distinct namespaces so
// an attempt counter can never collide with a ban record or a window
// counter for the same identity.

const (
	windowKeyPrefix   = "rl:window:"
	attemptKeyPrefix  = "rl:attempts:"
	banKeyPrefix      = "rl:ban:"
	banCycleKeyPrefix = "rl:ban_cycles:"
)

func windowKey(policy, identity string) string {
	return windowKeyPrefix + policy + ":" + identity
}

func attemptKey(identity string) string {
	return attemptKeyPrefix + identity
}

func banKey(identity string) string {
	return banKeyPrefix + identity
}

func banCycleKey(identity string) string {
	return banCycleKeyPrefix + identity
}

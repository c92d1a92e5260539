// Package queue - helpers.go
// Small internal helpers kept separate to keep the store and engine focused.
package queue

// snapshotQueue returns a copy of q so callers never alias stored state.
func snapshotQueue(q *Queue) *Queue {
	cp := *q
	return &cp
}

// snapshotSurface returns a copy of s, copying the BlockIDs slice.
func snapshotSurface(s *DisplaySurface) *DisplaySurface {
	cp := *s
	cp.BlockIDs = append([]string(nil), s.BlockIDs...)
	return &cp
}

// locateMember returns the index (== rank) of memberID in ms, or -1.
// ms must be in Seq order.
func locateMember(ms []Membership, memberID string) int {
	for i, m := range ms {
		if m.MemberID == memberID {
			return i
		}
	}
	return -1
}

// MemberIDs extracts the member ids of ms, in order.
func MemberIDs(ms []Membership) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.MemberID
	}
	return out
}

// DefaultSettings is what a guild gets before anyone changes anything.
func DefaultSettings(guildID string) GuildSettings {
	return GuildSettings{GuildID: guildID, GracePeriodSeconds: -1}
}

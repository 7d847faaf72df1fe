package policy

import (
	"strconv"
	"strings"

	"github.com/tgmedia/crawler/internal/model"
)

// SizeRangeLookup resolves the configured "min-max" string for a given
// media kind and channel, following filter.<kind>.<channelId> then
// filter.default.<kind>. A missing key yields ok=false.
type SizeRangeLookup func(kind model.MediaKind, channelID string) (string, bool)

// ParseSizeRange parses a "min-max" string in bytes (base 1024). Returns
// lo, hi and ok=true only if both bounds parse; the caller must treat a
// parse failure as "accept" per the filter policy.
func ParseSizeRange(s string) (lo, hi int64, ok bool) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	a, errA := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
	b, errB := strconv.ParseInt(strings.TrimSpace(parts[1]), 10, 64)
	if errA != nil || errB != nil {
		return 0, 0, false
	}
	if a > b {
		a, b = b, a
	}
	return a, b, true
}

// SizeAccepted reports whether a media of the given size passes the
// configured range for kind/channelID. A missing or unparsable range, or
// an undetermined size, defaults to accept.
func SizeAccepted(lookup SizeRangeLookup, kind model.MediaKind, channelID string, size int64, sizeKnown bool) bool {
	if !sizeKnown {
		return true
	}
	raw, ok := lookup(kind, channelID)
	if !ok {
		return true
	}
	lo, hi, ok := ParseSizeRange(raw)
	if !ok {
		return true
	}
	return size >= lo && size <= hi
}

// Decision is the outcome of filtering one media kind on one message.
type Decision struct {
	Kind     model.MediaKind
	Accepted bool
}

// Filter evaluates every media kind actually present on msg against the
// channel's allowed set and the configured size ranges. It is idempotent:
// Filter(Filter(msg)) == Filter(msg), since it only reads msg and state,
// never mutates either.
func Filter(msg model.Message, state model.ChannelState, lookup SizeRangeLookup) []Decision {
	kind, ok := msg.Media.Kind()
	if !ok {
		return nil
	}
	if !state.Allows(kind) {
		return []Decision{{Kind: kind, Accepted: false}}
	}
	size, sizeKnown := msg.Media.SizeBytes()
	accepted := SizeAccepted(lookup, kind, msg.ChannelID, size, sizeKnown)
	return []Decision{{Kind: kind, Accepted: accepted}}
}

// ParseMediasAllowed parses a comma-separated list of media kinds (as
// found in spider.medias.<channelId>). The documentation placeholder "_"
// and any unrecognized token are ignored.
func ParseMediasAllowed(csv string) map[model.MediaKind]bool {
	out := make(map[model.MediaKind]bool, 4)
	for _, tok := range strings.Split(csv, ",") {
		tok = strings.TrimSpace(tok)
		switch model.MediaKind(tok) {
		case model.KindPhoto, model.KindVideo, model.KindAudio, model.KindFile:
			out[model.MediaKind(tok)] = true
		}
	}
	return out
}

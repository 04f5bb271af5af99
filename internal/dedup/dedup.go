// Package dedup derives the deterministic keys that collapse repeated alert
// triggers for the same rule, channel, and recipient into one delivery row.
package dedup

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/kursadbilgin/alert-relay/internal/domain"
)

// recipientHashLen truncates the hex digest inside dedup keys; full digests
// are unnecessarily long for a uniqueness constraint.
const recipientHashLen = 16

// hourBucketLayout buckets triggered-at to hour granularity in UTC so that
// near-simultaneous re-triggers map to the same key.
const hourBucketLayout = "2006010215"

// RecipientHash returns a keyed hash of the recipient, scoped per channel.
// It keeps raw recipient identity out of dedup keys and doubles as the
// rate-limiter bucket key for recipient-scope limits.
func RecipientHash(recipient string, channel domain.Channel, secret []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(channel.String()))
	mac.Write([]byte{':'})
	mac.Write([]byte(recipient))
	return hex.EncodeToString(mac.Sum(nil))
}

// Derive builds the dedup key for one rule/channel/recipient trigger:
// {ruleID}:{channel}:{recipientHash}:{hourBucket}. Identical inputs always
// produce the same key; any differing input produces a different key.
func Derive(ruleID string, channel domain.Channel, recipient string, triggeredAt time.Time, secret []byte) string {
	hash := RecipientHash(recipient, channel, secret)
	if len(hash) > recipientHashLen {
		hash = hash[:recipientHashLen]
	}
	bucket := triggeredAt.UTC().Format(hourBucketLayout)
	return fmt.Sprintf("%s:%s:%s:%s", ruleID, channel, hash, bucket)
}

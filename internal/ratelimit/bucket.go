// Package ratelimit provides tiered request admission control using fixed
// daily and per-minute windows, plus a token-bucket limiter for anonymous
// traffic. Window counters live in a pluggable CounterStore (in-memory or
// Redis) and rejected requests are never charged.
package ratelimit

import "time"

// BucketKind distinguishes the two counter windows.
type BucketKind int

const (
	// KindDaily buckets are aligned to UTC day boundaries and retained
	// for 24 hours.
	KindDaily BucketKind = iota
	// KindMinute buckets are aligned to minute boundaries and retained
	// for 60 seconds.
	KindMinute
)

// Width returns the bucket width for the kind.
func (k BucketKind) Width() time.Duration {
	if k == KindDaily {
		return 24 * time.Hour
	}
	return time.Minute
}

// Retention returns how long a bucket stays live after its start. A bucket
// older than its retention window is never counted and is eligible for
// sweeping.
func (k BucketKind) Retention() time.Duration {
	return k.Width()
}

func (k BucketKind) String() string {
	if k == KindDaily {
		return "daily"
	}
	return "minute"
}

// BucketID identifies one fixed time window of one kind. Keeping the kind
// and the window start together avoids the unit-confusion bugs that come
// from keying counters by raw epoch seconds.
type BucketID struct {
	Kind  BucketKind
	Start int64 // unix seconds, floored to the bucket width in UTC
}

// BucketAt returns the bucket containing t for the given kind.
func BucketAt(k BucketKind, t time.Time) BucketID {
	width := int64(k.Width() / time.Second)
	return BucketID{Kind: k, Start: t.UTC().Unix() / width * width}
}

// StartTime returns the bucket's start as a time.
func (b BucketID) StartTime() time.Time {
	return time.Unix(b.Start, 0).UTC()
}

// NextStart returns the start of the following bucket, which is when a
// counter in this bucket resets.
func (b BucketID) NextStart() time.Time {
	return b.StartTime().Add(b.Kind.Width())
}

// Live reports whether the bucket still counts toward current usage at now.
func (b BucketID) Live(now time.Time) bool {
	return now.Sub(b.StartTime()) < b.Kind.Retention()
}

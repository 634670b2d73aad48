package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/mediafetch/fetchd/internal/core/domain"
)

// scheduledReleaseBuffer is added to a video's release time before retrying,
// to tolerate clock skew and publishing delay on the provider side.
const scheduledReleaseBuffer = 5 * time.Minute

// Classification is the structured verdict on a download failure. It is never
// persisted as its own entity; the orchestrator folds category, retry time and
// reason into the RetryState.
//
// Invariant: Retryable == false implies RetryAfter is zero.
type Classification struct {
	Category   domain.ErrorCategory
	Retryable  bool
	RetryAfter time.Time // zero unless Retryable
	MaxRetries int       // 0 means no override
	Reason     string
}

// cookieMarkers indicate the provider wants fresh credentials. Requires a
// human to refresh cookies, so never retried automatically.
var cookieMarkers = []string{
	"sign in to confirm",
	"not a bot",
	"cookies are no longer valid",
	"use --cookies",
}

// permanentMarkers indicate the video cannot ever be downloaded.
var permanentMarkers = []string{
	"available in your country",
	"geo restriction",
	"blocked in your region",
	"video is private",
	"private video",
	"has been removed",
	"account associated with this video has been terminated",
}

// transientMarkers are network-level failures worth retrying with backoff.
var transientMarkers = []string{
	"connection reset",
	"econnreset",
	"timed out",
	"timeout",
	"etimedout",
	"no such host",
	"enotfound",
	"connection refused",
	"econnrefused",
	"socket hang up",
	"network",
}

// Classify maps a raw failure plus optional (possibly partial) video metadata
// to a Classification. Pure given now; never fails — anything unrecognized
// falls through to a permanent, non-retryable verdict so that unknown errors
// surface through incident escalation instead of looping forever.
//
// The match order is load-bearing: a scheduled release wins over whatever
// error text the provider attached to it.
func Classify(err error, info *domain.VideoInfo, backoff BackoffConfig, now time.Time) Classification {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	lower := strings.ToLower(msg)

	// 1. Future-dated content: retry once it has actually been released, plus
	// a buffer for publishing delay. Wins over everything else, including an
	// upcoming-livestream status carrying the same timestamp.
	if info != nil && info.ReleaseTimestamp > now.Unix() {
		release := time.Unix(info.ReleaseTimestamp, 0)
		return Classification{
			Category:   domain.ErrorCategoryScheduled,
			Retryable:  true,
			RetryAfter: release.Add(scheduledReleaseBuffer),
			Reason:     fmt.Sprintf("video scheduled for release at %s", release.UTC().Format(time.RFC3339)),
		}
	}

	// 2. Livestream announced but with no usable start time.
	if info != nil && !info.IsLive &&
		(info.LiveStatus == "upcoming" || info.LiveStatus == "is_upcoming") {
		return Classification{
			Category:   domain.ErrorCategoryLivestreamUpcoming,
			Retryable:  true,
			RetryAfter: backoff.NextRetry(now, 0),
			Reason:     "livestream has not started yet",
		}
	}

	// 3. Credential expiry. Escalated to a human, not retried.
	for _, marker := range cookieMarkers {
		if strings.Contains(lower, marker) {
			return Classification{
				Category:  domain.ErrorCategoryCookieExpired,
				Retryable: false,
				Reason:    msg,
			}
		}
	}

	// 4. Permanently unavailable: geo block, private, deleted, or the provider
	// reports the video unavailable with no metadata at all.
	if info != nil && info.Availability == "private" {
		return Classification{
			Category:  domain.ErrorCategoryPermanent,
			Retryable: false,
			Reason:    msg,
		}
	}
	for _, marker := range permanentMarkers {
		if strings.Contains(lower, marker) {
			return Classification{
				Category:  domain.ErrorCategoryPermanent,
				Retryable: false,
				Reason:    msg,
			}
		}
	}
	if info == nil && strings.Contains(lower, "unavailable") {
		return Classification{
			Category:  domain.ErrorCategoryPermanent,
			Retryable: false,
			Reason:    msg,
		}
	}

	// 5. Transient network failures.
	for _, marker := range transientMarkers {
		if strings.Contains(lower, marker) {
			return Classification{
				Category:   domain.ErrorCategoryTransient,
				Retryable:  true,
				RetryAfter: backoff.NextRetry(now, 0),
				Reason:     msg,
			}
		}
	}

	// 6. Unknown errors are terminal. A dropped item that raises an incident
	// beats a silent infinite retry loop on an error nobody anticipated.
	return Classification{
		Category:  domain.ErrorCategoryPermanent,
		Retryable: false,
		Reason:    msg,
	}
}

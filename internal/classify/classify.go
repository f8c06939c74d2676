// Copyright 2025 James Ross
package classify

import (
	"regexp"
	"strings"
	"time"
)

// Classification is the result of mapping a downstream error to a retry
// policy.
type Classification struct {
	Transient   bool
	UserMessage string
	RetryAfter  time.Duration
}

var (
	contextLengthRe = regexp.MustCompile(`(?i)context length|too long|max.*tokens`)
	throttleRe      = regexp.MustCompile(`(?i)throttl|rate limit|too many requests`)
	networkErrRe    = regexp.MustCompile(`(?i)connection reset|dns|eai_again|etimedout|econnreset`)
)

// Input bundles everything the classifier rules in spec §4.2 consider.
type Input struct {
	// HTTPStatus is 0 when no HTTP response was received (e.g. timeout).
	HTTPStatus int
	// GraphQLMessages carries GraphQL-layer error strings when the
	// transport succeeded (status 200) but the payload embeds errors.
	GraphQLMessages []string
	Err             error
	// RetryAfterHeader is the Retry-After header value already parsed
	// into a duration; zero when the header is absent.
	RetryAfterHeader time.Duration
	// Timeout marks that the call was aborted by a deadline.
	Timeout bool
}

// Classify implements the first-match-wins rule table from spec §4.2.
func Classify(in Input) Classification {
	status := in.HTTPStatus

	if status == 401 || status == 403 {
		return Classification{Transient: false, UserMessage: "authentication failed"}
	}

	if status == 429 {
		ra := in.RetryAfterHeader
		return Classification{Transient: true, UserMessage: "rate limited", RetryAfter: ra}
	}

	if status == 400 {
		msg := errMessage(in.Err)
		if contextLengthRe.MatchString(msg) {
			return Classification{Transient: false, UserMessage: "input too long"}
		}
	}

	if status >= 400 && status <= 499 {
		return Classification{Transient: false, UserMessage: httpUserMessage(status)}
	}

	if status >= 500 && status <= 599 {
		return Classification{Transient: true, UserMessage: "server error"}
	}

	if in.Timeout {
		return Classification{Transient: true, UserMessage: "request timed out"}
	}

	if msg := errMessage(in.Err); msg != "" && networkErrRe.MatchString(msg) {
		return Classification{Transient: true, UserMessage: "network error"}
	}

	for _, m := range in.GraphQLMessages {
		if throttleRe.MatchString(m) {
			return Classification{Transient: true, UserMessage: "rate limited"}
		}
	}

	if len(in.GraphQLMessages) > 0 {
		return Classification{Transient: false, UserMessage: strings.Join(in.GraphQLMessages, "; ")}
	}

	if in.Err != nil {
		return Classification{Transient: true, UserMessage: "unexpected error"}
	}

	return Classification{Transient: false, UserMessage: "ok"}
}

// NonJSONResponse classifies a response that should have been a JSON object
// but wasn't — always a one-more-retry transient condition per spec §4.6.
func NonJSONResponse() Classification {
	return Classification{Transient: true, UserMessage: "non-JSON response"}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func httpUserMessage(status int) string {
	switch {
	case status == 404:
		return "not found"
	case status == 422:
		return "invalid input"
	default:
		return "request rejected"
	}
}

// Escalate converts a transient classification into a permanent one after
// the attempt budget is exhausted, used by the retry loops in C6/C7 to
// decide when to stop retrying.
func Escalate(c Classification, attempt, maxAttempts int) Classification {
	if c.Transient && attempt >= maxAttempts {
		c.Transient = false
		if !strings.Contains(c.UserMessage, "(exhausted retries)") {
			c.UserMessage = c.UserMessage + " (exhausted retries)"
		}
	}
	return c
}

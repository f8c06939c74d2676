// Copyright 2025 James Ross
package generator

import "github.com/seo-batch/job-engine/internal/jobstore"

// Hints are the brand/style knobs threaded into every prompt.
type Hints struct {
	BrandName        string
	Tone             string
	BrandVoice       string
	TargetKeyword    string
	RequiredKeywords []string // enforced ≤10 by NewHints
	BannedWords      []string // enforced ≤30 by NewHints
	Capitalization   string
	EmojiPolicy      string
}

// NewHints clamps the keyword lists to the bounds spec §4.6 requires,
// rather than rejecting an oversized request outright.
func NewHints(h Hints) Hints {
	if len(h.RequiredKeywords) > 10 {
		h.RequiredKeywords = h.RequiredKeywords[:10]
	}
	if len(h.BannedWords) > 30 {
		h.BannedWords = h.BannedWords[:30]
	}
	return h
}

// Limits bound the accepted output field lengths by character count.
type Limits struct {
	TMax int // seoTitle
	DMax int // seoDescription
	AMax int // altText
}

// DefaultLimits matches typical SEO meta-field guidance.
var DefaultLimits = Limits{TMax: 70, DMax: 160, AMax: 125}

// Payload is the opaque product/article data included verbatim in the
// prompt; its shape varies by jobType and is not otherwise interpreted.
type Payload map[string]any

// Result is the closed JSON object the Generator returns, with only the
// fields relevant to the requested jobType populated.
type Result struct {
	SeoTitle       string
	SeoDescription string
	AltText        string
}

// Request bundles one Generate call's inputs.
type Request struct {
	JobType jobstore.JobType
	Lang    string
	Hints   Hints
	Payload Payload
	Prompt  string
}

// AttemptFunc is invoked before each attempt with its 1-indexed number.
type AttemptFunc func(attempt int)

// RetryFunc is invoked when an attempt failed transiently and another is
// scheduled after waitMs.
type RetryFunc func(waitMs int64, reason string)

// Copyright 2025 James Ross
package broker

import (
	"encoding/json"
	"regexp"
)

// Kind enumerates the two dispatch message kinds carried by the broker.
type Kind string

const (
	KindGenerate Kind = "generate"
	KindPublish  Kind = "publish"
)

// Message is the broker's payload: a tiny pointer telling the dispatcher
// which job to pick up and in which phase.
type Message struct {
	JobID      string `json:"jobId"`
	Kind       Kind   `json:"kind"`
	ExternalID string `json:"externalId"`
	Attempt    int    `json:"attempt"`
}

func (m Message) marshal() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func unmarshalMessage(s string) (Message, error) {
	var m Message
	err := json.Unmarshal([]byte(s), &m)
	return m, err
}

var unsafeIDChars = regexp.MustCompile(`[:\s]+`)

// sanitize strips characters that would break the colon-delimited key
// scheme (notably colons themselves, which Redis key segments use as a
// separator) out of an id before it becomes part of an external id.
func sanitize(s string) string {
	return unsafeIDChars.ReplaceAllString(s, "_")
}

// ExternalID is the broker's deterministic dedup key for (jobID, kind):
// re-enqueuing an already-active message is a no-op, making "create and
// enqueue" safe to retry.
func ExternalID(jobID string, kind Kind) string {
	return sanitize(string(kind)) + "-" + sanitize(jobID)
}

// Copyright 2025 James Ross
package jobstore

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	ids := []string{"job-1", "job-with-dashes-and-123", ""}
	for _, id := range ids {
		cursor := encodeCursor(id)
		got, err := decodeCursor(cursor)
		if err != nil {
			t.Fatalf("decode %q: %v", cursor, err)
		}
		if got != id {
			t.Fatalf("round-trip mismatch: got %q want %q", got, id)
		}
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if _, err := decodeCursor("not valid base64!!"); err == nil {
		t.Fatal("expected decode error for invalid cursor")
	}
}

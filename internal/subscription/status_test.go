package subscription

import "testing"

func TestStatusFlags_WithAndString(t *testing.T) {
	var s StatusFlags
	s = s.With(StatusFetchScheduled, true).With(StatusFetchError, true)
	if !s.FetchScheduled() || !s.FetchError() {
		t.Fatalf("expected scheduled and error, got %s", s)
	}
	if got := s.String(); got != "scheduled|error" {
		t.Fatalf("unexpected string: %q", got)
	}
	s = s.With(StatusFetchScheduled, false)
	if s.FetchScheduled() {
		t.Fatalf("expected scheduled cleared, got %s", s)
	}
	if got := StatusFlags(0).String(); got != "-" {
		t.Fatalf("unexpected empty string: %q", got)
	}
}

func TestStatusFlags_JobCreatedCountsAsScheduled(t *testing.T) {
	if !StatusFetchJobCreated.FetchScheduled() {
		t.Fatal("expected job-created to count as scheduled")
	}
}

func TestEntry_Label(t *testing.T) {
	cases := []struct {
		entry Entry
		want  string
	}{
		{Entry{Name: " Tech "}, "Tech"},
		{Entry{URL: "https://example.com/feed"}, "https://example.com/feed"},
		{Entry{IsFolder: true}, "unnamed folder"},
		{Entry{}, "unknown feed"},
	}
	for _, tc := range cases {
		if got := tc.entry.Label(); got != tc.want {
			t.Fatalf("Label(%+v)=%q want %q", tc.entry, got, tc.want)
		}
	}
}

package failure

import "testing"

func TestCleanReason(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"timeout", `States.Timeout`, "Task timed out"},
		{
			"task failed with stopped reason",
			`States.TaskFailed: {"TaskArn": "arn:x", "StoppedReason": "Essential container in task exited", "Containers": []}`,
			"Essential container in task exited",
		},
		{"lambda service exception", `Lambda.ServiceException`, "Lambda service error"},
		{"lambda aws exception", `Lambda.AWSLambdaException`, "Lambda execution error"},
		{
			"json error message",
			`{"errorType": "ValueError", "errorMessage": "bad page count"}`,
			"bad page count",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CleanReason(tc.in)
			if got != tc.want {
				t.Fatalf("CleanReason(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestCleanReason_TruncatesTo200(t *testing.T) {
	long := make([]byte, 500)
	for i := range long {
		long[i] = 'x'
	}
	got := CleanReason(string(long))
	if len(got) != maxReasonLen {
		t.Fatalf("len = %d, want %d (197 + '...')", len(got), maxReasonLen)
	}
}

func TestCleanReason_StripsQuotesAndBraces(t *testing.T) {
	got := CleanReason(`{"weird": "cause\with\backslashes"}`)
	for _, bad := range []string{`"`, "{", "}", `\`} {
		if contains(got, bad) {
			t.Fatalf("CleanReason result %q still contains %q", got, bad)
		}
	}
}

func TestCleanReason_NeverPanics(t *testing.T) {
	inputs := []string{"", "\x00\x01", `"""""`, `{{{{`, "a very normal message"}
	for _, in := range inputs {
		_ = CleanReason(in)
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

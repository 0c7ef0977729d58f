package failure

import (
	"regexp"
	"strings"
)

const maxReasonLen = 200

var errorMessageRe = regexp.MustCompile(`"errorMessage"\s*:\s*"([^"]+)"`)

// CleanReason normalizes a raw worker-supplied failure cause into a short,
// human-readable string. Pure function: never raises, always returns
// something ≤ 200 characters with quotes/braces stripped. Ported from
// original_source/lambda/pdf-failure-cleanup/main.py's
// build_clean_failure_reason, branch order preserved exactly; the
// CloudWatch-Logs error lookup step is intentionally not carried over (an
// external API client, out of scope per spec.md §1).
func CleanReason(rawCause string) (result string) {
	defer func() {
		if recover() != nil {
			result = truncateAndStrip(rawCause)
		}
	}()

	switch {
	case strings.Contains(rawCause, "States.Timeout"):
		return "Task timed out"

	case strings.Contains(rawCause, "States.TaskFailed"):
		stopped := extractStoppedReason(rawCause)
		if stopped != "" {
			return truncateAndStrip(stopped)
		}
		return truncateAndStrip(rawCause)

	case strings.Contains(rawCause, "Lambda.ServiceException"):
		return "Lambda service error"

	case strings.Contains(rawCause, "Lambda.AWSLambdaException"):
		return "Lambda execution error"
	}

	if m := errorMessageRe.FindStringSubmatch(rawCause); m != nil {
		return truncateAndStrip(m[1])
	}

	return truncateAndStrip(rawCause)
}

// extractStoppedReason pulls ECS's StoppedReason out of a
// States.TaskFailed cause payload, best-effort: the real shape is
// "States.TaskFailed: {...json with StoppedReason...}" but callers here
// only need the substring, not a full JSON parse, matching the original's
// tolerance for malformed payloads.
func extractStoppedReason(rawCause string) string {
	const marker = `"StoppedReason"`
	idx := strings.Index(rawCause, marker)
	if idx < 0 {
		return ""
	}
	rest := rawCause[idx+len(marker):]
	colon := strings.Index(rest, ":")
	if colon < 0 {
		return ""
	}
	rest = strings.TrimSpace(rest[colon+1:])
	rest = strings.TrimPrefix(rest, `"`)
	end := strings.IndexAny(rest, `",}`)
	if end < 0 {
		end = len(rest)
	}
	return rest[:end]
}

// truncateAndStrip strips quotes/braces/backslashes then truncates to
// maxReasonLen, ending a cut string with an ellipsis that counts toward the
// limit.
func truncateAndStrip(s string) string {
	s = strings.ReplaceAll(s, `"`, "'")
	s = strings.ReplaceAll(s, `\`, "")
	s = strings.ReplaceAll(s, "{", "")
	s = strings.ReplaceAll(s, "}", "")
	s = strings.TrimSpace(s)
	if len(s) <= maxReasonLen {
		return s
	}
	return s[:maxReasonLen-3] + "..."
}

package store

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/harperio/admitcore/internal/clock"
)

// Counter-row key grammar (spec.md §6):
//
//	in_flight_key      := "adobe_api_in_flight"
//	rpm_window_key     := "rpm_window_combined_" YYYYMMDDHHMM
//	tracking_row_key   := "file_" 8*HEXDIG "_" basename
//	global_backoff_key := "global_backoff_until"
const (
	InFlightKey      = "adobe_api_in_flight"
	GlobalBackoffKey = "global_backoff_until"

	rpmWindowPrefix  = "rpm_window_combined_"
	fileTrackPrefix  = "file_"
)

// RPMWindowKey returns the rpm_window_combined_<YYYYMMDDHHMM> key for the
// minute containing t. The literal format has no internal separator between
// date and time, per spec.md §6's formal grammar — this supersedes the
// underscore-separated literal the original Python used.
func RPMWindowKey(t time.Time) string {
	return rpmWindowPrefix + clock.MinuteKey(t)
}

// FileTrackKey returns a fresh file_<rand8>_<basename> key for a tracking
// row. rand8 is 8 lowercase hex digits.
func FileTrackKey(basename string) (string, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("store: generating tracking row id: %w", err)
	}
	return fmt.Sprintf("%s%s_%s", fileTrackPrefix, hex.EncodeToString(b[:]), basename), nil
}

// IsFileTrackKey reports whether key is a per-call tracking row key.
func IsFileTrackKey(key string) bool {
	return strings.HasPrefix(key, fileTrackPrefix)
}

// FileTrackPrefix is the scan prefix for per-call tracking rows (C4).
func FileTrackPrefix() string { return fileTrackPrefix }

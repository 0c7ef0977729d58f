package params

import (
	"context"
	"fmt"

	"github.com/spf13/viper"
)

// StaticSource is a fixed-map Source for tests; every FetchString call
// reads directly from the map with no simulated latency or failure.
type StaticSource map[string]string

func (s StaticSource) FetchString(ctx context.Context, name string) (string, bool, error) {
	v, ok := s[name]
	return v, ok, nil
}

// FailingSource always returns an error, for exercising the cache's
// fetch-failure path (default fallback).
type FailingSource struct{ Err error }

func (f FailingSource) FetchString(ctx context.Context, name string) (string, bool, error) {
	return "", false, f.Err
}

// ViperSource adapts a *viper.Viper instance (process env + config file +
// defaults, per ipiton-alert-history-service's internal/config pattern) to
// Source, standing in for the original's ssm.get_parameter calls — no SSM
// client exists anywhere in the example corpus, and viper is the pack's
// actual "config from multiple sources" library.
type ViperSource struct {
	v      *viper.Viper
	prefix string
}

// NewViperSource wraps v. prefix, if non-empty, is prepended to every
// parameter name before the viper lookup (e.g. "pdf_processing.").
func NewViperSource(v *viper.Viper, prefix string) *ViperSource {
	return &ViperSource{v: v, prefix: prefix}
}

func (s *ViperSource) FetchString(ctx context.Context, name string) (string, bool, error) {
	key := name
	if s.prefix != "" {
		key = s.prefix + name
	}
	if !s.v.IsSet(key) {
		return "", false, nil
	}
	val := s.v.Get(key)
	if val == nil {
		return "", false, nil
	}
	return fmt.Sprintf("%v", val), true, nil
}

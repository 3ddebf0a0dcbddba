package collector

import (
	"context"
	"fmt"

	"labwatch/internal/models"
)

// Source yields one numeric sample per component kind.
type Source interface {
	Sample(ctx context.Context, kind models.ComponentKind) (float64, error)
}

// AcquisitionError reports a failed probe. The value is never fabricated; callers skip the
// component (or the whole cycle) instead.
type AcquisitionError struct {
	Kind models.ComponentKind
	Err  error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Kind, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// Static returns fixed values per kind. It backs simulation mode, where an operator forces
// readings to exercise the alert pipeline without loading the machine.
type Static map[models.ComponentKind]float64

func (s Static) Sample(_ context.Context, kind models.ComponentKind) (float64, error) {
	v, ok := s[kind]
	if !ok {
		return 0, &AcquisitionError{Kind: kind, Err: fmt.Errorf("no simulated value")}
	}
	return v, nil
}

package activity

import (
	"github.com/edvin/tenantvault/internal/backup"
	"github.com/edvin/tenantvault/internal/errs"
	"go.temporal.io/sdk/temporal"
)

// toTemporal converts a domain error into a Temporal application error whose
// type is the error kind name. Storage provider failures and unclassified
// errors stay retryable; every other kind, and artifact build failures, stop
// the retry loop.
func toTemporal(err error) error {
	if err == nil {
		return nil
	}
	kind := errs.KindOf(err)
	if backup.IsBuildError(err) || (kind != errs.KindUnknown && !errs.Retryable(err)) {
		return temporal.NewNonRetryableApplicationError(err.Error(), kind.String(), err)
	}
	return temporal.NewApplicationErrorWithCause(err.Error(), kind.String(), err)
}

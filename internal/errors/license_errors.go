package errors

import (
	stderrors "errors"
	"net/http"

	"fccli/internal/license"
)

// licenseStatusCodes maps verification failure codes to HTTP statuses
// for the status server. Locally produced transport failures surface
// as gateway-style errors; everything the license server rejected is a
// client-side problem.
var licenseStatusCodes = map[license.Code]int{
	license.CodeInvalidLicense:            http.StatusUnauthorized,
	license.CodeLicenseRevoked:            http.StatusForbidden,
	license.CodeLicenseExpired:            http.StatusForbidden,
	license.CodeEmailMismatch:             http.StatusUnauthorized,
	license.CodeActivationLimitReached:    http.StatusConflict,
	license.CodeNetworkError:              http.StatusServiceUnavailable,
	license.CodeInvalidServerResponse:     http.StatusBadGateway,
	license.CodeMissingLicenseKey:         http.StatusBadRequest,
	license.CodeMissingMachineFingerprint: http.StatusBadRequest,
}

// FromLicenseError converts a verification or configuration failure to
// an APIError carrying the wire code and the humanized message.
func FromLicenseError(err error) *APIError {
	var verifyErr *license.VerifyError
	if stderrors.As(err, &verifyErr) {
		status, ok := licenseStatusCodes[verifyErr.Code]
		if !ok {
			status = http.StatusInternalServerError
		}
		return New(status, string(verifyErr.Code), verifyErr.Code.Humanize())
	}

	var confErr *license.ConfigurationError
	if stderrors.As(err, &confErr) {
		return NewWithDetails(http.StatusInternalServerError, "configuration_error",
			"License client configuration is invalid", confErr.Reason)
	}

	if stderrors.Is(err, license.ErrPromptAborted) {
		return New(http.StatusUnauthorized, "verification_aborted", err.Error())
	}

	return ErrInternalServer
}

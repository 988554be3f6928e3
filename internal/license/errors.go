package license

import "fmt"

// Code identifies a verification failure. The values are the wire
// codes returned by the license server plus the locally produced
// network_error and invalid_server_response.
type Code string

const (
	CodeInvalidLicense            Code = "invalid_license"
	CodeLicenseRevoked            Code = "license_revoked"
	CodeLicenseExpired            Code = "license_expired"
	CodeEmailMismatch             Code = "email_mismatch"
	CodeActivationLimitReached    Code = "activation_limit_reached"
	CodeNetworkError              Code = "network_error"
	CodeInvalidServerResponse     Code = "invalid_server_response"
	CodeMissingLicenseKey         Code = "missing_license_key"
	CodeMissingMachineFingerprint Code = "missing_machine_fingerprint"
)

// humanMessages maps failure codes to the fixed user-facing messages.
var humanMessages = map[Code]string{
	CodeInvalidLicense:            "The license key you entered is not recognized. Please verify and try again.",
	CodeLicenseRevoked:            "This license has been revoked. Contact support for assistance.",
	CodeLicenseExpired:            "Your license has expired. Contact support to renew your access.",
	CodeEmailMismatch:             "The license key does not match the provided email address.",
	CodeActivationLimitReached:    "This license has reached the maximum number of activations. Contact support to reset it.",
	CodeNetworkError:              "Could not reach the license server. Check your internet connection and try again.",
	CodeInvalidServerResponse:     "Received an unexpected response from the license server. Try again later.",
	CodeMissingLicenseKey:         "License key missing from request.",
	CodeMissingMachineFingerprint: "Machine fingerprint missing from request.",
}

// Humanize returns the user-facing message for the code. Unknown codes
// fall back to a generic contact-support message.
func (c Code) Humanize() string {
	if msg, ok := humanMessages[c]; ok {
		return msg
	}
	return "Unable to verify your license. Please try again or contact support."
}

// OfflineEligible reports whether a failure of this kind permits
// falling back to a still-valid cached activation.
func (c Code) OfflineEligible() bool {
	return c == CodeNetworkError || c == CodeInvalidServerResponse
}

// VerifyError is a verification failure carrying its wire code.
type VerifyError struct {
	Code Code
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("license verification failed: %s: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("license verification failed: %s", e.Code)
}

func (e *VerifyError) Unwrap() error { return e.Err }

// ConfigurationError is a fatal construction-time error (bad scheme,
// unparseable server URL). It is never retried.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration_error: %s", e.Reason)
}

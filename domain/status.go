package domain

import "fmt"

// KYCStatus is the closed set of identity verification states a user record
// can be in. Persisted values are the string constants below; anything else
// is rejected at the boundary by ParseKYCStatus.
type KYCStatus string

const (
	// KYCStatusUnverified is the initial state of every user record.
	KYCStatusUnverified KYCStatus = "UNVERIFIED"
	// KYCStatusPending marks a verification attempt in flight.
	KYCStatusPending KYCStatus = "PENDING"
	// KYCStatusVerified means the user completed the full provider flow.
	KYCStatusVerified KYCStatus = "VERIFIED"
	// KYCStatusRejected means the provider or an operator rejected the identity.
	KYCStatusRejected KYCStatus = "REJECTED"
	// KYCStatusExpired means a previously granted verification lapsed.
	KYCStatusExpired KYCStatus = "EXPIRED"
)

// Valid reports whether s is one of the known states.
func (s KYCStatus) Valid() bool {
	switch s {
	case KYCStatusUnverified, KYCStatusPending, KYCStatusVerified,
		KYCStatusRejected, KYCStatusExpired:
		return true
	}
	return false
}

// ParseKYCStatus converts a stored string into a KYCStatus. An empty string
// maps to UNVERIFIED so that user records written before the KYC rollout
// still load.
func ParseKYCStatus(raw string) (KYCStatus, error) {
	if raw == "" {
		return KYCStatusUnverified, nil
	}
	s := KYCStatus(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown kyc status %q", raw)
	}
	return s, nil
}

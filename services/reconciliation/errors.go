package reconciliation

import "fmt"

var (
	// ErrReservationNotFound is returned when the reservation id does not exist.
	ErrReservationNotFound = fmt.Errorf("reservation not found")

	// ErrNoWalletAddress means no receiving address is configured for the
	// reservation's currency. This is a configuration error, never retried.
	ErrNoWalletAddress = fmt.Errorf("no wallet address configured for currency")

	// ErrUnsupportedCurrency means the reservation carries a currency code
	// outside the supported set.
	ErrUnsupportedCurrency = fmt.Errorf("unsupported currency")

	// ErrScanUnavailable wraps a transfer-source transport failure. The
	// reservation stays pending and the check is safe to retry.
	ErrScanUnavailable = fmt.Errorf("could not reach transfer source")

	// ErrVerificationUnavailable wraps a transaction-check transport failure.
	ErrVerificationUnavailable = fmt.Errorf("could not reach verification source")

	// ErrMissingTransactionHash is returned by manual verification when the
	// reservation has no submitted transaction hash.
	ErrMissingTransactionHash = fmt.Errorf("no transaction hash submitted for reservation")

	// ErrInvalidTransactionHash is returned when a submitted hash fails
	// format validation.
	ErrInvalidTransactionHash = fmt.Errorf("transaction hash is malformed")

	// ErrHashAlreadyUsed means the submitted hash is already bound to a
	// different reservation.
	ErrHashAlreadyUsed = fmt.Errorf("transaction hash already attached to another reservation")

	// ErrHashConflict means the reservation already carries a different hash.
	ErrHashConflict = fmt.Errorf("reservation already has a different transaction hash")
)

package billing

import "errors"

// Error taxonomy of the billing core. Controllers map these to stable
// HTTP error codes; everything else bubbles up as a 500.
var (
	// ErrUnknownProduct - the product code is not in the catalog (or has
	// no provider-side product configured). Fatal when raised inside a
	// paid transition: the enclosing transaction is rolled back.
	ErrUnknownProduct = errors.New("unknown product")

	// ErrInvalidQuantity - quantity is not a positive integer within the
	// configured maximum.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrPersistence - a local write failed before any provider call was
	// made; safe for the caller to retry.
	ErrPersistence = errors.New("persistence error")

	// ErrProviderUnavailable - the provider call failed ambiguously
	// (network, timeout, 5xx). The purchase stays pending.
	ErrProviderUnavailable = errors.New("payment provider unavailable")

	// ErrProviderRejected - the provider rejected the request
	// deterministically (4xx). The purchase is marked failed.
	ErrProviderRejected = errors.New("payment provider rejected request")

	// ErrConcurrentPurchase - another creation for the same user and
	// product is in flight.
	ErrConcurrentPurchase = errors.New("concurrent purchase in progress")

	// ErrQuantityMismatch - a pending purchase for the same user and
	// product exists with a different quantity. It must be paid or
	// cancelled before the quantity can change; silently substituting
	// the old total would charge the user an amount they did not ask
	// for.
	ErrQuantityMismatch = errors.New("pending purchase quantity mismatch")

	// ErrNoMatchingPurchase - a paid event references no pending
	// purchase. Acknowledged to the provider, alerted internally.
	ErrNoMatchingPurchase = errors.New("no matching pending purchase")

	// ErrDuplicateCharge - the charge was already applied; the event is
	// an idempotent replay, not an error.
	ErrDuplicateCharge = errors.New("charge already applied")

	// ErrIllegalTransition - a status change violates the purchase state
	// machine. Logged as a data-integrity alert.
	ErrIllegalTransition = errors.New("illegal purchase status transition")
)

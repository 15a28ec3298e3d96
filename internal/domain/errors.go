package domain

import "errors"

// ErrorKind — машиночитаемая категория ошибки ядра.
type ErrorKind string

const (
	KindValidation           ErrorKind = "validation"
	KindNotFound             ErrorKind = "not_found"
	KindConflict             ErrorKind = "conflict"
	KindForbidden            ErrorKind = "forbidden"
	KindInsufficientResource ErrorKind = "insufficient_resource"
	KindExpired              ErrorKind = "expired"
	KindInternal             ErrorKind = "internal"
)

// Error — бизнес-ошибка с категорией и стабильным кодом.
// Значения создаются один раз и сравниваются через errors.Is.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind ErrorKind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

var (
	// Ошибки валидации входных данных.
	ErrMissingIdempotencyKey = newError(KindValidation, "missing_idempotency_key", "Idempotency-Key required")
	ErrQuantityInvalid       = newError(KindValidation, "invalid_quantity", "quantity must be positive")
	ErrAmountInvalid         = newError(KindValidation, "invalid_amount", "amount must be positive")
	ErrOrderIDRequired       = newError(KindValidation, "order_id_required", "order_id is required")
	ErrProductIDRequired     = newError(KindValidation, "product_id_required", "product_id is required")
	ErrAccountIDRequired     = newError(KindValidation, "account_id_required", "account_id is required")
	ErrProductNameRequired   = newError(KindValidation, "product_name_required", "product name is required")
	ErrPriceInvalid          = newError(KindValidation, "invalid_price", "price must be non-negative")
	ErrEmptyOrder            = newError(KindValidation, "empty_order", "order must contain at least one item")
	ErrMissingAddress        = newError(KindValidation, "missing_address", "shipping address is required")
	ErrInvalidStatus         = newError(KindValidation, "invalid_status", "invalid order status")
	ErrInvalidRequest        = newError(KindValidation, "invalid_request", "invalid request body")
	ErrAmountMismatch        = newError(KindValidation, "amount_mismatch", "order total does not match items")

	// Ошибки отсутствующих сущностей.
	ErrProductNotFound     = newError(KindNotFound, "product_not_found", "product not found")
	ErrReservationNotFound = newError(KindNotFound, "reservation_not_found", "stock reservation not found")
	ErrOrderNotFound       = newError(KindNotFound, "order_not_found", "order not found")
	ErrAccountNotFound     = newError(KindNotFound, "account_not_found", "account not found")
	ErrPaymentNotFound     = newError(KindNotFound, "payment_not_found", "payment record not found")

	// Конфликты состояния.
	ErrDuplicateReservation       = newError(KindConflict, "duplicate_reservation", "order already has stock reservation")
	ErrProductAlreadyExists       = newError(KindConflict, "product_exists", "product already exists")
	ErrAccountAlreadyExists       = newError(KindConflict, "account_exists", "account already exists")
	ErrOrderAlreadyExists         = newError(KindConflict, "order_exists", "order already exists")
	ErrInvalidState               = newError(KindConflict, "invalid_state", "operation is not allowed in the current order status")
	ErrTerminalState              = newError(KindConflict, "terminal_state", "order is in a terminal status")
	ErrNoStatusChange             = newError(KindConflict, "no_status_change", "order already has this status")
	ErrOrderVersionConflict       = newError(KindConflict, "version_conflict", "order version conflict")
	ErrIdempotencyKeyReused       = newError(KindConflict, "idempotency_key_reused", "idempotency key was already used with a different request")
	ErrIdempotencyRequestInFlight = newError(KindConflict, "idempotency_in_flight", "request with this idempotency key is still in progress")

	// Ошибки авторизации.
	ErrForbidden     = newError(KindForbidden, "forbidden", "access denied")
	ErrActorRequired = newError(KindForbidden, "actor_required", "caller identity is required")

	// Нехватка ресурса.
	ErrInsufficientStock   = newError(KindInsufficientResource, "insufficient_stock", "insufficient stock")
	ErrInsufficientBalance = newError(KindInsufficientResource, "insufficient_balance", "insufficient balance")

	// Истёкшие сущности.
	ErrReservationExpired = newError(KindExpired, "reservation_expired", "reservation has expired")
)

// Ошибки протокола idempotency-хранилища; наружу не выходят, guard переводит их в бизнес-ошибки.
var (
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key request hash mismatch")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// KindOf возвращает категорию ошибки; всё неизвестное считается internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return KindInternal
}

// CodeOf возвращает стабильный код ошибки или "internal_error".
func CodeOf(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return "internal_error"
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsIdempotencyConflict проверяет, что ключ уже занят другим запросом.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}

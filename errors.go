package btr

import (
	"errors"

	"github.com/pthm/btr/lib/encoding"
	"github.com/pthm/btr/lib/expr"
	"github.com/pthm/btr/lib/hydrate"
	"github.com/pthm/btr/lib/protocol"
)

// Sentinel errors for registry and component operations.
var (
	ErrNotFound          = errors.New("btr: resource not found")
	ErrDuplicateRoute    = errors.New("btr: route already registered")
	ErrDuplicateTag      = errors.New("btr: component tag already defined")
	ErrUnknownField      = errors.New("btr: unknown component field")
	ErrNotConnected      = errors.New("btr: component is not connected")
	ErrAlreadyConnected  = errors.New("btr: component is already connected")
	ErrInvalidDescriptor = errors.New("btr: invalid component descriptor")
)

// IsNotFound checks if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, protocol.ErrTemplateNotFound)
}

// IsSetupError checks if err was raised while hydrating a component: a
// missing signal, method or projected slot content, or a seed that does not
// fit its field.
func IsSetupError(err error) bool {
	return errors.Is(err, hydrate.ErrSignalNotFound) ||
		errors.Is(err, hydrate.ErrMethodNotFound) ||
		errors.Is(err, hydrate.ErrSlotEmpty) ||
		errors.Is(err, hydrate.ErrSeedType)
}

// IsExpressionError checks if err comes from compiling an f-when
// expression.
func IsExpressionError(err error) bool {
	return errors.Is(err, expr.ErrSyntax)
}

// IsDecryptionError checks if err is a snapshot decryption or signature
// error.
func IsDecryptionError(err error) bool {
	return errors.Is(err, encoding.ErrDecryptFailed) || errors.Is(err, encoding.ErrSignatureInvalid)
}

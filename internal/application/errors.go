package application

import (
	"context"
	"errors"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/repository"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/pkg/constants"
	custodyerrors "github.com/turtacn/custody/pkg/errors"
)

// storeError maps a KeyStore failure onto the error taxonomy.
// storeError 将 KeyStore 错误映射到错误分类。
func storeError(err error, kind constants.KeyKind, tag models.KeyTag, op constants.Operation) error {
	switch {
	case errors.Is(err, repository.ErrTagExists):
		return custodyerrors.ErrStorageConflict(string(kind), tag.String()).WithCause(err)
	case errors.Is(err, repository.ErrKeyNotFound):
		return custodyerrors.ErrNotFound(string(kind), tag.String())
	case errors.Is(err, repository.ErrAccessDenied):
		return custodyerrors.ErrAccessDenied(string(op)).WithMetadata("kind", string(kind))
	case errors.Is(err, repository.ErrCorruptRecord):
		return custodyerrors.ErrStorageFailed("stored key record is unreadable").
			WithCause(err).
			WithMetadata("reason", "corrupt_record")
	default:
		return custodyerrors.ErrStorageFailed("key store operation failed").WithCause(err)
	}
}

// isUnavailable reports whether err means the provider could not be used at all.
func isUnavailable(err error) bool {
	return errors.Is(err, service.ErrProviderUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// generationError maps a key generation failure onto the error taxonomy.
func generationError(err error) error {
	switch {
	case isUnavailable(err):
		return custodyerrors.ErrProviderUnavailable("provider unavailable during key generation").WithCause(err)
	case errors.Is(err, service.ErrUnsupported):
		return custodyerrors.ErrUnsupportedAlgorithm(err.Error()).WithCause(err)
	default:
		return custodyerrors.ErrGenerationFailed("key generation failed").WithCause(err)
	}
}

// loadError maps a failure to turn a stored record into a key object.
func loadError(err error) error {
	switch {
	case isUnavailable(err):
		return custodyerrors.ErrProviderUnavailable("provider unavailable while loading key").WithCause(err)
	case errors.Is(err, service.ErrUnsupported):
		return custodyerrors.ErrUnsupportedAlgorithm(err.Error()).WithCause(err)
	default:
		return custodyerrors.ErrStorageFailed("stored key material could not be loaded").
			WithCause(err).
			WithMetadata("reason", "unloadable_material")
	}
}

// primitiveError maps a provider failure of an envelope operation onto the error taxonomy.
// Decryption and authentication failures never carry a cause, so callers cannot tell
// a wrong key from a corrupted input.
func primitiveError(err error, op constants.Operation) error {
	if isUnavailable(err) {
		return custodyerrors.ErrProviderUnavailable("provider unavailable during " + string(op)).WithCause(err)
	}
	switch op {
	case constants.OpDecrypt:
		return custodyerrors.ErrDecryptionFailed()
	case constants.OpOpen:
		return custodyerrors.ErrAuthenticationFailed()
	}
	switch {
	case errors.Is(err, service.ErrUnsupported), errors.Is(err, service.ErrKeyTypeMismatch):
		return custodyerrors.ErrUnsupportedAlgorithm(err.Error()).WithCause(err)
	case errors.Is(err, service.ErrMalformedSignature):
		return custodyerrors.ErrSignatureMalformed(err.Error()).WithCause(err)
	default:
		return custodyerrors.ErrProviderUnavailable(string(op) + " failed in provider").WithCause(err)
	}
}

// invalidTag rejects a tag that can never be stored.
func invalidTag(kind constants.KeyKind, tag models.KeyTag) error {
	if err := tag.Validate(); err != nil {
		return custodyerrors.ErrStorageFailed(err.Error()).
			WithMetadata("reason", "invalid_tag").
			WithMetadata("kind", string(kind))
	}
	return nil
}

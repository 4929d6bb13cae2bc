package application

import (
	"encoding/hex"
	"errors"

	"github.com/turtacn/custody/internal/domain/models"
	"github.com/turtacn/custody/internal/domain/service"
	"github.com/turtacn/custody/pkg/constants"
	custodyerrors "github.com/turtacn/custody/pkg/errors"
)

// DigestService computes message digests. It holds no keys and no state.
// DigestService 计算消息摘要，不持有密钥和状态。
type DigestService struct {
	hasher service.Hasher
}

// NewDigestService creates a new instance of the DigestService.
func NewDigestService(hasher service.Hasher) *DigestService {
	return &DigestService{hasher: hasher}
}

// Digest returns the SHA-256 digest of data.
func (s *DigestService) Digest(data []byte) models.Digest {
	return models.Digest(s.hasher.Sum256(data))
}

// DigestToHex returns the SHA-256 digest of data as 64 lowercase hex digits.
func (s *DigestService) DigestToHex(data []byte) string {
	return s.Digest(data).Hex()
}

// DigestWith returns the digest of data under alg.
func (s *DigestService) DigestWith(alg constants.HashAlgorithm, data []byte) ([]byte, error) {
	sum, err := s.hasher.Hash(alg, data)
	if err != nil {
		if errors.Is(err, service.ErrUnsupported) {
			return nil, custodyerrors.ErrUnsupportedAlgorithm("unsupported hash " + string(alg)).WithCause(err)
		}
		return nil, custodyerrors.ErrProviderUnavailable("hash failed").WithCause(err)
	}
	return sum, nil
}

// DigestWithToHex is DigestWith rendered as lowercase hex.
func (s *DigestService) DigestWithToHex(alg constants.HashAlgorithm, data []byte) (string, error) {
	sum, err := s.DigestWith(alg, data)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(sum), nil
}

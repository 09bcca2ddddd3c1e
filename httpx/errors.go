package httpx

import "errors"

var (
	ErrServerClosed    = errors.New("httpx: server closed")
	ErrWriteStalled    = errors.New("httpx: peer stopped accepting writes")
	ErrIdleLimit       = errors.New("httpx: idle timeout limit reached")
	ErrInvalidDispatch = errors.New("httpx: invalid dispatch mode")
)

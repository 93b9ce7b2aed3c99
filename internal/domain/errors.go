package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidChain     = errors.New("unsupported chain kind")
	ErrSigningFailed    = errors.New("signing failed")
	ErrNonceGap         = errors.New("nonce gap or conflict")
	ErrAccountNotFunded = errors.New("account has no nonce entry")
	ErrWSDisconnect     = errors.New("node client disconnected")
	ErrContextDone      = errors.New("context cancelled")
	ErrDecodeFailed     = errors.New("extrinsic or event decode failed")
	ErrEarlyStop        = errors.New("early stop threshold reached")
	ErrPoolSaturated    = errors.New("worker pool backlog saturated")
)

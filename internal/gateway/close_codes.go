package gateway

// Custom WebSocket close codes. Standard codes (1000, 1001, 1011) are defined
// by RFC 6455; the 4000 range is reserved for application use.
const (
	CloseUnknownError = 4000
	CloseRateLimited  = 4008
	CloseShutdown     = 4009
)

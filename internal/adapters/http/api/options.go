package api

import "github.com/okian/kicker/pkg/logger"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 64 << 10

type serverConfig struct {
	version string
	token   string
	logger  logger.Logger
}

// ServerOption configures a Server.
type ServerOption func(*serverConfig)

// WithVersion sets the build version reported by /ping.
func WithVersion(version string) ServerOption {
	return func(c *serverConfig) {
		if version != "" {
			c.version = version
		}
	}
}

// WithAPIToken requires "Authorization: Bearer <token>" on mutating routes.
// An empty token leaves them open.
func WithAPIToken(token string) ServerOption {
	return func(c *serverConfig) {
		c.token = token
	}
}

// WithLogger sets the logger used for failed requests.
func WithLogger(l logger.Logger) ServerOption {
	return func(c *serverConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

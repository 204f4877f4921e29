// Package auth gates the admin control routes behind a single operator API
// key, stored as a bcrypt hash so the plaintext never lives in config.
package auth

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type Service struct {
	keyHash string
	logger  *zap.Logger
}

func New(keyHash string, logger *zap.Logger) *Service {
	return &Service{keyHash: keyHash, logger: logger}
}

// Enabled reports whether an admin key hash is configured at all.
func (s *Service) Enabled() bool { return s.keyHash != "" }

// RequireAPIKey is the Fiber middleware for the /v1 control routes. With no
// configured hash the control surface is disabled outright.
func (s *Service) RequireAPIKey() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if s.keyHash == "" {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"error": "admin API disabled: no API key configured",
			})
		}

		apiKey := c.Get("X-API-Key")
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing API key",
			})
		}
		if err := bcrypt.CompareHashAndPassword([]byte(s.keyHash), []byte(apiKey)); err != nil {
			s.logger.Warn("rejected admin request with bad API key",
				zap.String("path", c.Path()))
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "invalid API key",
			})
		}
		return c.Next()
	}
}

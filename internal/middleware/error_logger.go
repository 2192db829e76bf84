package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"

	"github.com/nugetd/nugetd/internal/utils"
)

type ErrorLoggerMiddleware struct {
	logger *logrus.Logger
}

func NewErrorLoggerMiddleware(logger *logrus.Logger) *ErrorLoggerMiddleware {
	return &ErrorLoggerMiddleware{
		logger: logger,
	}
}

// Handle logs 4xx and 5xx responses with request context. Bodies are
// truncated and binary uploads are never echoed into the log.
func (e *ErrorLoggerMiddleware) Handle() fiber.Handler {
	return func(c *fiber.Ctx) error {
		startTime := time.Now()

		err := c.Next()

		statusCode := c.Response().StatusCode()
		if statusCode < 400 {
			return err
		}

		duration := time.Since(startTime)
		logFields := logrus.Fields{
			"status_code":   statusCode,
			"method":        c.Method(),
			"path":          c.Path(),
			"ip":            c.IP(),
			"user_agent":    c.Get(fiber.HeaderUserAgent),
			"request_id":    c.Get("X-Request-ID"),
			"duration_ms":   duration.Milliseconds(),
			"response_size": len(c.Response().Body()),
		}

		if user := CurrentUser(c); user != nil {
			logFields["username"] = user.Username
		}

		if query := string(c.Request().URI().QueryString()); query != "" {
			logFields["query"] = query
		}

		if body := utils.Truncate(string(c.Response().Body()), 500); body != "" {
			logFields["response_body"] = body
		}

		logEntry := e.logger.WithFields(logFields)
		if statusCode >= 500 {
			if err != nil {
				logEntry = logEntry.WithError(err)
			}
			logEntry.Error("Server error response")
		} else {
			logEntry.Warn("Client error response")
		}

		return err
	}
}

package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"txguard/internal/core/apperror"
	"txguard/internal/infrastructure/http/v1/dto"
	"txguard/pkg/logger"
)

// ErrorHandler middleware transforms errors into consistent JSON responses.
// Hides internal errors from clients while logging full details.
//
// A failed transactional operation keeps the status of the business error
// that caused it, which is reported under "cause".
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Check for errors
		if len(c.Errors) == 0 {
			return
		}

		// Get last error
		err := c.Errors.Last().Err

		// If response already written by handler, do not override it.
		if c.Writer.Written() {
			return
		}

		// Try to extract AppError
		if appErr, ok := apperror.AsAppError(err); ok {
			body := dto.ErrorResponse{
				Code:    appErr.Code,
				Message: appErr.Message,
				Details: appErr.Details,
			}

			if cause, ok := apperror.AsAppError(appErr.Err); ok {
				body.Cause = &dto.ErrorCause{
					Code:    cause.Code,
					Message: cause.Message,
					Details: cause.Details,
				}
			}

			if appErr.HTTPStatus >= http.StatusInternalServerError {
				// Load shedding is logged at warn by the middleware that rejected the request.
				if appErr.Code != apperror.CodeServerBusy {
					logger.Error(c.Request.Context(), "request error",
						"code", appErr.Code,
						"cause", appErr.Err,
					)
				}
				if body.Cause == nil {
					body.Details = withRequestID(c, body.Details)
				}
			}

			c.JSON(appErr.HTTPStatus, body)
			return
		}

		// Unknown error - log and return generic message
		logger.Error(c.Request.Context(), "unhandled error",
			"error", err,
		)

		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Code:    apperror.CodeInternal,
			Message: "Internal server error",
			Details: withRequestID(c, nil),
		})
	}
}

func withRequestID(c *gin.Context, details map[string]any) map[string]any {
	out := make(map[string]any, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	out["request_id"] = c.GetString("request_id")
	return out
}

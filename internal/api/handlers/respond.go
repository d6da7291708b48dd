package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	apperrors "github.com/smartqrhealth/backend/pkg/errors"
)

func respondWithError(c echo.Context, statusCode int, message string) error {
	return c.JSON(statusCode, map[string]string{
		"error": message,
	})
}

// handleServiceError maps application errors to HTTP responses
func handleServiceError(c echo.Context, err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		switch appErr.Type {
		case apperrors.ErrorTypeNotFound:
			return respondWithError(c, http.StatusNotFound, appErr.Message)
		case apperrors.ErrorTypeValidation:
			return respondWithError(c, http.StatusBadRequest, appErr.Message)
		case apperrors.ErrorTypeConflict:
			return respondWithError(c, http.StatusConflict, appErr.Message)
		case apperrors.ErrorTypeUnavailable:
			return respondWithError(c, http.StatusServiceUnavailable, appErr.Message)
		case apperrors.ErrorTypeExternal:
			log.Warn().Err(err).Str("path", c.Path()).Msg("Upstream call failed")
			return respondWithError(c, http.StatusBadGateway, appErr.Message)
		}
	}

	log.Error().Err(err).Str("path", c.Path()).Msg("Request failed")
	return respondWithError(c, http.StatusInternalServerError, "internal server error")
}

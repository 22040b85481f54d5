package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"taskify/backend/internal/middleware"
	"taskify/backend/internal/optimistic"
	"taskify/backend/internal/services"
	"taskify/backend/internal/validation"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	var verr *validation.Errors
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrUnauthorized),
		errors.Is(err, services.ErrInvalidCredentials),
		errors.Is(err, services.ErrInvalidSession):
		return http.StatusUnauthorized
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrEmailTaken),
		errors.Is(err, optimistic.ErrMutationInFlight):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, log logrus.FieldLogger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.WithError(err).WithField("request_id", middleware.GetRequestID(c)).Error("request failed")
	}

	var verr *validation.Errors
	switch {
	case errors.As(err, &verr):
		c.JSON(status, gin.H{"error": "validation failed", "fields": verr.Fields})
	case status == http.StatusUnauthorized && !errors.Is(err, services.ErrInvalidCredentials),
		status == http.StatusForbidden:
		c.JSON(status, gin.H{"error": "unauthorized"})
	default:
		c.JSON(status, gin.H{"error": optimistic.ErrorMessage(err)})
	}
}

// fieldErrors returns the validation errors carried by err, if any.
func fieldErrors(err error) *validation.Errors {
	var verr *validation.Errors
	if errors.As(err, &verr) {
		return verr
	}
	return nil
}

// bindForm decodes a posted form into dst. A body that cannot be decoded is
// reported as a form-level validation error.
func bindForm(c *gin.Context, log logrus.FieldLogger, dst interface{}) error {
	if err := c.ShouldBind(dst); err != nil {
		log.WithError(err).Warn("malformed form submission")
		errs := validation.NewErrors()
		errs.Add(validation.FormField, "Invalid form submission")
		return errs
	}
	return nil
}

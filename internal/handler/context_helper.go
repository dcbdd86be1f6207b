package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-api/internal/middleware"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

// currentNIM returns the NIM of the authenticated student.
func currentNIM(c *gin.Context) (string, error) {
	claims := middleware.StudentClaims(c)
	if claims == nil || claims.NIM == "" {
		return "", appErrors.ErrUnauthorized
	}
	return claims.NIM, nil
}

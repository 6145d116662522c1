package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/tap-attendance-api/internal/dto"
	"github.com/noah-isme/tap-attendance-api/internal/middleware"
	"github.com/noah-isme/tap-attendance-api/internal/models"
	appErrors "github.com/noah-isme/tap-attendance-api/pkg/errors"
)

// bindJSON decodes the request body into dst and runs its validate tags.
func bindJSON(c *gin.Context, v *validator.Validate, dst interface{}) error {
	if err := c.ShouldBindJSON(dst); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload")
	}
	if err := v.Struct(dst); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, dto.ValidationMessage(err))
	}
	return nil
}

func validatorOrDefault(v *validator.Validate) *validator.Validate {
	if v == nil {
		return dto.NewValidator()
	}
	return v
}

func parseDateParam(raw string) (*models.Date, error) {
	if raw == "" {
		return nil, nil
	}
	parsed, err := models.ParseDate(raw)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}
	return &parsed, nil
}

func parseQueryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

// responseMeta merges the request meta with the cache flag and timing.
func responseMeta(c *gin.Context, cacheHit bool, start time.Time) map[string]interface{} {
	middleware.SetCacheHit(c, cacheHit)
	meta := middleware.ExtractMeta(c)
	if meta == nil {
		meta = map[string]interface{}{}
	}
	meta["processing_time_ms"] = time.Since(start).Milliseconds()
	return meta
}

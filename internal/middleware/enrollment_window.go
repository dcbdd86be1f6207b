package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
	"github.com/noah-isme/krs-api/pkg/response"
	"github.com/noah-isme/krs-api/pkg/timeofday"
)

type periodResolver interface {
	Current(ctx context.Context) (*models.AcademicPeriod, error)
}

// EnrollmentWindow rejects requests outside the active period's KRS dates or
// outside its daily hours in the campus time zone loc.
func EnrollmentWindow(periods periodResolver, loc *time.Location, now func() time.Time) gin.HandlerFunc {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return func(c *gin.Context) {
		period, err := periods.Current(c.Request.Context())
		if err != nil {
			response.Error(c, err)
			c.Abort()
			return
		}

		current := now()
		if !period.WithinEnrollmentDates(current) {
			response.Error(c, appErrors.Clone(appErrors.ErrEnrollmentClosed, "the KRS registration schedule has not yet opened or has already closed"))
			c.Abort()
			return
		}
		if !period.WithinDailyHours(current, loc) {
			msg := fmt.Sprintf("KRS can only be accessed between %s - %s %s",
				timeofday.FromMinutes(period.DailyStartMinute),
				timeofday.FromMinutes(period.DailyEndMinute),
				current.In(loc).Format("MST"))
			response.Error(c, appErrors.Clone(appErrors.ErrEnrollmentClosed, msg))
			c.Abort()
			return
		}
		c.Next()
	}
}

package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestDefaultsMatchAttendanceRules(t *testing.T) {
	v := viper.New()
	setDefaults(v)

	cfg := fromViper(v)

	assert.Equal(t, 120*time.Second, cfg.Attendance.SessionDuration)
	assert.Equal(t, 10*time.Second, cfg.Attendance.LateThreshold)
	assert.Equal(t, 3, cfg.Attendance.AbsenceThreshold)
	assert.Equal(t, time.Duration(0), cfg.Attendance.RolloverOffset())
	assert.Equal(t, time.UTC, cfg.Attendance.Location())
	assert.Equal(t, 5, cfg.Notifications.MaxRetries)
	assert.False(t, cfg.Redis.Enabled)
}

func TestOverridesAndClamping(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("SESSION_DURATION", "30s")
	v.Set("LATE_THRESHOLD", "45s")
	v.Set("ABSENCE_THRESHOLD", 0)
	v.Set("ROLLOVER_AT", "02:30")
	v.Set("ATTENDANCE_TIMEZONE", "Not/AZone")
	v.Set("ALLOWED_ORIGINS", " http://a.test , ,http://b.test")

	cfg := fromViper(v)

	assert.Equal(t, 30*time.Second, cfg.Attendance.LateThreshold)
	assert.Equal(t, 3, cfg.Attendance.AbsenceThreshold)
	assert.Equal(t, 2*time.Hour+30*time.Minute, cfg.Attendance.RolloverOffset())
	assert.Equal(t, time.UTC, cfg.Attendance.Location())
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.CORS.AllowedOrigins)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
	assert.Equal(t, 3*time.Second, parseDuration("3s", time.Minute))
}

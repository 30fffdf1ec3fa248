// Package timeutil provides timezone utilities for school-local time.
// Guardians and students share one school timezone, so every date boundary
// (attendance days, send windows, period cutoffs) is computed in it.
// No external dependencies - uses only standard library.
package timeutil

import (
	"fmt"
	"time"
)

// SchoolTZ is the school timezone. Defaults to Europe/Madrid; when the tzdata
// database is unavailable it falls back to a fixed CET offset without DST.
var SchoolTZ = loadSchoolTZ()

func loadSchoolTZ() *time.Location {
	loc, err := time.LoadLocation("Europe/Madrid")
	if err != nil {
		return time.FixedZone("CET", 1*60*60)
	}
	return loc
}

// Now returns the current time in the school timezone.
func Now() time.Time {
	return time.Now().In(SchoolTZ)
}

// ToSchool converts a time to the school timezone.
func ToSchool(t time.Time) time.Time {
	return t.In(SchoolTZ)
}

// ToUTC converts a time to UTC.
func ToUTC(t time.Time) time.Time {
	return t.UTC()
}

// Date creates a time in the school timezone with the given date.
func Date(year, month, day int) time.Time {
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, SchoolTZ)
}

// DateTime creates a time in the school timezone with the given date and time.
func DateTime(year, month, day, hour, min, sec int) time.Time {
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, SchoolTZ)
}

// StartOfDay returns the start of the day (00:00:00) in the school timezone.
func StartOfDay(t time.Time) time.Time {
	local := ToSchool(t)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, SchoolTZ)
}

// EndOfDay returns the end of the day (23:59:59.999999999) in the school timezone.
func EndOfDay(t time.Time) time.Time {
	local := ToSchool(t)
	return time.Date(local.Year(), local.Month(), local.Day(), 23, 59, 59, 999999999, SchoolTZ)
}

// StartOfWeek returns the start of the week (Monday 00:00:00) in the school timezone.
func StartOfWeek(t time.Time) time.Time {
	local := ToSchool(t)
	weekday := int(local.Weekday())
	if weekday == 0 {
		weekday = 7 // Sunday
	}
	daysToSubtract := weekday - 1 // Monday = 1
	return StartOfDay(local.AddDate(0, 0, -daysToSubtract))
}

// EndOfWeek returns the end of the week (Sunday 23:59:59) in the school timezone.
func EndOfWeek(t time.Time) time.Time {
	start := StartOfWeek(t)
	return EndOfDay(start.AddDate(0, 0, 6))
}

// StartOfMonth returns the start of the month in the school timezone.
func StartOfMonth(t time.Time) time.Time {
	local := ToSchool(t)
	return time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, SchoolTZ)
}

// EndOfMonth returns the end of the month in the school timezone.
func EndOfMonth(t time.Time) time.Time {
	start := StartOfMonth(t)
	return EndOfDay(start.AddDate(0, 1, -1))
}

// IsToday checks if the given time is today in the school timezone.
func IsToday(t time.Time) bool {
	now := Now()
	local := ToSchool(t)
	return local.Year() == now.Year() &&
		local.Month() == now.Month() &&
		local.Day() == now.Day()
}

// IsWeekend checks if the given time is on a weekend.
func IsWeekend(t time.Time) bool {
	weekday := ToSchool(t).Weekday()
	return weekday == time.Saturday || weekday == time.Sunday
}

// IsSchoolDay checks if the given time is on a school day (Mon-Fri).
func IsSchoolDay(t time.Time) bool {
	return !IsWeekend(t)
}

// NextSchoolDay returns the start of the next school day (skipping weekends).
func NextSchoolDay(t time.Time) time.Time {
	next := ToSchool(t).AddDate(0, 0, 1)
	for IsWeekend(next) {
		next = next.AddDate(0, 0, 1)
	}
	return StartOfDay(next)
}

// DaysSince calculates the number of days since the given time.
func DaysSince(t time.Time) int {
	now := StartOfDay(Now())
	then := StartOfDay(t)
	return int(now.Sub(then).Hours() / 24)
}

// Common date/time formats.
const (
	// FormatDate is the standard date format (YYYY-MM-DD).
	FormatDate = "2006-01-02"
	// FormatTime is the standard time format (HH:MM).
	FormatTime = "15:04"
	// FormatDateTime is the standard datetime format.
	FormatDateTime = "2006-01-02 15:04"
	// FormatDateTimeSeconds includes seconds.
	FormatDateTimeSeconds = "2006-01-02 15:04:05"
	// FormatSpanishDate is the Spanish date format (DD/MM/YYYY).
	FormatSpanishDate = "02/01/2006"
	// FormatSpanishDateTime is the Spanish datetime format.
	FormatSpanishDateTime = "02/01/2006 15:04"
)

// FormatSchool formats a time in the school timezone with the given layout.
func FormatSchool(t time.Time, layout string) string {
	return ToSchool(t).Format(layout)
}

// FormatDateStr formats a time as a date string (YYYY-MM-DD) in the school timezone.
func FormatDateStr(t time.Time) string {
	return FormatSchool(t, FormatDate)
}

// FormatTimeStr formats a time as a time string (HH:MM) in the school timezone.
func FormatTimeStr(t time.Time) string {
	return FormatSchool(t, FormatTime)
}

// FormatSpanish formats a time in Spanish format (DD/MM/YYYY).
func FormatSpanish(t time.Time) string {
	return FormatSchool(t, FormatSpanishDate)
}

// FormatRelative returns a human-readable relative time string in Spanish.
func FormatRelative(t time.Time) string {
	now := Now()
	local := ToSchool(t)
	duration := now.Sub(local)

	if duration < 0 {
		return formatFutureDuration(-duration)
	}
	return formatPastDuration(duration)
}

func formatPastDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "ahora mismo"
	case d < time.Hour:
		return fmt.Sprintf("hace %d min", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("hace %d h", int(d.Hours()))
	case d < 7*24*time.Hour:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "ayer"
		}
		return fmt.Sprintf("hace %d días", days)
	case d < 30*24*time.Hour:
		return fmt.Sprintf("hace %d semanas", int(d.Hours()/24/7))
	default:
		months := int(d.Hours() / 24 / 30)
		if months < 12 {
			return fmt.Sprintf("hace %d meses", months)
		}
		return fmt.Sprintf("hace %d años", months/12)
	}
}

func formatFutureDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "ahora"
	case d < time.Hour:
		return fmt.Sprintf("en %d min", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("en %d h", int(d.Hours()))
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "mañana"
		}
		return fmt.Sprintf("en %d días", days)
	}
}

// ParseSchool parses a time string in the school timezone.
func ParseSchool(layout, value string) (time.Time, error) {
	return time.ParseInLocation(layout, value, SchoolTZ)
}

// ParseDateSchool parses a date string (YYYY-MM-DD) in the school timezone.
func ParseDateSchool(value string) (time.Time, error) {
	return ParseSchool(FormatDate, value)
}

// IsSameDay checks if two times are on the same day in the school timezone.
func IsSameDay(t1, t2 time.Time) bool {
	a1, a2 := ToSchool(t1), ToSchool(t2)
	return a1.Year() == a2.Year() && a1.YearDay() == a2.YearDay()
}

// DaysBetween calculates the number of days between two times.
func DaysBetween(t1, t2 time.Time) int {
	a1 := StartOfDay(t1)
	a2 := StartOfDay(t2)
	days := int(a2.Sub(a1).Hours() / 24)
	if days < 0 {
		days = -days
	}
	return days
}

// WeekdayNameEs returns the Spanish name for a weekday.
func WeekdayNameEs(t time.Time) string {
	switch ToSchool(t).Weekday() {
	case time.Monday:
		return "lunes"
	case time.Tuesday:
		return "martes"
	case time.Wednesday:
		return "miércoles"
	case time.Thursday:
		return "jueves"
	case time.Friday:
		return "viernes"
	case time.Saturday:
		return "sábado"
	case time.Sunday:
		return "domingo"
	default:
		return ""
	}
}

// MonthNameEs returns the Spanish name for a month.
func MonthNameEs(m time.Month) string {
	names := []string{
		"", "enero", "febrero", "marzo", "abril", "mayo", "junio",
		"julio", "agosto", "septiembre", "octubre", "noviembre", "diciembre",
	}
	if int(m) >= 1 && int(m) <= 12 {
		return names[m]
	}
	return ""
}

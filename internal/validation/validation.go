package validation

import (
	"fmt"
	"net/mail"
	"strings"
	"unicode/utf8"

	"datadesk/internal/models"
)

// Limits on request payloads.
const (
	MaxColumns      = 200
	MaxColumnLength = 200
	MaxCellLength   = 10000
	MaxTitleLength  = 300
)

// NormalizeColumns trims column names.
func NormalizeColumns(columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = strings.TrimSpace(c)
	}
	return out
}

// ValidateColumns checks that columns are non-empty, unique named text fields.
func ValidateColumns(columns []string) (bool, string) {
	if len(columns) == 0 {
		return false, "at least one column is required"
	}
	if len(columns) > MaxColumns {
		return false, fmt.Sprintf("at most %d columns are allowed", MaxColumns)
	}
	seen := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c == "" {
			return false, "column names must not be empty"
		}
		if utf8.RuneCountInString(c) > MaxColumnLength {
			return false, fmt.Sprintf("column name %q is too long", string([]rune(c)[:20])+"...")
		}
		if c == models.TagKey {
			return false, fmt.Sprintf("column name %q is reserved", c)
		}
		if seen[c] {
			return false, fmt.Sprintf("duplicate column name %q", c)
		}
		seen[c] = true
	}
	return true, ""
}

// NormalizeDepartments trims names and removes blanks and duplicates,
// keeping the first occurrence so display order is stable.
func NormalizeDepartments(departments []string) []string {
	out := make([]string, 0, len(departments))
	seen := make(map[string]bool, len(departments))
	for _, d := range departments {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// ValidateDepartment checks a submission's department name.
func ValidateDepartment(department string) (bool, string) {
	department = strings.TrimSpace(department)
	if department == "" {
		return false, "department is required"
	}
	if department == models.TagTemplate {
		return false, fmt.Sprintf("department name %q is reserved", models.TagTemplate)
	}
	return true, ""
}

// NormalizeEmails trims addresses and drops blanks and case-insensitive duplicates.
func NormalizeEmails(emails []string) []string {
	out := make([]string, 0, len(emails))
	seen := make(map[string]bool, len(emails))
	for _, e := range emails {
		e = strings.TrimSpace(e)
		key := strings.ToLower(e)
		if e == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, e)
	}
	return out
}

// ValidateEmail checks that addr is a bare RFC 5322 address.
func ValidateEmail(addr string) (bool, string) {
	if addr == "" {
		return false, "email address is required"
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil || parsed.Address != addr {
		return false, fmt.Sprintf("invalid email address %q", addr)
	}
	return true, ""
}

// ValidateFrequency checks a reminder frequency.
func ValidateFrequency(frequency string) (bool, string) {
	switch frequency {
	case models.FrequencyDaily, models.FrequencyWeekly, models.FrequencyMonthly:
		return true, ""
	}
	return false, fmt.Sprintf("unsupported reminder frequency %q", frequency)
}

// ValidateTitle checks the request title.
func ValidateTitle(title string) (bool, string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return false, "title is required"
	}
	if len(title) > MaxTitleLength {
		return false, "title is too long"
	}
	return true, ""
}

// ValidateRows checks that row keys are usable and cells are within limits.
// Keys outside the schema are allowed.
func ValidateRows(rows []models.Row) (bool, string) {
	for i, r := range rows {
		for k, v := range r {
			if strings.TrimSpace(k) == "" {
				return false, fmt.Sprintf("row %d has an empty column name", i+1)
			}
			if k == models.TagKey {
				return false, fmt.Sprintf("row %d uses the reserved key %q", i+1, models.TagKey)
			}
			if len(v) > MaxCellLength {
				return false, fmt.Sprintf("row %d column %q exceeds %d characters", i+1, k, MaxCellLength)
			}
		}
	}
	return true, ""
}

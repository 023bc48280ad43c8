package pricing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClockTime is a time of day in minutes after midnight.
type ClockTime int

// ParseClock parses "HH:MM" (seconds, if present, are ignored).
func ParseClock(s string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("pricing: invalid clock time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("pricing: invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("pricing: invalid minute in %q", s)
	}
	return ClockTime(h*60 + m), nil
}

// MustClock is ParseClock for literals.
func MustClock(s string) ClockTime {
	c, err := ParseClock(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClockOf returns the time of day of t in its own location.
func ClockOf(t time.Time) ClockTime {
	return ClockTime(t.Hour()*60 + t.Minute())
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", int(c)/60, int(c)%60)
}

// MarshalJSON encodes as "HH:MM".
func (c ClockTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes "HH:MM".
func (c *ClockTime) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimeRule adjusts a price for pickups on given weekdays inside a time window.
type TimeRule struct {
	ID                   uuid.UUID       `json:"id"`
	Name                 string          `json:"name"`
	Start                ClockTime       `json:"start_time"`
	End                  ClockTime       `json:"end_time"`
	AdjustmentPercentage decimal.Decimal `json:"adjustment_percentage"`
	Days                 []time.Weekday  `json:"applicable_days"`
	Priority             int             `json:"priority"`
	Active               bool            `json:"active"`
	CategoryID           *uuid.UUID      `json:"category_id,omitempty"`
	ServiceTypeID        *uuid.UUID      `json:"service_type_id,omitempty"`
}

// Overnight reports whether the window wraps past midnight.
func (r TimeRule) Overnight() bool {
	return r.Start > r.End
}

// CoversClock reports whether c falls inside the window. Both bounds are inclusive.
func (r TimeRule) CoversClock(c ClockTime) bool {
	if r.Overnight() {
		return c >= r.Start || c <= r.End
	}
	return c >= r.Start && c <= r.End
}

// CoversDay reports whether the rule applies on the weekday; no days means every day.
func (r TimeRule) CoversDay(d time.Weekday) bool {
	if len(r.Days) == 0 {
		return true
	}
	for _, day := range r.Days {
		if day == d {
			return true
		}
	}
	return false
}

// Scope narrows rule matching to a category and service type.
type Scope struct {
	CategoryID    uuid.UUID
	ServiceTypeID uuid.UUID
}

func (r TimeRule) inScope(s Scope) bool {
	if r.CategoryID != nil && *r.CategoryID != s.CategoryID {
		return false
	}
	if r.ServiceTypeID != nil && *r.ServiceTypeID != s.ServiceTypeID {
		return false
	}
	return true
}

// Matches reports whether the rule applies to a pickup at t.
func (r TimeRule) Matches(t time.Time, s Scope) bool {
	return r.Active && r.inScope(s) && r.CoversDay(t.Weekday()) && r.CoversClock(ClockOf(t))
}

// SelectRule returns the highest priority rule matching t. Ties keep declaration order.
func SelectRule(rules []TimeRule, t time.Time, s Scope) (TimeRule, bool) {
	var (
		best  TimeRule
		found bool
	)
	for _, r := range rules {
		if !r.Matches(t, s) {
			continue
		}
		if !found || r.Priority > best.Priority {
			best, found = r, true
		}
	}
	return best, found
}

// Apply scales amount by the rule's adjustment percentage.
func (r TimeRule) Apply(amount decimal.Decimal) decimal.Decimal {
	return amount.Add(amount.Mul(r.AdjustmentPercentage).Div(hundred))
}

package admin

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ErrEmptyFilter is returned by SearchTransactions when no criterion is set.
var ErrEmptyFilter = errors.New("admin: search filter is empty")

// ErrInvalidRange is returned when From is after To.
var ErrInvalidRange = errors.New("admin: start date is after end date")

const dateLayout = "2006-01-02"

// SearchFilter narrows a transaction search. Dates are whole days; To is
// inclusive.
type SearchFilter struct {
	// Query matches reference, sender name or phone, recipient name or phone.
	Query    string
	Statuses []TransactionStatus
	From     time.Time
	To       time.Time
}

// IsZero reports whether no criterion is set.
func (f SearchFilter) IsZero() bool {
	return strings.TrimSpace(f.Query) == "" && len(f.Statuses) == 0 && f.From.IsZero() && f.To.IsZero()
}

// Values encodes the filter as the backend's query parameters.
func (f SearchFilter) Values() url.Values {
	v := url.Values{}
	if q := strings.TrimSpace(f.Query); q != "" {
		v.Set("q", q)
	}
	if len(f.Statuses) > 0 {
		labels := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			labels[i] = string(st)
		}
		v.Set("status", strings.Join(labels, ","))
	}
	if !f.From.IsZero() {
		v.Set("start_date", f.From.Format(dateLayout))
	}
	if !f.To.IsZero() {
		v.Set("end_date", f.To.Format(dateLayout))
	}
	return v
}

// ParseDate parses a YYYY-MM-DD day as used by the search filter.
func ParseDate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("admin: invalid date %q (use YYYY-MM-DD)", s)
	}
	return t, nil
}

// SearchTransactions runs a filtered search, most recent first.
func (s *Service) SearchTransactions(ctx context.Context, f SearchFilter) ([]Transaction, error) {
	if f.IsZero() {
		return nil, ErrEmptyFilter
	}
	if !f.From.IsZero() && !f.To.IsZero() && f.From.After(f.To) {
		return nil, ErrInvalidRange
	}
	var txs []Transaction
	if err := s.client.GetJSON(ctx, searchPath, f.Values(), &txs); err != nil {
		return nil, fmt.Errorf("admin: search transactions: %w", err)
	}
	sortByTimestampDesc(txs)
	return txs, nil
}

package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TransactionStatus is the backend's status label for a transaction.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "En cours"
	StatusCompleted TransactionStatus = "Éffectuée"
	StatusCancelled TransactionStatus = "Annulée"
	StatusWaiting   TransactionStatus = "En attente"
	StatusFailed    TransactionStatus = "Échouée"
)

// ErrUnknownStatus is returned by ParseStatus.
var ErrUnknownStatus = errors.New("admin: unknown transaction status")

// Statuses lists every status, in the order the search filter offers them.
func Statuses() []TransactionStatus {
	return []TransactionStatus{StatusPending, StatusCompleted, StatusCancelled, StatusWaiting, StatusFailed}
}

var statusAliases = map[string]TransactionStatus{
	"pending":   StatusPending,
	"completed": StatusCompleted,
	"cancelled": StatusCancelled,
	"canceled":  StatusCancelled,
	"waiting":   StatusWaiting,
	"failed":    StatusFailed,
}

// ParseStatus accepts either a backend label ("En cours") or its English
// alias ("pending"), case-insensitively.
func ParseStatus(s string) (TransactionStatus, error) {
	s = strings.TrimSpace(s)
	for _, st := range Statuses() {
		if strings.EqualFold(s, string(st)) {
			return st, nil
		}
	}
	if st, ok := statusAliases[strings.ToLower(s)]; ok {
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Icon returns the glyph the dashboard shows next to the status.
func (s TransactionStatus) Icon() string {
	switch s {
	case StatusPending:
		return "⏳"
	case StatusCompleted:
		return "✅"
	case StatusCancelled:
		return "❌"
	default:
		return "❓"
	}
}

// Role of a user account.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Timestamp decodes the backend's ISO-8601 datetimes, which may omit the
// zone offset. Naive values are taken as UTC.
type Timestamp struct {
	time.Time
}

var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("admin: timestamp: %w", err)
	}
	if s == "" {
		t.Time = time.Time{}
		return nil
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	for _, layout := range naiveLayouts {
		if v, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			t.Time = v
			return nil
		}
	}
	return fmt.Errorf("admin: unrecognized timestamp %q", s)
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte(`""`), nil
	}
	return json.Marshal(t.Time.Format(time.RFC3339Nano))
}

// User is a customer or staff account.
type User struct {
	ID                uuid.UUID `json:"id"`
	FullName          string    `json:"full_name"`
	Phone             string    `json:"phone"`
	Email             string    `json:"email,omitempty"`
	Country           string    `json:"country,omitempty"`
	ProfilePictureURL string    `json:"profile_picture_url,omitempty"`
	Role              Role      `json:"role,omitempty"`
	CreatedAt         Timestamp `json:"created_at"`
	UpdatedAt         Timestamp `json:"updated_at"`
	PinSet            bool      `json:"pin_set"`
}

// IsAdmin reports whether the account may use the back office.
func (u *User) IsAdmin() bool { return u != nil && u.Role == RoleAdmin }

// Transaction is a money transfer as returned by the backend. Search
// results carry only a subset of the fields.
type Transaction struct {
	ID               uuid.UUID         `json:"id"`
	Reference        string            `json:"reference"`
	Timestamp        Timestamp         `json:"timestamp"`
	Status           TransactionStatus `json:"status"`
	SenderCountry    string            `json:"sender_country,omitempty"`
	SenderCurrency   string            `json:"sender_currency"`
	SenderAmount     int64             `json:"sender_amount"`
	ReceiverCountry  string            `json:"receiver_country,omitempty"`
	ReceiverCurrency string            `json:"receiver_currency"`
	ReceiverAmount   int64             `json:"receiver_amount"`
	ConversionRate   json.Number       `json:"conversion_rate,omitempty"`
	PaymentType      string            `json:"payment_type,omitempty"`
	RecipientName    string            `json:"recipient_name"`
	RecipientPhone   string            `json:"recipient_phone"`
	RecipientType    string            `json:"recipient_type,omitempty"`
	IncludeFee       bool              `json:"include_fee"`
	FeeAmount        int64             `json:"fee_amount"`
	IsHidden         bool              `json:"is_hidden"`
	Sender           User              `json:"sender"`
}

// Actionable reports whether the transaction can still be validated or
// cancelled.
func (t *Transaction) Actionable() bool { return t.Status == StatusPending }

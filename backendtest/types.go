package backendtest

import (
	"encoding/json"

	"github.com/google/uuid"
)

// naiveLayout matches the backend, which serializes datetimes without a
// zone offset.
const naiveLayout = "2006-01-02T15:04:05.000000"

// User is the wire form of an account.
type User struct {
	ID        uuid.UUID `json:"id"`
	FullName  string    `json:"full_name"`
	Phone     string    `json:"phone"`
	Email     string    `json:"email,omitempty"`
	Country   string    `json:"country,omitempty"`
	Role      string    `json:"role"`
	CreatedAt string    `json:"created_at"`
	UpdatedAt string    `json:"updated_at"`
	PinSet    bool      `json:"pin_set"`

	password string
}

// Transaction is the wire form of a transfer.
type Transaction struct {
	ID               uuid.UUID   `json:"id"`
	Reference        string      `json:"reference"`
	Timestamp        string      `json:"timestamp"`
	Status           string      `json:"status"`
	SenderCountry    string      `json:"sender_country"`
	SenderCurrency   string      `json:"sender_currency"`
	SenderAmount     int64       `json:"sender_amount"`
	ReceiverCountry  string      `json:"receiver_country"`
	ReceiverCurrency string      `json:"receiver_currency"`
	ReceiverAmount   int64       `json:"receiver_amount"`
	ConversionRate   json.Number `json:"conversion_rate"`
	PaymentType      string      `json:"payment_type"`
	RecipientName    string      `json:"recipient_name"`
	RecipientPhone   string      `json:"recipient_phone"`
	RecipientType    string      `json:"recipient_type"`
	IncludeFee       bool        `json:"include_fee"`
	FeeAmount        int64       `json:"fee_amount"`
	IsHidden         bool        `json:"is_hidden"`
	Sender           User        `json:"sender"`
}

// Promotion is a broadcast recorded by the promotion endpoint.
type Promotion struct {
	Title   string      `json:"title"`
	Message string      `json:"message"`
	UserIDs []uuid.UUID `json:"user_ids"`
}

type loginRequest struct {
	Credential string `json:"credential"`
	Password   string `json:"password"`
}

type loginResponse struct {
	User
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type refreshResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type statusUpdate struct {
	Status string `json:"status"`
}

type detail struct {
	Detail string `json:"detail"`
}

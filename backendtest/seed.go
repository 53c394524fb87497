package backendtest

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Seeded credentials.
const (
	AdminEmail    = "admin@remit.test"
	AdminPhone    = "+221770000001"
	AdminPassword = "admin-password"

	CustomerEmail    = "awa.diop@remit.test"
	CustomerPhone    = "+221770000002"
	CustomerPassword = "customer-password"
)

// Status labels used by the backend.
const (
	StatusPending   = "En cours"
	StatusCompleted = "Éffectuée"
	StatusCancelled = "Annulée"
	StatusWaiting   = "En attente"
	StatusFailed    = "Échouée"
)

// seedEpoch anchors the seeded timestamps so searches are deterministic.
var seedEpoch = time.Date(2024, time.March, 10, 9, 30, 0, 0, time.UTC)

func seedUsers() []*User {
	created := seedEpoch.AddDate(0, -2, 0).Format(naiveLayout)
	mk := func(name, phone, email, country, role, password string) *User {
		return &User{
			ID:        uuid.New(),
			FullName:  name,
			Phone:     phone,
			Email:     email,
			Country:   country,
			Role:      role,
			CreatedAt: created,
			UpdatedAt: created,
			PinSet:    role != "admin",
			password:  password,
		}
	}
	return []*User{
		mk("Back Office", AdminPhone, AdminEmail, "SN", "admin", AdminPassword),
		mk("Awa Diop", CustomerPhone, CustomerEmail, "FR", "user", CustomerPassword),
		mk("Moussa Ndiaye", "+33600000003", "moussa.ndiaye@remit.test", "FR", "user", "moussa-password"),
		mk("Fatou Sow", "+33600000004", "fatou.sow@remit.test", "BE", "user", "fatou-password"),
	}
}

type txSeed struct {
	status    string
	ageHours  int
	amount    int64
	recipient string
	phone     string
}

// seedTransactions spreads transfers across senders, statuses and days.
// They are stored oldest first so listing order is meaningful to check.
func seedTransactions(users []*User) []*Transaction {
	seeds := []txSeed{
		{StatusCompleted, 96, 50000, "Mamadou Diallo", "+221771111111"},
		{StatusCancelled, 72, 120000, "Aminata Ba", "+221772222222"},
		{StatusFailed, 50, 15000, "Ibrahima Fall", "+221773333333"},
		{StatusWaiting, 26, 80000, "Khady Sarr", "+221774444444"},
		{StatusPending, 5, 250000, "Cheikh Gueye", "+221775555555"},
		{StatusPending, 1, 30000, "Ndeye Faye", "+221776666666"},
	}
	senders := users[1:]
	out := make([]*Transaction, 0, len(seeds))
	for i, s := range seeds {
		at := seedEpoch.Add(-time.Duration(s.ageHours) * time.Hour)
		sender := *senders[i%len(senders)]
		out = append(out, &Transaction{
			ID:               uuid.New(),
			Reference:        fmt.Sprintf("TRX-%s-%04d", at.Format("20060102"), i+1),
			Timestamp:        at.Format(naiveLayout),
			Status:           s.status,
			SenderCountry:    sender.Country,
			SenderCurrency:   "EUR",
			SenderAmount:     s.amount / 655,
			ReceiverCountry:  "SN",
			ReceiverCurrency: "XOF",
			ReceiverAmount:   s.amount,
			ConversionRate:   json.Number("655.957"),
			PaymentType:      "card",
			RecipientName:    s.recipient,
			RecipientPhone:   s.phone,
			RecipientType:    "mobile_money",
			IncludeFee:       i%2 == 0,
			FeeAmount:        s.amount / 100,
			Sender:           sender,
		})
	}
	return out
}

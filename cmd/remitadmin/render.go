package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/ggoodman/remitadmin-go/admin"
)

const timeLayout = "2006-01-02 15:04"

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func renderTransactions(w io.Writer, txs []admin.Transaction) error {
	if len(txs) == 0 {
		_, err := fmt.Fprintln(w, "No transactions")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tREFERENCE\tDATE\tSTATUS\tSENDER\tRECIPIENT\tAMOUNT")
	for _, tx := range txs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\t%s\t%s\n",
			tx.ID, tx.Reference, formatTime(tx.Timestamp.Time),
			tx.Status.Icon(), tx.Status,
			tx.Sender.FullName, tx.RecipientName,
			admin.FormatAmount(tx.ReceiverAmount, tx.ReceiverCurrency),
		)
	}
	return tw.Flush()
}

func renderTransaction(w io.Writer, tx *admin.Transaction) error {
	tw := newTable(w)
	row := func(k, v string) { fmt.Fprintf(tw, "%s:\t%s\n", k, v) }
	row("ID", tx.ID.String())
	row("Reference", tx.Reference)
	row("Date", formatTime(tx.Timestamp.Time))
	row("Status", tx.Status.Icon()+" "+string(tx.Status))
	row("Sender", fmt.Sprintf("%s (%s)", tx.Sender.FullName, tx.Sender.Phone))
	row("Sent", admin.FormatAmount(tx.SenderAmount, tx.SenderCurrency))
	row("Fee", admin.FormatAmount(tx.FeeAmount, tx.SenderCurrency))
	row("Rate", tx.ConversionRate.String())
	row("Recipient", fmt.Sprintf("%s (%s)", tx.RecipientName, tx.RecipientPhone))
	row("Received", admin.FormatAmount(tx.ReceiverAmount, tx.ReceiverCurrency))
	if tx.PaymentType != "" {
		row("Payment", tx.PaymentType)
	}
	if tx.Actionable() {
		row("Actions", "validate, cancel")
	}
	return tw.Flush()
}

func renderUser(w io.Writer, u *admin.User) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "ID:\t%s\n", u.ID)
	fmt.Fprintf(tw, "Name:\t%s\n", u.FullName)
	fmt.Fprintf(tw, "Email:\t%s\n", u.Email)
	fmt.Fprintf(tw, "Phone:\t%s\n", u.Phone)
	fmt.Fprintf(tw, "Role:\t%s\n", u.Role)
	return tw.Flush()
}

func renderUsers(w io.Writer, users []admin.User) error {
	if len(users) == 0 {
		_, err := fmt.Fprintln(w, "No users")
		return err
	}
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tNAME\tPHONE\tEMAIL\tCOUNTRY")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", u.ID, u.FullName, u.Phone, u.Email, u.Country)
	}
	return tw.Flush()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(timeLayout)
}

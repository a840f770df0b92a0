// Package notify delivers order notifications: the sinks implementing
// order.Notifier, the outbox relay that dispatches queued notifications after
// commit, and the daily due-orders report job.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/xenking/orderdesk/internal/domain/order"
	"github.com/xenking/orderdesk/internal/wire"
)

// Message is a rendered plain-text notification.
type Message struct {
	To      string
	Subject string
	Body    string
}

// recipient prefers the assembled customer email over the order snapshot.
func recipient(o *order.Order) string {
	if o.Customer != nil && o.Customer.Email != "" {
		return o.Customer.Email
	}
	return o.Contact.Email
}

// ConfirmationMessage renders the confirmation sent to the customer.
func ConfirmationMessage(o *order.Order) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Ciao %s, grazie per il tuo ordine!\n\n", o.Contact.Name)
	fmt.Fprintf(&b, "Ordine #%d confermato.\n", o.ID)
	fmt.Fprintf(&b, "Consegna: %s, %s\n", wire.Date(o.DeliveryDate), o.DeliveryLocation)
	fmt.Fprintf(&b, "Totale: EUR %s\n\n", wire.Money(o.Total))
	writeItems(&b, o.Items)
	if o.RequestNotes != "" {
		fmt.Fprintf(&b, "\nRichieste speciali: %s\n", o.RequestNotes)
	}
	return Message{
		To:      recipient(o),
		Subject: "Conferma del tuo ordine",
		Body:    b.String(),
	}
}

// StaffAlertMessage renders the new-order alert sent to staff.
func StaffAlertMessage(o *order.Order, staff string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Nuovo ordine #%d\n\n", o.ID)
	fmt.Fprintf(&b, "Cliente: %s %s\n", o.Contact.Name, o.Contact.Surname)
	fmt.Fprintf(&b, "Email: %s\n", o.Contact.Email)
	fmt.Fprintf(&b, "Telefono: %s\n", o.Contact.Phone)
	fmt.Fprintf(&b, "Consegna: %s, %s\n", wire.Date(o.DeliveryDate), o.DeliveryLocation)
	fmt.Fprintf(&b, "Totale: EUR %s\n\n", wire.Money(o.Total))
	writeItems(&b, o.Items)
	if o.RequestNotes != "" {
		fmt.Fprintf(&b, "\nRichieste cliente: %s\n", o.RequestNotes)
	}
	return Message{
		To:      staff,
		Subject: fmt.Sprintf("Nuovo ordine ricevuto #%d", o.ID),
		Body:    b.String(),
	}
}

// DailyReportMessage renders the due-orders report. An empty window still
// produces a report saying so.
func DailyReportMessage(day time.Time, days int, orders []order.Order, staff string) Message {
	var b strings.Builder
	if len(orders) == 0 {
		fmt.Fprintf(&b, "Nessun ordine in scadenza nei prossimi %d giorni.\n", days)
	} else {
		fmt.Fprintf(&b, "Ordini con consegna dal %s ai prossimi %d giorni: %d\n\n", wire.Date(day), days, len(orders))
		for i := range orders {
			o := &orders[i]
			fmt.Fprintf(&b, "%s | #%d | %s | %s %s | %s | %s | EUR %s\n",
				wire.Date(o.DeliveryDate), o.ID, o.DeliveryLocation,
				o.Contact.Name, o.Contact.Surname, o.Contact.Email, o.Contact.Phone,
				wire.Money(o.Total))
			for _, li := range o.Items {
				fmt.Fprintf(&b, "    %d x %s", li.Quantity, li.ProductName)
				if li.ConfigurationNotes != "" {
					fmt.Fprintf(&b, " (%s)", li.ConfigurationNotes)
				}
				b.WriteByte('\n')
			}
			if o.RequestNotes != "" {
				fmt.Fprintf(&b, "    Note: %s\n", o.RequestNotes)
			}
		}
	}
	return Message{
		To:      staff,
		Subject: "Resoconto ordini in scadenza",
		Body:    b.String(),
	}
}

func writeItems(b *strings.Builder, items []order.LineItem) {
	b.WriteString("Prodotti:\n")
	for _, li := range items {
		fmt.Fprintf(b, "- %d x %s, EUR %s", li.Quantity, li.ProductName, wire.Money(li.LineTotal()))
		if li.ConfigurationNotes != "" {
			fmt.Fprintf(b, " (%s)", li.ConfigurationNotes)
		}
		b.WriteByte('\n')
	}
}

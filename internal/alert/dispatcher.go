package alert

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	apperrors "github.com/modelminds/gradeboard/internal/errors"
	"github.com/modelminds/gradeboard/internal/report"
	"github.com/modelminds/gradeboard/internal/resilience"
)

// Subject used for both student and teacher notifications.
const Subject = "Academic Performance Alert"

// sendTimeout bounds one delivery attempt. Expiry is reported as a
// transport failure.
const sendTimeout = 10 * time.Second

// Dispatcher formats notifications and hands them to the mail transport.
type Dispatcher struct {
	transport Transport
	from      string
}

// NewDispatcher creates a dispatcher sending from the configured address.
func NewDispatcher(transport Transport, from string) *Dispatcher {
	return &Dispatcher{transport: transport, from: from}
}

// Notify delivers one plain-text message to one recipient. A rejected
// authentication, delivery failure, or timeout surfaces as a transport
// error; it is never swallowed. One retry with backoff is applied.
func (d *Dispatcher) Notify(ctx context.Context, recipient, subject, body string) error {
	msg := Message{
		From:    d.from,
		To:      recipient,
		Subject: subject,
		Body:    body,
	}

	err := resilience.RetryWithConfig(ctx, resilience.MailRetryConfig(), func() error {
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		defer cancel()

		if err := d.transport.Send(sendCtx, msg); err != nil {
			return apperrors.NewTransportError("mail delivery failed", err)
		}
		return nil
	})
	if err != nil {
		return apperrors.ToAppError(err)
	}
	return nil
}

// StudentBody formats the at-risk notification for one student: the
// student's name and every risk reason on its own line.
func StudentBody(name string, reasons []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	b.WriteString("We noticed that your predicted final score is below 70. ")
	b.WriteString("Based on our analysis, the following factors may be contributing to this:\n\n")
	for _, reason := range reasons {
		fmt.Fprintf(&b, "- %s\n", reason)
	}
	b.WriteString("\nWe recommend addressing these areas to improve your performance.\n\n")
	b.WriteString("Best,\nModel Minds Team\n")
	return b.String()
}

// TeacherBody formats the class-wide notification: every at-risk student's
// name, identifier, and predicted score in a tabular rendering.
func TeacherBody(threshold int, atRisk []report.Prediction) string {
	var b strings.Builder
	b.WriteString("Hello Teacher,\n\n")
	fmt.Fprintf(&b, "This is in regards to the students who are estimated to perform lower than %d this semester according to our Grade Prediction system:\n\n", threshold)

	tw := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Student Name\tStudent ID\tPredicted Score")
	for _, p := range atRisk {
		fmt.Fprintf(tw, "%s\t%s\t%.2f\n", p.Record.FirstName, p.Record.StudentID, p.PredictedScore)
	}
	tw.Flush()

	b.WriteString("\nWe recommend reaching out to these students asking them to improve.\n\n")
	b.WriteString("Best,\nModel Minds Team\n")
	return b.String()
}

package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"text/template"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/garantia/server/internal/model"
)

// Notice kinds, used as metric labels.
const (
	KindCreated  = "created"
	KindAssigned = "assigned"
	KindReminder = "reminder"
)

var notificationsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "warranty_notifications_total",
		Help: "Outbound warranty emails by kind and outcome.",
	},
	[]string{"kind", "outcome"},
)

var bodies = template.Must(template.New("notices").Funcs(template.FuncMap{
	"date": func(t interface{ Format(string) string }) string { return t.Format("2006-01-02") },
}).Parse(`
{{define "created"}}A new warranty has been created:

Customer: {{.Claim.CustomerName}}
Phone: {{.Claim.CustomerPhone}}
Product: {{.Claim.Brand}} {{.Claim.Model}}
Serial: {{.Claim.Serial}}
Damage Description: {{.Claim.DamageDescription}}

Please assign this warranty to a seller.

Link to manage warranty: {{.Link}}
{{end}}
{{define "assigned"}}A new warranty has been assigned to you:

Customer: {{.Claim.CustomerName}}
Phone: {{.Claim.CustomerPhone}}
Product: {{.Claim.Brand}} {{.Claim.Model}}
Serial: {{.Claim.Serial}}
Damage Description: {{.Claim.DamageDescription}}

Please manage this warranty as soon as possible.

Link to manage warranty: {{.Link}}
{{end}}
{{define "reminder"}}You have a pending warranty that requires your attention:

Customer: {{.Claim.CustomerName}}
Phone: {{.Claim.CustomerPhone}}
Product: {{.Claim.Brand}} {{.Claim.Model}}
Serial: {{.Claim.Serial}}
Assignment Date: {{with .Claim.AssignedAt}}{{date .}}{{else}}-{{end}}

Please manage this warranty as soon as possible.

Link to manage warranty: {{.Link}}
{{end}}
`))

// Dispatcher renders claim notices and hands them to a Sender
type Dispatcher struct {
	sender Sender
	from   string
	admins []string
	appURL string
	logger *slog.Logger
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(sender Sender, from string, adminEmails []string, appURL string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		sender: sender,
		from:   from,
		admins: adminEmails,
		appURL: strings.TrimRight(appURL, "/"),
		logger: logger,
	}
}

type noticeData struct {
	Claim model.Claim
	Link  string
}

// ClaimCreated notifies every admin address about a new claim.
// Returns the joined failures; a nil error means every send succeeded.
func (d *Dispatcher) ClaimCreated(ctx context.Context, c model.Claim) error {
	if len(d.admins) == 0 {
		d.logger.WarnContext(ctx, "no admin emails configured, skipping new warranty notice",
			slog.String("warranty_id", c.ID.String()))
		return nil
	}
	subject := "New Warranty Created - " + c.CustomerName
	var errs []error
	for _, to := range d.admins {
		if err := d.deliver(ctx, KindCreated, to, subject, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// ClaimAssigned notifies the seller a claim was assigned to them
func (d *Dispatcher) ClaimAssigned(ctx context.Context, c model.Claim, seller model.User) error {
	return d.deliver(ctx, KindAssigned, seller.Email, "New Warranty Assigned - "+c.CustomerName, c)
}

// Reminder reminds the seller about a claim still pending
func (d *Dispatcher) Reminder(ctx context.Context, c model.Claim, seller model.User) error {
	return d.deliver(ctx, KindReminder, seller.Email, "Reminder: Pending Warranty - "+c.CustomerName, c)
}

func (d *Dispatcher) deliver(ctx context.Context, kind, to, subject string, c model.Claim) error {
	text, err := render(kind, noticeData{Claim: c, Link: d.link(c)})
	if err != nil {
		notificationsTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("render %s notice: %w", kind, err)
	}

	res := d.sender.Send(ctx, Message{
		To:      to,
		From:    d.from,
		Subject: subject,
		Text:    text,
		HTML:    toHTML(text),
	})
	if !res.Success {
		notificationsTotal.WithLabelValues(kind, "error").Inc()
		if res.Err == nil {
			res.Err = errors.New("send failed")
		}
		return fmt.Errorf("send %s notice to %s: %w", kind, MaskEmail(to), res.Err)
	}

	notificationsTotal.WithLabelValues(kind, "sent").Inc()
	d.logger.InfoContext(ctx, "notice sent",
		slog.String("kind", kind),
		slog.String("to", MaskEmail(to)),
		slog.String("warranty_id", c.ID.String()),
	)
	return nil
}

func (d *Dispatcher) link(c model.Claim) string {
	return d.appURL + "/dashboard/warranties/" + c.ID.String()
}

func render(kind string, data noticeData) (string, error) {
	var buf bytes.Buffer
	if err := bodies.ExecuteTemplate(&buf, kind, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// toHTML escapes text and turns newlines into <br>
func toHTML(text string) string {
	return strings.ReplaceAll(html.EscapeString(text), "\n", "<br>")
}

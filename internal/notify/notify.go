package notify

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	userrepo "github.com/yungbote/inkpress-backend/internal/data/repos/user"
	"github.com/yungbote/inkpress-backend/internal/platform/dbctx"
	"github.com/yungbote/inkpress-backend/internal/platform/logger"
	"github.com/yungbote/inkpress-backend/internal/platform/sendgrid"
)

// Notifier sends the optional run-completion email. Every method is fire and
// forget: delivery problems are logged and never reach the pipeline.
type Notifier interface {
	RunCompleted(ctx context.Context, userID uuid.UUID, reportID, title string)
	RunFailed(ctx context.Context, userID uuid.UUID, reportID, title, reason string)
}

type notifier struct {
	log         *logger.Logger
	users       userrepo.UserRepo
	mail        sendgrid.Client
	frontendURL string
}

// NewNotifier wires the completion mailer. mail may be nil when SendGrid is
// not configured; the notifier then degrades to a no-op.
func NewNotifier(baseLog *logger.Logger, users userrepo.UserRepo, mail sendgrid.Client, frontendURL string) (Notifier, error) {
	if baseLog == nil {
		return nil, fmt.Errorf("baseLog is nil")
	}
	if users == nil {
		return nil, fmt.Errorf("users repo is nil")
	}
	return &notifier{
		log:         baseLog.With("service", "Notifier"),
		users:       users,
		mail:        mail,
		frontendURL: frontendURL,
	}, nil
}

func (n *notifier) RunCompleted(ctx context.Context, userID uuid.UUID, reportID, title string) {
	subject := fmt.Sprintf("Your analysis of %q is ready", title)
	text := fmt.Sprintf(
		"Good news! The full analysis of %q has finished.\n\nReport ID: %s\n%s\n",
		title, reportID, n.reportLink(reportID),
	)
	n.send(ctx, userID, reportID, subject, text)
}

func (n *notifier) RunFailed(ctx context.Context, userID uuid.UUID, reportID, title, reason string) {
	subject := fmt.Sprintf("Analysis of %q could not be completed", title)
	text := fmt.Sprintf(
		"The analysis of %q stopped before finishing: %s\n\nReport ID: %s\nYou can re-submit the manuscript at any time.\n",
		title, reason, reportID,
	)
	n.send(ctx, userID, reportID, subject, text)
}

func (n *notifier) send(ctx context.Context, userID uuid.UUID, reportID, subject, text string) {
	if n.mail == nil {
		return
	}
	u, err := n.users.GetByID(dbctx.Context{Ctx: ctx}, userID)
	if err != nil {
		n.log.Warn("Completion email skipped, owner lookup failed", "report_id", reportID, "error", err)
		return
	}
	res, err := n.mail.Send(ctx, sendgrid.SendEmailRequest{
		To:         []sendgrid.EmailAddress{{Email: u.Email, Name: u.PenName}},
		Subject:    subject,
		Text:       text,
		Categories: []string{"run-complete"},
	})
	if err != nil {
		n.log.Warn("Completion email failed", "report_id", reportID, "error", err)
		return
	}
	n.log.Info("Completion email sent", "report_id", reportID, "status", res.StatusCode)
}

func (n *notifier) reportLink(reportID string) string {
	if n.frontendURL == "" {
		return ""
	}
	return fmt.Sprintf("View it here: %s/reports/%s", n.frontendURL, reportID)
}

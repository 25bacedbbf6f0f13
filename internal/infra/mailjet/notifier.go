// Package mailjet delivers group notifications by email. Recipients are
// the group's members unless the payload names them.
package mailjet

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"familybook/internal/domain/notices"
	"familybook/internal/logging"
	"familybook/internal/store"

	mailjet "github.com/mailjet/mailjet-apiv3-go"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type sender func(msgs *mailjet.MessagesV31) error

type Notifier struct {
	db     *gorm.DB
	from   string
	send   sender
	enable bool
}

// New returns a notifier. With empty keys messages are only logged.
func New(db *gorm.DB, publicKey, privateKey, from string) *Notifier {
	n := &Notifier{db: db, from: from}
	if publicKey != "" && privateKey != "" {
		clt := mailjet.NewMailjetClient(publicKey, privateKey)
		n.send = func(msgs *mailjet.MessagesV31) error {
			_, err := clt.SendMailV31(msgs)
			return err
		}
		n.enable = true
	}
	return n
}

// Notify never fails the caller; problems are logged.
func (n *Notifier) Notify(ctx context.Context, groupID string, kind notices.Kind, payload notices.Payload) {
	log := logging.With(logrus.Fields{"group_id": groupID, "kind": kind})

	emails, err := n.recipients(ctx, groupID, payload)
	if err != nil {
		log.WithError(err).Warn("could not resolve notification recipients")
		return
	}
	if len(emails) == 0 {
		log.Debug("no recipients for notification")
		return
	}
	if !n.enable {
		log.WithField("recipients", len(emails)).Info("notification (mail disabled)")
		return
	}

	msgs := n.message(kind, payload, emails)
	if err := n.send(&msgs); err != nil {
		log.WithError(err).Warn("could not send notification")
		return
	}
	log.WithField("recipients", len(emails)).Info("notification sent")
}

func (n *Notifier) recipients(ctx context.Context, groupID string, payload notices.Payload) ([]string, error) {
	if v, ok := payload[notices.KeyEmails]; ok {
		if emails, ok := v.([]string); ok {
			return emails, nil
		}
	}
	return store.MemberEmails(n.db.WithContext(ctx), groupID)
}

func (n *Notifier) message(kind notices.Kind, payload notices.Payload, emails []string) mailjet.MessagesV31 {
	to := make(mailjet.RecipientsV31, 0, len(emails))
	for _, e := range emails {
		to = append(to, mailjet.RecipientV31{Email: e})
	}
	info := []mailjet.InfoMessagesV31{{
		From:     &mailjet.RecipientV31{Email: n.from, Name: "Family Book"},
		To:       &to,
		Subject:  notices.Subject(kind),
		TextPart: Body(kind, payload),
		CustomID: string(kind),
	}}
	return mailjet.MessagesV31{Info: info}
}

// Body renders the plain-text part of a notification.
func Body(kind notices.Kind, payload notices.Payload) string {
	var b strings.Builder
	b.WriteString(notices.Subject(kind))
	b.WriteString(".\n")

	keys := make([]string, 0, len(payload))
	for k := range payload {
		if k != notices.KeyEmails {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %v\n", strings.ReplaceAll(k, "_", " "), payload[k])
	}
	return b.String()
}

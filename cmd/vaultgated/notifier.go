package main

import (
	"context"
	"log"
)

// logNotifier is a minimal magiclink.Notifier that logs the link
// instead of emailing it. A real deployment swaps this for an SMTP or
// transactional-email-API backed implementation; nothing in this repo
// depends on a concrete mailer, so the composition root is the only
// place that needs to know which one is wired in.
type logNotifier struct{}

func (logNotifier) SendMagicLink(ctx context.Context, tenantID, email, link string) error {
	log.Printf("magic link for tenant=%s email=%s: %s", tenantID, email, link)
	return nil
}

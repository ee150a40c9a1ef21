// Package queue defines the email-delivery events exchanged over the message
// broker and the background consumer that acts on them. Handlers never block
// on SMTP: they publish an event and move on.
package queue

// EmailKind selects which mail a requested event produces.
type EmailKind string

const (
	// EmailVerify requests an email-verification mail.
	EmailVerify EmailKind = "VERIFY"
	// EmailReset requests a password-reset mail.
	EmailReset EmailKind = "RESET"
)

// emailQueueName is the durable queue shared by publisher and consumer.
const emailQueueName = "auth.email"

// EmailRequestedEvent is published whenever an out-of-band token has been
// stored and the matching mail must go out. Token carries the raw (unhashed)
// one-time token; only its digest ever reaches the database.
type EmailRequestedEvent struct {
	Kind        EmailKind `json:"kind"`
	UserID      uint64    `json:"user_id"`
	Email       string    `json:"email"`
	Token       string    `json:"token"`
	RequestedAt string    `json:"requested_at"`
}

// Package queue defines notification payloads exchanged over the
// message broker. Email and SMS delivery are external collaborators;
// the application only publishes events describing what should be sent.
package queue

// Notification kinds.
const (
	KindVerificationEmail  = "email.verification"
	KindWelcomeEmail       = "email.welcome"
	KindPasswordResetEmail = "email.password_reset"
	KindAccountLockedEmail = "email.account_locked"
	KindVerificationSMS    = "sms.verification"
)

// NotificationEvent is published to the auth.notifications queue when
// an email or SMS should be delivered. Token/Code carry the secret the
// message embeds (verification link token, reset token, SMS code);
// consumers are trusted infrastructure.
type NotificationEvent struct {
	Kind      string `json:"kind"`
	UserID    string `json:"user_id"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	Token     string `json:"token,omitempty"`
	Code      string `json:"code,omitempty"`
	LockUntil string `json:"lock_until,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Package notify defines the NotificationDispatcher collaborator
// interface spec §6 names: notify(user, event, payload), fire-and-
// forget, best-effort delivery. No business logic lives here — no
// templates, no channel routing, no retries — the same narrow posture
// chainntfs.go takes toward chain events: a small Register/notify
// surface that callers depend on by interface, with the actual
// delivery mechanics (email, SMS, push) left to whatever concrete
// implementation is wired in at startup.
//
// The event taxonomy is grounded on property_notification_service.rs's
// NotificationType/NotificationChannel/NotificationPriority enums,
// translated to Go's idiom of small typed string constants rather than
// a derive-heavy Rust enum.
package notify

import (
	"context"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Channel is the delivery medium for a notification.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelInApp    Channel = "in_app"
	ChannelPush     Channel = "push"
	ChannelWhatsApp Channel = "whatsapp"
)

// Priority hints at how urgently a notification should be delivered;
// a concrete dispatcher may use it to pick a channel or queue.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Event is the tagged enum of notification kinds this system raises.
// Each corresponds to a moment a module wants to tell a user
// something, independent of how that message is ultimately delivered.
type Event string

const (
	EventOrderPlaced                  Event = "order_placed"
	EventOrderPaid                    Event = "order_paid"
	EventOrderDelivered               Event = "order_delivered"
	EventOrderConfirmed               Event = "order_confirmed"
	EventOrderDisputed                Event = "order_disputed"
	EventOrderRefunded                Event = "order_refunded"
	EventJobPosted                    Event = "job_posted"
	EventJobAccepted                  Event = "job_accepted"
	EventJobCompleted                 Event = "job_completed"
	EventPropertyAssigned             Event = "property_assigned"
	EventPropertyVerificationPending  Event = "property_verification_pending"
	EventPropertyVerificationApproved Event = "property_verification_approved"
	EventPropertyVerificationRejected Event = "property_verification_rejected"
	EventPropertyLive                 Event = "property_live"
	EventDocumentRequired             Event = "document_required"
	EventPaymentDue                   Event = "payment_due"
	EventSubscriptionExpiringSoon     Event = "subscription_expiring_soon"
	EventSystemAlert                  Event = "system_alert"
	EventMarketingPromo               Event = "marketing_promo"
)

// Notification is the payload handed to a Dispatcher: who it's for,
// what happened, an arbitrary event-specific data bag, and a priority
// hint.
type Notification struct {
	UserID   uuid.UUID
	Event    Event
	Priority Priority
	Data     map[string]interface{}
}

// Dispatcher is the NotificationDispatcher collaborator interface
// spec §6 names. Notify returns immediately; delivery is best-effort
// and happens out of band from the caller's perspective.
type Dispatcher interface {
	Notify(ctx context.Context, n Notification) error
}

var log = logrus.WithField("subsystem", "notify")

// LogDispatcher is a Dispatcher that records every notification to the
// structured log rather than delivering it anywhere. It exists so the
// rest of the system has something to depend on before a real email/
// SMS/push integration is wired in, and as the dispatcher used in
// tests that only care that a notification was raised, not where it
// ended up.
type LogDispatcher struct{}

func (LogDispatcher) Notify(ctx context.Context, n Notification) error {
	log.WithFields(logrus.Fields{
		"user_id":  n.UserID,
		"event":    n.Event,
		"priority": n.Priority,
	}).Info("notification dispatched")
	return nil
}

var _ Dispatcher = LogDispatcher{}

package model

// EventKind classifies a payload handed to the delivery router.
type EventKind string

const (
	KindMessage             EventKind = "message"
	KindMessageNotification EventKind = "message-notification"
	KindGenericNotification EventKind = "generic-notification"
)

// Wire event names exchanged with client sessions.
const (
	// outbound
	EventUsersOnline     = "getUsersOnLine"
	EventGetMessage      = "getMessage"
	EventNotification    = "notification"
	EventGetNotification = "getNotification"
	EventMessageSent     = "messageSent"
	EventError           = "error"

	// inbound
	EventIdentify         = "identify"
	EventSendMessage      = "sendMessage"
	EventSendNotification = "sendNotification"
	EventMarkRead         = "markRead"
)

// OutboundEvent maps a kind to the event name the client listens for.
func (k EventKind) OutboundEvent() (string, bool) {
	switch k {
	case KindMessage:
		return EventGetMessage, true
	case KindMessageNotification:
		return EventNotification, true
	case KindGenericNotification:
		return EventGetNotification, true
	}
	return "", false
}

// ErrorPayload is the body of an "error" event.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

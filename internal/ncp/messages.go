package ncp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MessageType discriminates control protocol frames.
type MessageType int

// Frame kinds recognised on the control channel.
const (
	MessageTypeCommand         MessageType = 0
	MessageTypeCommandResponse MessageType = 1
	MessageTypeNotification    MessageType = 2
	MessageTypeSubscription    MessageType = 4
	MessageTypeError           MessageType = 5
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeCommand:
		return "command"
	case MessageTypeCommandResponse:
		return "command_response"
	case MessageTypeNotification:
		return "notification"
	case MessageTypeSubscription:
		return "subscription"
	case MessageTypeError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// Command is one method invocation inside a command message.
type Command struct {
	Handle    uint32    `json:"handle"`
	OID       uint64    `json:"oid"`
	MethodID  ElementID `json:"methodId"`
	Arguments any       `json:"arguments"`
}

// CommandMessage is the outbound frame carrying one or more commands.
type CommandMessage struct {
	MessageType MessageType `json:"messageType"`
	Commands    []Command   `json:"commands"`
}

// SubscriptionMessage replaces the device-side subscription set.
// The same shape is used for the device's acknowledgement.
type SubscriptionMessage struct {
	MessageType   MessageType `json:"messageType"`
	Subscriptions []uint64    `json:"subscriptions"`
}

// PropertyArgs are the arguments of Get.
type PropertyArgs struct {
	ID ElementID `json:"id"`
}

// SetPropertyArgs are the arguments of Set. A nil Value writes null.
type SetPropertyArgs struct {
	ID    ElementID `json:"id"`
	Value any       `json:"value"`
}

// MemberDescriptorArgs are the arguments of GetMemberDescriptors.
type MemberDescriptorArgs struct {
	Recurse bool `json:"recurse"`
}

// FindMembersArgs are the arguments of FindMembersByClassId.
type FindMembersArgs struct {
	ClassID        ClassID `json:"classId"`
	IncludeDerived bool    `json:"includeDerived"`
	Recurse        bool    `json:"recurse"`
}

// MethodResult is the outcome of one command. Value is left raw so callers
// decode it into whatever type the method returns.
type MethodResult struct {
	Status       MethodStatus    `json:"status"`
	Value        json.RawMessage `json:"value,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

// Decode unmarshals the result value into v.
func (r MethodResult) Decode(v any) error {
	if len(r.Value) == 0 {
		return fmt.Errorf("%w: result has no value", ErrDecodingFailed)
	}
	if err := json.Unmarshal(r.Value, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecodingFailed, err)
	}
	return nil
}

// Response pairs a result with the handle of the command that produced it.
type Response struct {
	Handle uint32       `json:"handle"`
	Result MethodResult `json:"result"`
}

// PropertyChangedEventData is the payload of a PropertyChanged event.
type PropertyChangedEventData struct {
	PropertyID        ElementID          `json:"propertyId"`
	ChangeType        PropertyChangeType `json:"changeType"`
	Value             json.RawMessage    `json:"value"`
	SequenceItemIndex *int               `json:"sequenceItemIndex"`
}

// HasValue reports whether the event carries a non-null value.
func (d PropertyChangedEventData) HasValue() bool {
	v := bytes.TrimSpace(d.Value)
	return len(v) > 0 && !bytes.Equal(v, []byte("null"))
}

// Notification is one event pushed by the device.
type Notification struct {
	OID       uint64                   `json:"oid"`
	EventID   ElementID                `json:"eventId"`
	EventData PropertyChangedEventData `json:"eventData"`
}

// Inbound is a decoded device-to-client frame. The concrete type is one of
// *CommandResponseMessage, *NotificationMessage,
// *SubscriptionResponseMessage, *ErrorMessage or *UnknownMessage.
type Inbound interface {
	Kind() MessageType
	inbound()
}

// CommandResponseMessage carries results for previously sent commands.
type CommandResponseMessage struct {
	Responses []Response `json:"responses"`
}

// NotificationMessage carries one or more pushed events.
type NotificationMessage struct {
	Notifications []Notification `json:"notifications"`
}

// SubscriptionResponseMessage is the device's view of the subscription set.
type SubscriptionResponseMessage struct {
	Subscriptions []uint64 `json:"subscriptions"`
}

// ErrorMessage is a protocol-level error not tied to any command.
type ErrorMessage struct {
	Status       MethodStatus `json:"status"`
	ErrorMessage string       `json:"errorMessage"`
}

// UnknownMessage is a well-formed frame with an unrecognised messageType.
type UnknownMessage struct {
	Type MessageType
	Raw  json.RawMessage
}

func (*CommandResponseMessage) Kind() MessageType      { return MessageTypeCommandResponse }
func (*NotificationMessage) Kind() MessageType         { return MessageTypeNotification }
func (*SubscriptionResponseMessage) Kind() MessageType { return MessageTypeSubscription }
func (*ErrorMessage) Kind() MessageType                { return MessageTypeError }
func (m *UnknownMessage) Kind() MessageType            { return m.Type }

func (*CommandResponseMessage) inbound()      {}
func (*NotificationMessage) inbound()         {}
func (*SubscriptionResponseMessage) inbound() {}
func (*ErrorMessage) inbound()                {}
func (*UnknownMessage) inbound()              {}

func (e *ErrorMessage) Error() string {
	return fmt.Sprintf("status %d: %s", e.Status, e.ErrorMessage)
}

// DecodeInbound parses one frame. Invalid JSON or a missing messageType
// returns an error wrapping ErrMalformedMessage.
func DecodeInbound(data []byte) (Inbound, error) {
	var header struct {
		MessageType *MessageType `json:"messageType"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedMessage, err)
	}
	if header.MessageType == nil {
		return nil, fmt.Errorf("%w: missing messageType", ErrMalformedMessage)
	}

	var msg Inbound
	switch *header.MessageType {
	case MessageTypeCommandResponse:
		msg = &CommandResponseMessage{}
	case MessageTypeNotification:
		msg = &NotificationMessage{}
	case MessageTypeSubscription:
		msg = &SubscriptionResponseMessage{}
	case MessageTypeError:
		msg = &ErrorMessage{}
	default:
		return &UnknownMessage{Type: *header.MessageType, Raw: append(json.RawMessage(nil), data...)}, nil
	}

	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("%w: %s frame: %w", ErrMalformedMessage, *header.MessageType, err)
	}
	return msg, nil
}

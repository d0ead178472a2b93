package ncp

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name     string
		frame    string
		wantKind MessageType
		wantErr  error
		check    func(t *testing.T, msg Inbound)
	}{
		{
			name:     "command response",
			frame:    `{"messageType":1,"responses":[{"handle":7,"result":{"status":200,"value":"x"}}]}`,
			wantKind: MessageTypeCommandResponse,
			check: func(t *testing.T, msg Inbound) {
				m := msg.(*CommandResponseMessage)
				if len(m.Responses) != 1 || m.Responses[0].Handle != 7 {
					t.Fatalf("responses = %+v", m.Responses)
				}
				if string(m.Responses[0].Result.Value) != `"x"` {
					t.Errorf("value = %s", m.Responses[0].Result.Value)
				}
			},
		},
		{
			name: "notification with sequence index",
			frame: `{"messageType":2,"notifications":[{"oid":12,"eventId":{"level":1,"index":1},` +
				`"eventData":{"propertyId":{"level":3,"index":2},"changeType":1,"value":null,"sequenceItemIndex":4}}]}`,
			wantKind: MessageTypeNotification,
			check: func(t *testing.T, msg Inbound) {
				n := msg.(*NotificationMessage).Notifications[0]
				if n.OID != 12 || n.EventID != EventPropertyChanged {
					t.Errorf("notification = %+v", n)
				}
				if n.EventData.ChangeType != SequenceItemAdded {
					t.Errorf("changeType = %v", n.EventData.ChangeType)
				}
				if n.EventData.SequenceItemIndex == nil || *n.EventData.SequenceItemIndex != 4 {
					t.Errorf("sequenceItemIndex = %v", n.EventData.SequenceItemIndex)
				}
				if n.EventData.HasValue() {
					t.Error("HasValue() = true for null value")
				}
			},
		},
		{
			name:     "subscription response",
			frame:    `{"messageType":4,"subscriptions":[5,6]}`,
			wantKind: MessageTypeSubscription,
			check: func(t *testing.T, msg Inbound) {
				if got := msg.(*SubscriptionResponseMessage).Subscriptions; !reflect.DeepEqual(got, []uint64{5, 6}) {
					t.Errorf("subscriptions = %v", got)
				}
			},
		},
		{
			name:     "error",
			frame:    `{"messageType":5,"status":400,"errorMessage":"bad"}`,
			wantKind: MessageTypeError,
			check: func(t *testing.T, msg Inbound) {
				m := msg.(*ErrorMessage)
				if m.Status != StatusBadCommandFormat || m.ErrorMessage != "bad" {
					t.Errorf("error = %+v", m)
				}
			},
		},
		{
			name:     "unknown type is its own variant",
			frame:    `{"messageType":7,"subscriptions":[]}`,
			wantKind: MessageType(7),
			check: func(t *testing.T, msg Inbound) {
				if _, ok := msg.(*UnknownMessage); !ok {
					t.Errorf("got %T, want *UnknownMessage", msg)
				}
			},
		},
		{
			name:    "invalid json",
			frame:   `{"messageType":`,
			wantErr: ErrMalformedMessage,
		},
		{
			name:    "missing discriminant",
			frame:   `{"responses":[]}`,
			wantErr: ErrMalformedMessage,
		},
		{
			name:    "wrong shape for kind",
			frame:   `{"messageType":1,"responses":{"handle":1}}`,
			wantErr: ErrMalformedMessage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeInbound([]byte(tt.frame))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("DecodeInbound() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeInbound() error = %v", err)
			}
			if msg.Kind() != tt.wantKind {
				t.Errorf("Kind() = %v, want %v", msg.Kind(), tt.wantKind)
			}
			if tt.check != nil {
				tt.check(t, msg)
			}
		})
	}
}

func TestElementIDString(t *testing.T) {
	if got := (ElementID{Level: 3, Index: 2}).String(); got != "3p2" {
		t.Errorf("String() = %q, want 3p2", got)
	}
	if MethodGet == MethodSet {
		t.Error("MethodGet == MethodSet")
	}
	if MethodGet != (ElementID{1, 1}) {
		t.Error("ElementID value equality broken")
	}
}

func TestClassIDDerivesFrom(t *testing.T) {
	tests := []struct {
		class ClassID
		base  ClassID
		want  bool
	}{
		{ClassReceiverMonitor, ClassReceiverMonitor, true},
		{ClassID{1, 2, 2, 1, 5}, ClassReceiverMonitor, true},
		{ClassSenderMonitor, ClassReceiverMonitor, false},
		{ClassID{1, 2}, ClassReceiverMonitor, false},
		{ClassID{1, 1, 3}, ClassBlock, true},
	}
	for _, tt := range tests {
		if got := tt.class.DerivesFrom(tt.base); got != tt.want {
			t.Errorf("%s.DerivesFrom(%s) = %v, want %v", tt.class, tt.base, got, tt.want)
		}
	}
	if ClassReceiverMonitor.String() != "1.2.2.1" {
		t.Errorf("String() = %q", ClassReceiverMonitor.String())
	}
	if !ClassBlock.IsBlock() || ClassReceiverMonitor.IsBlock() {
		t.Error("IsBlock() misclassifies")
	}
}

func TestMethodStatusIsError(t *testing.T) {
	tests := []struct {
		status MethodStatus
		want   bool
	}{
		{StatusOK, false},
		{StatusPropertyDeprecated, false},
		{StatusMethodDeprecated, false},
		{StatusBadCommandFormat, true},
		{StatusBadOID, true},
		{StatusDeviceError, true},
		{StatusTimeout, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsError(); got != tt.want {
			t.Errorf("MethodStatus(%d).IsError() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

// stubCommander answers every command from a fixed result.
type stubCommander struct {
	result MethodResult
	err    error
	got    []Command
}

func (s *stubCommander) SendCommand(_ context.Context, oid uint64, method ElementID, args any) (MethodResult, error) {
	s.got = append(s.got, Command{OID: oid, MethodID: method, Arguments: args})
	return s.result, s.err
}

func TestInvokeHelpers(t *testing.T) {
	ctx := context.Background()

	t.Run("member descriptors", func(t *testing.T) {
		c := &stubCommander{result: MethodResult{Status: StatusOK, Value: json.RawMessage(
			`[{"role":"rx-monitor-01","oid":12,"constantOid":true,"classId":[1,2,2,1],"userLabel":null,"owner":1}]`)}}

		members, err := FindMembersByClassID(ctx, c, RootOID, ClassReceiverMonitor)
		if err != nil {
			t.Fatalf("FindMembersByClassID() error = %v", err)
		}
		if len(members) != 1 || members[0].OID != 12 || members[0].Label() != "" {
			t.Fatalf("members = %+v", members)
		}
		if !members[0].ClassID.DerivesFrom(ClassReceiverMonitor) {
			t.Errorf("classId = %v", members[0].ClassID)
		}

		args, ok := c.got[0].Arguments.(FindMembersArgs)
		if !ok || !args.IncludeDerived || !args.Recurse || c.got[0].MethodID != MethodFindMembersByClassID {
			t.Errorf("command = %+v", c.got[0])
		}
	})

	t.Run("null user label", func(t *testing.T) {
		c := &stubCommander{result: MethodResult{Status: StatusOK, Value: json.RawMessage(`null`)}}
		label, err := UserLabel(ctx, c, RootOID)
		if err != nil || label != "" {
			t.Errorf("UserLabel() = %q, %v", label, err)
		}
	})

	t.Run("decode failure", func(t *testing.T) {
		c := &stubCommander{result: MethodResult{Status: StatusOK, Value: json.RawMessage(`"text"`)}}
		_, err := GetProperty[int](ctx, c, RootOID, PropertyOID)
		if !errors.Is(err, ErrDecodingFailed) {
			t.Errorf("error = %v, want ErrDecodingFailed", err)
		}
	})

	t.Run("missing value", func(t *testing.T) {
		c := &stubCommander{result: MethodResult{Status: StatusOK}}
		_, err := Touchpoints(ctx, c, 12)
		if !errors.Is(err, ErrDecodingFailed) {
			t.Errorf("error = %v, want ErrDecodingFailed", err)
		}
	})

	t.Run("command error passes through", func(t *testing.T) {
		want := &MethodError{Handle: 3, Status: StatusReadonly}
		c := &stubCommander{err: want}
		err := SetProperty(ctx, c, 12, PropertyUserLabel, "x")
		if !errors.Is(err, ErrCommandFailed) {
			t.Errorf("error = %v, want ErrCommandFailed", err)
		}
		args := c.got[0].Arguments.(SetPropertyArgs)
		if args.Value != "x" || c.got[0].MethodID != MethodSet {
			t.Errorf("command = %+v", c.got[0])
		}
	})
}

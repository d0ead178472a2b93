package monitor

import (
	"errors"
	"testing"

	"github.com/nerrad567/ncp-monitor/internal/infrastructure/mqtt"
)

type recordingRediscoverer struct {
	ids []string
	err error
}

func (r *recordingRediscoverer) Rediscover(id string) error {
	r.ids = append(r.ids, id)
	return r.err
}

func TestCommandHandler(t *testing.T) {
	topics := mqtt.Topics{}

	tests := []struct {
		name    string
		topic   string
		err     error
		wantIDs []string
		wantErr bool
	}{
		{"all devices", "ncpmonitor/command/rediscover", nil, []string{""}, false},
		{"one device", "ncpmonitor/command/rediscover/dev-1", nil, []string{"dev-1"}, false},
		{"unknown device", "ncpmonitor/command/rediscover/nope", ErrUnknownDevice, []string{"nope"}, true},
		{"unknown action", "ncpmonitor/command/reboot", nil, nil, true},
		{"outside tree", "ncpmonitor/health", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &recordingRediscoverer{err: tt.err}
			err := CommandHandler(topics, r, nil)(tt.topic, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("handler error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("handler error = %v, want wrapping %v", err, tt.err)
			}
			if len(r.ids) != len(tt.wantIDs) || (len(r.ids) > 0 && r.ids[0] != tt.wantIDs[0]) {
				t.Errorf("Rediscover calls = %v, want %v", r.ids, tt.wantIDs)
			}
		})
	}
}

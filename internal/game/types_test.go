package game

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestClientMessage_Decode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    ClientMessage
		wantErr bool
	}{
		{
			name: "stake with string amount",
			raw:  `{"type":"place_stake","round_id":7,"amount":"12.50"}`,
			want: ClientMessage{Type: "place_stake", RoundID: 7, Amount: d("12.50")},
		},
		{
			name: "stake with numeric amount",
			raw:  `{"type":"place_stake","amount":3}`,
			want: ClientMessage{Type: "place_stake", Amount: d("3")},
		},
		{
			name: "cash out without round",
			raw:  `{"type":"cash_out"}`,
			want: ClientMessage{Type: "cash_out"},
		},
		{
			name:    "malformed amount",
			raw:     `{"type":"place_stake","amount":"ten"}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got ClientMessage
			err := json.Unmarshal([]byte(tt.raw), &got)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error decoding %s", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if got.Type != tt.want.Type || got.RoundID != tt.want.RoundID || !got.Amount.Equal(tt.want.Amount) {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRoundView_HidesUnrevealedFields(t *testing.T) {
	started := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	view := RoundView{
		RoundID:    3,
		State:      RoundRunning,
		Commitment: "abc",
		Multiplier: d("1.25"),
		StartedAt:  &started,
		History:    []decimal.Decimal{d("2.00")},
		Stakes:     []Stake{},
	}

	data, err := json.Marshal(view)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	out := string(data)
	for _, key := range []string{`"crash_multiplier"`, `"seed"`} {
		if strings.Contains(out, key) {
			t.Errorf("running round view leaks %s: %s", key, out)
		}
	}
	if !strings.Contains(out, `"multiplier":"1.25"`) {
		t.Errorf("multiplier not encoded as string: %s", out)
	}

	crash := d("3.10")
	view.State = RoundCrashed
	view.CrashMultiplier = &crash
	view.Seed = "s3cr3t"
	data, _ = json.Marshal(view)
	out = string(data)
	if !strings.Contains(out, `"crash_multiplier":"3.1"`) || !strings.Contains(out, `"seed":"s3cr3t"`) {
		t.Errorf("crashed round view missing reveal: %s", out)
	}
}

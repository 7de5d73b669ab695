package shipper_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shipbroker/pkg/shipper"
)

func TestMapStatus_CommonVocabulary(t *testing.T) {
	tests := []struct {
		in   string
		want shipper.Status
	}{
		{"Out for Delivery", shipper.StatusOutForDelivery},
		{"OFD", shipper.StatusOutForDelivery},
		{"out-for_delivery", shipper.StatusOutForDelivery},
		{"weirdstatus123", shipper.StatusPending},
		{"", shipper.StatusPending},
		{"   ", shipper.StatusPending},
		{"Picked Up", shipper.StatusPickedUp},
		{"RTO Initiated", shipper.StatusRTO},
		{"Canceled", shipper.StatusCancelled},
		{"in_transit", shipper.StatusInTransit},
		{"DELIVERED", shipper.StatusDelivered},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, shipper.MapStatus(nil, tt.in))
		})
	}
}

func TestMapStatus_PartnerVocabularyWins(t *testing.T) {
	vocab := map[string]shipper.Status{"dispatched": shipper.StatusOutForDelivery}

	assert.Equal(t, shipper.StatusOutForDelivery, shipper.MapStatus(vocab, "Dispatched"))
	assert.Equal(t, shipper.StatusInTransit, shipper.MapStatus(nil, "Dispatched from hub, in transit"))
}

func TestHeuristicStatus(t *testing.T) {
	tests := map[string]shipper.Status{
		"Shipment delivered to consignee": shipper.StatusDelivered,
		"Reached transit hub":             shipper.StatusInTransit,
		"Pickup done by courier":          shipper.StatusPickedUp,
		"Return requested":                shipper.StatusRTO,
		"rto undelivered":                 shipper.StatusRTO,
		"Out for delivery today":          shipper.StatusOutForDelivery,
		"Label generated":                 shipper.StatusPending,
	}
	for in, want := range tests {
		assert.Equal(t, want, shipper.HeuristicStatus(in), in)
	}
}

func TestMapStatus_NeverFails(t *testing.T) {
	inputs := []string{"\x00", "😀", strings.Repeat("x", 4096), "---", "..."}
	for _, in := range inputs {
		got := shipper.MapStatus(nil, in)
		assert.True(t, got.Valid(), "%q mapped to %q", in, got)
	}
}

func TestParseStatus(t *testing.T) {
	s, err := shipper.ParseStatus("Out For Delivery")
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusOutForDelivery, s)

	s, err = shipper.ParseStatus("picked-up")
	require.NoError(t, err)
	assert.Equal(t, shipper.StatusPickedUp, s)

	_, err = shipper.ParseStatus("lost")
	assert.Error(t, err)
}

func TestStatus_Terminal(t *testing.T) {
	for _, s := range shipper.Statuses() {
		want := s == shipper.StatusDelivered || s == shipper.StatusCancelled || s == shipper.StatusRTO
		assert.Equal(t, want, s.Terminal(), s)
	}
}

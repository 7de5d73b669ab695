package shipper

import (
	"strings"
)

// commonVocabulary holds phrases that mean the same thing across partners.
// Keys are in NormalizeVocabulary form.
var commonVocabulary = map[string]Status{
	"pending":             StatusPending,
	"new":                 StatusPending,
	"manifested":          StatusPending,
	"booked":              StatusConfirmed,
	"confirmed":           StatusConfirmed,
	"awb assigned":        StatusConfirmed,
	"pickup scheduled":    StatusConfirmed,
	"picked up":           StatusPickedUp,
	"picked":              StatusPickedUp,
	"in transit":          StatusInTransit,
	"shipped":             StatusInTransit,
	"out for delivery":    StatusOutForDelivery,
	"ofd":                 StatusOutForDelivery,
	"delivered":           StatusDelivered,
	"cancelled":           StatusCancelled,
	"canceled":            StatusCancelled,
	"rto":                 StatusRTO,
	"rto initiated":       StatusRTO,
	"rto delivered":       StatusRTO,
	"returned":            StatusRTO,
	"return to origin":    StatusRTO,
	"rto in transit":      StatusRTO,
	"returned to shipper": StatusRTO,
	"shipment returned":   StatusRTO,
}

// NormalizeVocabulary lowercases a partner phrase and collapses separators to
// single spaces so that "Out-For_Delivery " and "out for delivery" compare equal.
func NormalizeVocabulary(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("_", " ", "-", " ", ".", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// MapStatus resolves a partner phrase using a partner vocabulary (may be nil),
// then the common vocabulary, then HeuristicStatus. It never fails.
func MapStatus(vocabulary map[string]Status, partnerStatus string) Status {
	key := NormalizeVocabulary(partnerStatus)
	if key == "" {
		return StatusPending
	}
	if s, ok := vocabulary[key]; ok {
		return s
	}
	if s, ok := commonVocabulary[key]; ok {
		return s
	}
	if s := Status(strings.ReplaceAll(key, " ", "_")); s.Valid() {
		return s
	}
	return HeuristicStatus(key)
}

// HeuristicStatus applies keyword matching to unrecognized vocabulary.
// Out-for-delivery and return phrases are checked first because they also
// contain "deliver".
func HeuristicStatus(raw string) Status {
	s := NormalizeVocabulary(raw)
	switch {
	case s == "":
		return StatusPending
	case strings.Contains(s, "out for deliver"):
		return StatusOutForDelivery
	case strings.Contains(s, "rto"), strings.Contains(s, "return"):
		return StatusRTO
	case strings.Contains(s, "deliver"):
		return StatusDelivered
	case strings.Contains(s, "transit"):
		return StatusInTransit
	case strings.Contains(s, "pick"):
		return StatusPickedUp
	default:
		return StatusPending
	}
}

package settlement

import (
	"strconv"

	"tabsplit/core/events"
)

const (
	EventBuilding          = "settlement.building"
	EventAwaitingSignature = "settlement.awaiting_signature"
	EventBroadcasting      = "settlement.broadcasting"
	EventConfirming        = "settlement.confirming"
	EventSettled           = "settlement.settled"
	EventFailed            = "settlement.failed"
	EventCancelled         = "settlement.cancelled"
	EventRewardAccrued     = "settlement.reward_accrued"
	EventRewardSkipped     = "settlement.reward_skipped"
)

func requestAttributes(req *Request) map[string]string {
	attrs := map[string]string{
		"request":     req.ID,
		"participant": req.Participant,
		"fiatCents":   strconv.FormatInt(req.FiatCents, 10),
		"asset":       req.AssetSymbol,
		"recipient":   req.Recipient,
	}
	if req.Amount != nil {
		attrs["amount"] = req.Amount.String()
	}
	return attrs
}

func attemptEvent(eventType string, req *Request) events.Event {
	return events.Event{Type: eventType, Attributes: requestAttributes(req)}
}

func confirmingEvent(req *Request, txRef string) events.Event {
	attrs := requestAttributes(req)
	attrs["txRef"] = txRef
	return events.Event{Type: EventConfirming, Attributes: attrs}
}

func settledEvent(req *Request, txRef string) events.Event {
	attrs := requestAttributes(req)
	attrs["txRef"] = txRef
	return events.Event{Type: EventSettled, Attributes: attrs}
}

// failedEvent carries the transaction reference when a broadcast occurred so
// an operator can reconcile a timed-out transfer out of band.
func failedEvent(req *Request, reason, txRef string) events.Event {
	attrs := requestAttributes(req)
	attrs["reason"] = reason
	if txRef != "" {
		attrs["txRef"] = txRef
	}
	return events.Event{Type: EventFailed, Attributes: attrs}
}

func cancelledEvent(req *Request, reason string) events.Event {
	attrs := requestAttributes(req)
	attrs["reason"] = reason
	return events.Event{Type: EventCancelled, Attributes: attrs}
}

func rewardEvent(eventType, participant string, tokens int64, detail string) events.Event {
	attrs := map[string]string{
		"participant": participant,
		"tokens":      strconv.FormatInt(tokens, 10),
	}
	if detail != "" {
		attrs["detail"] = detail
	}
	return events.Event{Type: eventType, Attributes: attrs}
}

package split

import (
	"strconv"

	"tabsplit/core/events"
)

const (
	EventReceiptLoaded     = "split.receipt_loaded"
	EventItemClaimed       = "split.item_claimed"
	EventItemUnclaimed     = "split.item_unclaimed"
	EventConfirmed         = "split.confirmed"
	EventConfirmationReset = "split.confirmation_reset"
	EventReady             = "split.ready"
	EventSessionReset      = "split.session_reset"
)

func receiptLoadedEvent(items int, totalCents int64) events.Event {
	return events.Event{
		Type: EventReceiptLoaded,
		Attributes: map[string]string{
			"items":      strconv.Itoa(items),
			"totalCents": strconv.FormatInt(totalCents, 10),
		},
	}
}

func claimEvent(eventType, participant string, item *LineItem, count int64) events.Event {
	return events.Event{
		Type: eventType,
		Attributes: map[string]string{
			"participant": participant,
			"item":        item.ID,
			"name":        item.Name,
			"count":       strconv.FormatInt(count, 10),
			"remaining":   strconv.FormatInt(item.Remaining(), 10),
		},
	}
}

func confirmEvent(participant string, confirmed, required uint32) events.Event {
	return events.Event{
		Type: EventConfirmed,
		Attributes: map[string]string{
			"participant": participant,
			"confirmed":   strconv.FormatUint(uint64(confirmed), 10),
			"required":    strconv.FormatUint(uint64(required), 10),
		},
	}
}

func confirmationResetEvent(participant string, confirmed, required uint32) events.Event {
	return events.Event{
		Type: EventConfirmationReset,
		Attributes: map[string]string{
			"participant": participant,
			"confirmed":   strconv.FormatUint(uint64(confirmed), 10),
			"required":    strconv.FormatUint(uint64(required), 10),
		},
	}
}

func readyEvent(required uint32) events.Event {
	return events.Event{
		Type: EventReady,
		Attributes: map[string]string{
			"required": strconv.FormatUint(uint64(required), 10),
		},
	}
}

func sessionResetEvent() events.Event {
	return events.Event{Type: EventSessionReset, Attributes: map[string]string{}}
}

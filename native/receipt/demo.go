package receipt

import "tabsplit/native/split"

// DemoPayload is the decoder output produced by the demo QR code. It mirrors
// the fixture receipt printed at the pilot restaurant.
func DemoPayload() []byte {
	return []byte(`[
  {"name": "GLASS STAR #148", "unitPrice": "8.50", "quantity": 1},
  {"name": "NOODLES (L)", "unitPrice": "12.50", "quantity": 2},
  {"name": "FRIED RICE", "unitPrice": "9.75", "quantity": 1},
  {"name": "SPRING ROLLS", "unitPrice": "4.50", "quantity": 3}
]`)
}

// DemoReceipt returns the parsed demo receipt. Panics only if the fixture
// itself is broken, which the package tests guard against.
func DemoReceipt() []split.LineItem {
	items, err := Parse(DemoPayload())
	if err != nil {
		panic(err)
	}
	return items
}

package record

import "tillsync/internal/event"

// Kind describes one synchronized entity collection and how it travels on
// the wire.
type Kind struct {
	// Name is the domain kind ("order", "product", ...), used as the cache
	// table discriminator.
	Name string
	// EventKind is the numeric wire type; see the event package for ranges.
	EventKind int
	// SoftDelete keeps deleted rows for audit kinds instead of removing them.
	SoftDelete bool
	// ActiveStatuses lists record statuses that the short-interval poll
	// watches (e.g. orders still being prepared).
	ActiveStatuses []string
}

// Replaceable reports whether the kind uses replaceable addressing.
func (k Kind) Replaceable() bool { return event.IsReplaceable(k.EventKind) }

// Active reports whether a record status belongs to the short-poll window.
func (k Kind) Active(status string) bool {
	for _, s := range k.ActiveStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// Built-in collections. Orders and stock movements are append-only history;
// products, staff and tables are replaceable current-state snapshots.
var (
	Orders = Kind{
		Name:           "order",
		EventKind:      event.KindOrder,
		ActiveStatuses: []string{"pending", "preparing"},
	}
	StockMoves = Kind{Name: "stock_move", EventKind: event.KindStockMove}
	Messages   = Kind{Name: "message", EventKind: event.KindMessage}
	Products   = Kind{Name: "product", EventKind: event.KindProduct, SoftDelete: true}
	Staff      = Kind{Name: "staff", EventKind: event.KindStaff, SoftDelete: true}
	Tables     = Kind{Name: "table", EventKind: event.KindTable}
)

// Kinds lists every built-in collection in sync order.
var Kinds = []Kind{Orders, StockMoves, Messages, Products, Staff, Tables}

// KindByName resolves a domain kind name to its descriptor.
func KindByName(name string) (Kind, bool) {
	for _, k := range Kinds {
		if k.Name == name {
			return k, true
		}
	}
	return Kind{}, false
}

package schema

// TrackedKey names one of the five synchronized local-store slots.
type TrackedKey string

const (
	// KeyItems holds the full item list as a JSON array.
	KeyItems TrackedKey = "items"

	// KeyShifts holds the ordered shift history as a JSON array.
	KeyShifts TrackedKey = "shift_history"

	// KeyLang holds the UI language code as a JSON string ("es" or "en").
	KeyLang TrackedKey = "lang"

	// KeyPieNames holds the slot -> label mapping for pies.
	KeyPieNames TrackedKey = "pie_names"

	// KeyPieStatus holds the slot -> state mapping for pies.
	KeyPieStatus TrackedKey = "pie_status"
)

// AllKeys returns every tracked key in a stable order.
func AllKeys() []TrackedKey {
	return []TrackedKey{KeyItems, KeyShifts, KeyLang, KeyPieNames, KeyPieStatus}
}

// Valid reports whether k names a tracked slot.
func (k TrackedKey) Valid() bool {
	switch k {
	case KeyItems, KeyShifts, KeyLang, KeyPieNames, KeyPieStatus:
		return true
	}
	return false
}

// DefaultLang is the language used when the runtime document is absent.
const DefaultLang = "es"

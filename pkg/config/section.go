package config

// Section is one named group of persisted settings. Sections own their
// typed fields and convert to and from the loosely typed map the Store
// persists.
type Section interface {
	// ID is the key the section is stored under.
	ID() string

	// Title is a short human readable name.
	Title() string

	// Description explains what the section configures.
	Description() string

	// Data returns the section as a store-ready map.
	Data() map[string]interface{}

	// SetData applies values read from the store. Unknown keys are ignored.
	SetData(data map[string]interface{}) error

	// Validate checks the current values.
	Validate() error

	// Reset restores the defaults.
	Reset()
}

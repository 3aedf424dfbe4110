package encoders

import "github.com/smazurov/avrec/internal/encoders/validation"

// CreateValidatorRegistry creates and populates the validator registry.
// Hardware families come first, in order of preference.
func CreateValidatorRegistry() *validation.ValidatorRegistry {
	registry := validation.NewValidatorRegistry()

	registry.Register(validation.NewVaapiValidator())
	registry.Register(validation.NewRkmppValidator())
	registry.Register(validation.NewV4L2M2MValidator())
	registry.Register(validation.NewNvencValidator())
	registry.Register(validation.NewQsvValidator())
	registry.Register(validation.NewVideoToolboxValidator())
	registry.Register(validation.NewGenericValidator()) // Fallback validator last

	return registry
}

package integration

import "fmt"

// Validation constants.
const (
	maxNameLength = 100

	// maxSettingsKeys bounds the settings map to prevent oversized rows.
	maxSettingsKeys = 50
)

// Pre-computed validation sets for O(1) lookups.
var (
	validTypes      map[Type]struct{}
	validStatuses   map[Status]struct{}
	validDirections map[Direction]struct{}
	validPolicies   map[ConflictPolicy]struct{}
)

func init() {
	validTypes = make(map[Type]struct{}, len(AllTypes()))
	for _, t := range AllTypes() {
		validTypes[t] = struct{}{}
	}

	validStatuses = make(map[Status]struct{}, len(AllStatuses()))
	for _, s := range AllStatuses() {
		validStatuses[s] = struct{}{}
	}

	validDirections = make(map[Direction]struct{}, len(AllDirections()))
	for _, d := range AllDirections() {
		validDirections[d] = struct{}{}
	}

	validPolicies = make(map[ConflictPolicy]struct{}, len(AllConflictPolicies()))
	for _, p := range AllConflictPolicies() {
		validPolicies[p] = struct{}{}
	}
}

// Validate checks an Integration for structural errors.
// Returns an error wrapping ErrInvalid (or a more specific sentinel) on failure.
func Validate(i *Integration) error {
	if i == nil {
		return fmt.Errorf("%w: nil integration", ErrInvalid)
	}

	if i.OrganizationID == "" {
		return fmt.Errorf("%w: organization_id is required", ErrInvalid)
	}

	if i.Name == "" || len(i.Name) > maxNameLength {
		return fmt.Errorf("%w: name must be 1-%d characters", ErrInvalid, maxNameLength)
	}

	if _, ok := validTypes[i.Type]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidType, i.Type)
	}

	if i.Status != "" {
		if _, ok := validStatuses[i.Status]; !ok {
			return fmt.Errorf("%w: invalid status %q", ErrInvalid, i.Status)
		}
	}

	if len(i.Settings) > maxSettingsKeys {
		return fmt.Errorf("%w: settings has too many keys (max %d)", ErrInvalid, maxSettingsKeys)
	}

	// Sync configuration only applies to registry integrations; a channel
	// integration with sync enabled is a configuration error.
	if i.Sync.Enabled && !i.Type.IsRegistry() {
		return fmt.Errorf("%w: sync enabled on %q", ErrNotRegistry, i.Type)
	}

	if i.Sync.Enabled || i.Type.IsRegistry() {
		if err := ValidateSyncSettings(&i.Sync); err != nil {
			return err
		}
	}

	return nil
}

// ValidateSyncSettings checks a sync configuration.
func ValidateSyncSettings(s *SyncSettings) error {
	if s.FrequencyMinutes < MinFrequencyMinutes || s.FrequencyMinutes > MaxFrequencyMinutes {
		return fmt.Errorf("%w: %d minutes (must be %d-%d)",
			ErrInvalidFrequency, s.FrequencyMinutes, MinFrequencyMinutes, MaxFrequencyMinutes)
	}

	if _, ok := validDirections[s.Direction]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidDirection, s.Direction)
	}

	if _, ok := validPolicies[s.ConflictResolution]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPolicy, s.ConflictResolution)
	}

	return nil
}

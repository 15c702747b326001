package notice

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks banner or mixin authoring mistakes. A render that fails
	// with it must not be shown.
	ErrConfiguration = errors.New("banner configuration error")

	ErrBannerNotFound        = errors.New("banner does not exist")
	ErrCampaignNotFound      = errors.New("campaign does not exist")
	ErrCampaignExists        = errors.New("campaign already exists")
	ErrCampaignLocked        = errors.New("campaign is locked")
	ErrNoProject             = errors.New("campaign needs at least one project")
	ErrNoLanguage            = errors.New("campaign needs at least one language")
	ErrBannerAlreadyAssigned = errors.New("banner already assigned to campaign")
	ErrInvalidDateRange      = errors.New("invalid date range")
	ErrInvalidSetting        = errors.New("unknown campaign setting")
	ErrInvalidRange          = errors.New("max must be greater than min")
	ErrMessageNotFound       = errors.New("message not found")
)

// FieldError reports a placeholder that named a message field the banner does not have.
type FieldError struct {
	Banner string
	Field  string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("banner %q has no message field %q", e.Banner, e.Field)
}

func (e *FieldError) Is(target error) bool { return target == ErrConfiguration }

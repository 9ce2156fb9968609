package licensing

import (
	"errors"
	"time"

	"github.com/ibero-data/modgate/internal/license"
	"github.com/ibero-data/modgate/internal/modules"
)

var ErrAlreadyStarted = errors.New("licensing manager already started")

const (
	DefaultRefreshInterval = 60 * time.Minute
	DefaultGracePeriod     = 24 * time.Hour

	// MessageLoadFailed replaces the license message when the store cannot be read.
	MessageLoadFailed = "Error cargando licencia"
)

// State is the position of the manager in the grace-period state machine.
type State string

const (
	StateNormalValid   State = "normal_valid"
	StateTolerant      State = "tolerant"
	StateNormalExpired State = "normal_expired"
)

// Snapshot is a consistent copy of the manager's cached view.
type Snapshot struct {
	State          State            `json:"state"`
	Valid          bool             `json:"valid"`
	RawValid       bool             `json:"rawValid"`
	Tolerant       bool             `json:"tolerantMode"`
	GraceEndsAt    *time.Time       `json:"graceEndsAt,omitempty"`
	License        license.Info     `json:"license"`
	LicenseLoading bool             `json:"licenseLoading"`
	ModulesLoading bool             `json:"modulesLoading"`
	Modules        []modules.Module `json:"modules"`
	EnabledModules []modules.Module `json:"enabledModules"`
	ModulesVersion uint64           `json:"modulesVersion"`
}

func stateOf(tolerant, valid bool) State {
	switch {
	case tolerant:
		return StateTolerant
	case valid:
		return StateNormalValid
	default:
		return StateNormalExpired
	}
}

func loadFailedInfo() license.Info {
	info := license.NoLicenseInfo()
	info.Message = MessageLoadFailed
	return info
}

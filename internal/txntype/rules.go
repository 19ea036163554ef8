package txntype

import (
	"fmt"

	"github.com/odyssey-erp/stockledger/internal/shared"
	"github.com/odyssey-erp/stockledger/internal/sites"
)

// ErrDirection is returned when the supplied sites do not fit the type's capabilities.
var ErrDirection = fmt.Errorf("%w: invalid voucher", shared.ErrValidation)

// Endpoints are the sites a voucher names. A nil pointer means the side is absent.
type Endpoints struct {
	Source      *sites.Site
	Destination *sites.Site
}

// CheckPresence validates which sides are present against the type flags. It needs ids only,
// so it runs before any site lookup.
func (t Type) CheckPresence(sourceID, destinationID *int64) error {
	hasSrc, hasDst := sourceID != nil, destinationID != nil
	if t.Adjusting() {
		if hasSrc == hasDst {
			return fmt.Errorf("%w: %s needs exactly one of source or destination site", ErrDirection, t.Name)
		}
		return nil
	}
	switch {
	case t.RequiresSource && !hasSrc:
		return fmt.Errorf("%w: %s requires a source site", ErrDirection, t.Name)
	case !t.RequiresSource && hasSrc:
		return fmt.Errorf("%w: %s does not take a source site", ErrDirection, t.Name)
	case t.RequiresDestination && !hasDst:
		return fmt.Errorf("%w: %s requires a destination site", ErrDirection, t.Name)
	case !t.RequiresDestination && hasDst:
		return fmt.Errorf("%w: %s does not take a destination site", ErrDirection, t.Name)
	}
	if hasSrc && hasDst && *sourceID == *destinationID {
		return fmt.Errorf("%w: source and destination site must differ", ErrDirection)
	}
	return nil
}

// CheckKinds validates resolved sites against the kinds the type expects.
func (t Type) CheckKinds(ep Endpoints) error {
	if t.SourceKind != "" && ep.Source != nil && ep.Source.Kind != t.SourceKind {
		return fmt.Errorf("%w: %s source must be a %s, got %s %s", ErrDirection, t.Name, t.SourceKind, ep.Source.Kind, ep.Source.Code)
	}
	if t.DestinationKind != "" && ep.Destination != nil && ep.Destination.Kind != t.DestinationKind {
		return fmt.Errorf("%w: %s destination must be a %s, got %s %s", ErrDirection, t.Name, t.DestinationKind, ep.Destination.Kind, ep.Destination.Code)
	}
	return nil
}

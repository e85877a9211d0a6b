package prfactory

import "github.com/mikaelliljedahl/PRFactory-sub003/id"

// ID is the primary identifier type for all PRFactory entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

package ostler

import "github.com/xraph/ostler/id"

// ID is the identifier type for generated ostler entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix

package query

import (
	"fmt"
	"strings"

	"github.com/abramin/namelens/internal/mapping"
)

// NoResults is the reply for a lookup that matched nothing.
const NoResults = "No information found!"

// BuildingNotice is shown when a lookup outlives the wait bound.
const BuildingNotice = "Building mappings database, this may take a moment."

// FormatRecord renders one record the way the lookup command prints it:
//
//	MC 1.12.2: net/minecraft/util/math/BlockPos.getX
//	Name: func_177958_n => getX
//	Descriptor: ()I
//	Side: both
//	Comment: Gets the X coordinate
func FormatRecord(ds *mapping.Dataset, r mapping.Record) string {
	var b strings.Builder

	owner := ds.Owner(r)
	if r.Type == mapping.TypeParam && r.OwnerHint != nil {
		owner = *r.OwnerHint
	}
	label := r.Name()
	if owner != "" {
		label = owner + "." + label
	}
	fmt.Fprintf(&b, "MC %s: %s\n", ds.Version(), label)

	if r.Official != nil {
		fmt.Fprintf(&b, "Name: %s => %s\n", r.Intermediate, *r.Official)
	} else {
		fmt.Fprintf(&b, "Name: %s\n", r.Intermediate)
	}
	if r.Descriptor != nil {
		fmt.Fprintf(&b, "Descriptor: %s\n", *r.Descriptor)
	}
	fmt.Fprintf(&b, "Side: %s\n", r.Side)
	if r.Comment != nil {
		fmt.Fprintf(&b, "Comment: %s\n", *r.Comment)
	}
	return b.String()
}

// FormatRecords renders every record separated by blank lines, or
// NoResults when there are none.
func FormatRecords(ds *mapping.Dataset, records []mapping.Record) string {
	if len(records) == 0 {
		return NoResults + "\n"
	}
	parts := make([]string, len(records))
	for i, r := range records {
		parts[i] = FormatRecord(ds, r)
	}
	return strings.Join(parts, "\n")
}

package bsonvalue

import "strings"

// CompareOptions mirrors the bit flags spec.md §6's "culture/options"
// pragma string names (modeled after .NET CompareOptions, the convention
// LiteDB's COLLATION pragma borrows from).
type CompareOptions uint8

const (
	CompareNone              CompareOptions = 0
	CompareIgnoreCase        CompareOptions = 1 << 0
	CompareTrim              CompareOptions = 1 << 1
	CompareIgnoreWhitespace  CompareOptions = 1 << 2
	CompareIgnoreSymbols     CompareOptions = 1 << 3
)

// Collation configures string comparison for an index and for the
// COLLATION pragma (spec.md §6).
type Collation struct {
	Culture string
	Options CompareOptions
}

// Default is ordinal, case-sensitive comparison with no culture-specific
// rules — the safe fallback when a database carries no COLLATION pragma.
func Default() Collation {
	return Collation{Culture: "en-US", Options: CompareNone}
}

// ParseCollation parses the "culture/options" pragma string from spec.md
// §6, e.g. "de-DE/IgnoreCase,Trim". An empty string returns Default().
func ParseCollation(s string) Collation {
	if s == "" {
		return Default()
	}

	culture, optPart, _ := strings.Cut(s, "/")

	c := Collation{Culture: culture}

	if optPart == "" || optPart == "None" {
		return c
	}

	for _, name := range strings.Split(optPart, ",") {
		switch strings.TrimSpace(name) {
		case "IgnoreCase":
			c.Options |= CompareIgnoreCase
		case "Trim":
			c.Options |= CompareTrim
		case "IgnoreWhitespace":
			c.Options |= CompareIgnoreWhitespace
		case "IgnoreSymbols":
			c.Options |= CompareIgnoreSymbols
		}
	}

	return c
}

// String renders the collation back to the "culture/options" pragma
// format ParseCollation accepts.
func (c Collation) String() string {
	if c.Options == CompareNone {
		return c.Culture + "/None"
	}

	var names []string

	if c.Options&CompareIgnoreCase != 0 {
		names = append(names, "IgnoreCase")
	}

	if c.Options&CompareTrim != 0 {
		names = append(names, "Trim")
	}

	if c.Options&CompareIgnoreWhitespace != 0 {
		names = append(names, "IgnoreWhitespace")
	}

	if c.Options&CompareIgnoreSymbols != 0 {
		names = append(names, "IgnoreSymbols")
	}

	return c.Culture + "/" + strings.Join(names, ",")
}

func (c Collation) normalize(s string) string {
	if c.Options&CompareTrim != 0 {
		s = strings.TrimSpace(s)
	}

	if c.Options&CompareIgnoreWhitespace != 0 {
		s = strings.Join(strings.Fields(s), "")
	}

	if c.Options&CompareIgnoreSymbols != 0 {
		s = stripSymbols(s)
	}

	if c.Options&CompareIgnoreCase != 0 {
		s = strings.ToUpper(s)
	}

	return s
}

func stripSymbols(s string) string {
	var b strings.Builder

	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ' ' {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// CompareStrings orders two strings under the collation.
func (c Collation) CompareStrings(a, b string) int {
	na, nb := c.normalize(a), c.normalize(b)

	switch {
	case na < nb:
		return -1
	case na > nb:
		return 1
	default:
		return 0
	}
}

// typeRank implements the cross-type ordering table from spec.md §9:
// Null < Number < String < Document < Array < Binary < ObjectId < Boolean
// < DateTime, bracketed by MinValue/MaxValue.
func typeRank(v Value) int {
	switch {
	case v.typ == TypeMinValue:
		return 0
	case v.typ == TypeNull:
		return 1
	case v.IsNumber():
		return 2
	case v.typ == TypeString:
		return 3
	case v.typ == TypeDocument:
		return 4
	case v.typ == TypeArray:
		return 5
	case v.typ == TypeBinary:
		return 6
	case v.typ == TypeObjectID:
		return 7
	case v.typ == TypeBoolean:
		return 8
	case v.typ == TypeDateTime:
		return 9
	case v.typ == TypeMaxValue:
		return 10
	default:
		return 11
	}
}

// Compare orders a and b under collation, implementing the cross-type
// ordering table and testable-property invariant from spec.md §8/§9:
// "the doubly linked list at level ℓ is strictly ordered by Key".
func Compare(a, b Value, collation Collation) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}

		return 1
	}

	switch {
	case a.typ == TypeMinValue, a.typ == TypeMaxValue, a.typ == TypeNull:
		return 0
	case a.IsNumber():
		fa, _ := a.AsFloat64()
		fb, _ := b.AsFloat64()

		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	case a.typ == TypeString:
		return collation.CompareStrings(a.str, b.str)
	case a.typ == TypeBoolean:
		if a.b == b.b {
			return 0
		}

		if !a.b {
			return -1
		}

		return 1
	case a.typ == TypeDateTime:
		switch {
		case a.i64 < b.i64:
			return -1
		case a.i64 > b.i64:
			return 1
		default:
			return 0
		}
	case a.typ == TypeObjectID:
		for i := range a.oid {
			if a.oid[i] != b.oid[i] {
				if a.oid[i] < b.oid[i] {
					return -1
				}

				return 1
			}
		}

		return 0
	case a.typ == TypeBinary:
		return compareBytes(a.bin, b.bin)
	case a.typ == TypeArray:
		return compareArrays(a.arr, b.arr, collation)
	case a.typ == TypeDocument:
		return compareDocuments(a.doc, b.doc, collation)
	default:
		return 0
	}
}

func compareBytes(a, b []byte) int {
	n := min(len(a), len(b))

	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}

			return 1
		}
	}

	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareArrays(a, b []Value, collation Collation) int {
	n := min(len(a), len(b))

	for i := 0; i < n; i++ {
		if c := Compare(a[i], b[i], collation); c != 0 {
			return c
		}
	}

	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}

func compareDocuments(a, b *Document, collation Collation) int {
	an, bn := a.Len(), b.Len()

	n := min(an, bn)
	for i := 0; i < n; i++ {
		if a.keys[i] != b.keys[i] {
			if a.keys[i] < b.keys[i] {
				return -1
			}

			return 1
		}

		if c := Compare(a.values[i], b.values[i], collation); c != 0 {
			return c
		}
	}

	switch {
	case an < bn:
		return -1
	case an > bn:
		return 1
	default:
		return 0
	}
}

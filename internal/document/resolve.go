package document

// FindPaths returns the path of every scalar leaf in v whose immediate key
// equals field. Results are in depth-first document order.
//
// Sequence elements are descended into only when they are containers; scalars
// sitting directly in a sequence have no key and never match. A key equal to
// field whose value is a container is not reported, but its children are
// still searched.
func FindPaths(v Value, field string) []Path {
	return findPaths(v, field, nil)
}

func findPaths(v Value, field string, prefix Path) []Path {
	var found []Path
	switch v.Kind {
	case MapKind:
		for _, f := range v.Fields {
			p := prefix.With(Key(f.Key))
			switch f.Value.Kind {
			case ScalarKind:
				if f.Key == field {
					found = append(found, p)
				}
			case MapKind, SequenceKind:
				found = append(found, findPaths(f.Value, field, p)...)
			}
		}
	case SequenceKind:
		for i, item := range v.Items {
			if !item.IsContainer() {
				continue
			}
			found = append(found, findPaths(item, field, prefix.With(Index(i)))...)
		}
	}
	return found
}

// PathStrings renders paths in their dotted form
func PathStrings(paths []Path) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = p.String()
	}
	return out
}

package state

import (
	"strconv"
	"strings"
)

// Diff returns the JSON-Pointer paths at which current and previous
// disagree, in deterministic traversal order (object keys in canonical
// key order, array indexes ascending), each path naming the shallowest
// differing location. Ancestors of a reported path are not reported, and
// children under a reported container-level difference are not descended
// into. The root is reported as "/".
//
// Container rules: objects compare over the union of keys, arrays over the
// union of index ranges, so additions, removals, and length changes all
// surface. An empty array and an empty object are treated as equal since
// both have zero enumerable entries.
//
// Diff doubles as the replay-correctness oracle: after rebuilding a state
// through checkpoint plus replay, Diff against the full-replay state must
// come back empty.
func Diff(current, previous Value) []string {
	paths := []string{}
	diffWalk(current, previous, "", &paths)
	return paths
}

func diffWalk(a, b Value, prefix string, out *[]string) {
	if a == nil {
		a = Null{}
	}
	if b == nil {
		b = Null{}
	}

	aObj, aIsObj := a.(Object)
	bObj, bIsObj := b.(Object)
	aArr, aIsArr := a.(Array)
	bArr, bIsArr := b.(Array)

	// Zero enumerable entries on both sides counts as equal regardless of
	// container kind.
	if (aIsObj && len(aObj) == 0 || aIsArr && len(aArr) == 0) &&
		(bIsObj && len(bObj) == 0 || bIsArr && len(bArr) == 0) {
		return
	}

	switch {
	case aIsObj && bIsObj:
		diffObjects(aObj, bObj, prefix, out)
	case aIsArr && bIsArr:
		diffArrays(aArr, bArr, prefix, out)
	default:
		if Canonicalize(a) != Canonicalize(b) {
			*out = append(*out, pathOf(prefix))
		}
	}
}

func diffObjects(a, b Object, prefix string, out *[]string) {
	keys := unionKeys(a, b)
	for _, k := range keys {
		av, inA := a[k]
		bv, inB := b[k]
		child := prefix + "/" + escapePointerToken(k)
		if !inA || !inB {
			*out = append(*out, child)
			continue
		}
		diffWalk(av, bv, child, out)
	}
}

func diffArrays(a, b Array, prefix string, out *[]string) {
	n := max(len(a), len(b))
	for i := 0; i < n; i++ {
		child := prefix + "/" + strconv.Itoa(i)
		if i >= len(a) || i >= len(b) {
			*out = append(*out, child)
			continue
		}
		diffWalk(a[i], b[i], child, out)
	}
}

// unionKeys merges both objects' keys in canonical key order without
// duplicates.
func unionKeys(a, b Object) []string {
	merged := make(Object, len(a)+len(b))
	for k := range a {
		merged[k] = nil
	}
	for k := range b {
		merged[k] = nil
	}
	return merged.SortedKeys()
}

func pathOf(prefix string) string {
	if prefix == "" {
		return "/"
	}
	return prefix
}

var pointerEscaper = strings.NewReplacer("~", "~0", "/", "~1")

// escapePointerToken applies RFC 6901 token escaping.
func escapePointerToken(token string) string {
	return pointerEscaper.Replace(token)
}

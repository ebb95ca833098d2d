package btree

import "fmt"

// Verify walks every row of the tree via a forward cursor scan,
// checking that rowids/keys are strictly increasing (the search
// invariant every other btree operation relies on) and that each
// payload/key decodes cleanly, including any overflow chain it spans.
// It returns one message per violation found; a nil/empty result means
// the tree is structurally sound.
func Verify(t *Tree) []string {
	var violations []string
	cur := t.NewCursor()
	ok, err := cur.First()
	if err != nil {
		return []string{fmt.Sprintf("root page %d: %v", t.root, err)}
	}

	var prev entry
	havePrev := false
	row := 0
	for ok {
		e, eerr := cur.currentEntry()
		if eerr != nil {
			violations = append(violations, fmt.Sprintf("row %d: decode: %v", row, eerr))
		} else {
			if havePrev && t.compareKey(prev, e) >= 0 {
				violations = append(violations, fmt.Sprintf("row %d: out of order relative to the previous row", row))
			}
			prev, havePrev = e, true
		}
		if t.kind == KindTable {
			if _, perr := cur.Payload(); perr != nil {
				violations = append(violations, fmt.Sprintf("row %d: payload/overflow decode: %v", row, perr))
			}
		} else if _, kerr := cur.Key(); kerr != nil {
			violations = append(violations, fmt.Sprintf("row %d: key/overflow decode: %v", row, kerr))
		}
		row++
		ok, err = cur.Next()
		if err != nil {
			violations = append(violations, fmt.Sprintf("row %d: advancing cursor: %v", row, err))
			break
		}
	}
	return violations
}

package lens

import "fmt"

// BuildDict walks l's shape alongside a (nodes, skel) pair a prior Get
// produced, recording a DictEntry for every SUBTREE it finds, keyed by that
// subtree's label (spec §3 "Dictionary: a mapping from key string to a FIFO
// queue... used during put to find the skeleton belonging to each subtree
// as it is re-emitted").
//
// Unlike Get/Put/Create, BuildDict never inspects text: it recovers how
// many nodes each sublens contributed purely from skel's tags (a "star"
// skeleton's Parts count is the iteration count, a "union-a"/"union-b" tag
// names the chosen branch, "maybe-present"/"maybe-absent" names whether the
// body ran at all), which is exactly the same information get() consults
// at each of those tags — so this doubles as the one place in the engine
// that understands REC nodes without needing the transducer, letting
// transform.Save call this directly after a plain transducer.Get.
func BuildDict(l *Lens, nodes []*Node, skel *Skeleton) (Dict, error) {
	dict := Dict{}
	c := &cursor{nodes: nodes}
	if err := collectDict(l, c, skel, dict); err != nil {
		return nil, err
	}
	return dict, nil
}

func collectDict(l *Lens, c *cursor, skel *Skeleton, dict Dict) error {
	switch l.Tag {
	case Rec:
		return collectDict(l.Children[0], c, skel, dict)

	case Del, Counter, Store, Value, Key, Label, Seq:
		// Key/value contributions live on the enclosing subtree node, not
		// as children of their own; nothing to record or consume.
		return nil

	case Concat:
		a, b := l.Children[0], l.Children[1]
		var ska, skb *Skeleton
		if sk := skelTag(skel, "concat"); sk != nil && len(sk.Parts) == 2 {
			ska, skb = sk.Parts[0], sk.Parts[1]
		}
		if err := collectDict(a, c, ska, dict); err != nil {
			return err
		}
		return collectDict(b, c, skb, dict)

	case Union:
		a, b := l.Children[0], l.Children[1]
		if sk := skelTag(skel, "union-a"); sk != nil && len(sk.Parts) == 1 {
			return collectDict(a, c, sk.Parts[0], dict)
		}
		if sk := skelTag(skel, "union-b"); sk != nil && len(sk.Parts) == 1 {
			return collectDict(b, c, sk.Parts[0], dict)
		}
		return fmt.Errorf("lens: BuildDict found no union-a/union-b skeleton")

	case Subtree:
		body := l.Children[0]
		n, ok := c.take()
		if !ok {
			return fmt.Errorf("lens: BuildDict expected a SUBTREE child")
		}
		var inner *Skeleton
		if sk := skelTag(skel, "subtree"); sk != nil && len(sk.Parts) == 1 {
			inner = sk.Parts[0]
		}
		label := ""
		if n.Label != nil {
			label = *n.Label
		}
		dict[label] = append(dict[label], DictEntry{Node: n, Skel: inner})

		innerCursor := &cursor{nodes: n.Children}
		return collectDict(body, innerCursor, inner, dict)

	case Star:
		body := l.Children[0]
		var parts []*Skeleton
		if sk := skelTag(skel, "star"); sk != nil {
			parts = sk.Parts
		}
		for _, p := range parts {
			if err := collectDict(body, c, p, dict); err != nil {
				return err
			}
		}
		return nil

	case Maybe:
		body := l.Children[0]
		if sk := skelTag(skel, "maybe-present"); sk != nil && len(sk.Parts) == 1 {
			return collectDict(body, c, sk.Parts[0], dict)
		}
		return nil

	case Square:
		k, body, _ := l.Children[0], l.Children[1], l.Children[2]
		var skk, skb *Skeleton
		if sk := skelTag(skel, "square"); sk != nil && len(sk.Parts) == 2 {
			skk, skb = sk.Parts[0], sk.Parts[1]
		}
		if err := collectDict(k, c, skk, dict); err != nil {
			return err
		}
		return collectDict(body, c, skb, dict)
	}
	return fmt.Errorf("lens: BuildDict cannot walk a %v lens", l.Tag)
}

package condition

// Names returns every indicator name referenced by the tree, deduplicated in
// first-seen order. Session-start validation checks these against the
// definition's indicator specs so a missing reference fails before any candle
// is processed.
func Names(cond Condition) []string {
	seen := make(map[string]struct{})
	var out []string
	collectNames(cond, seen, &out)
	return out
}

// MaxLag returns the deepest lag any reference in the tree asks for. The
// evaluation context keeps exactly two snapshots (current and previous), so
// validation rejects trees where this exceeds 1.
func MaxLag(cond Condition) int {
	max := 0
	opLag := func(op Operand) {
		if ref, ok := op.(IndicatorRef); ok && ref.Lag > max {
			max = ref.Lag
		}
	}
	switch n := cond.(type) {
	case Comparison:
		opLag(n.Left)
		opLag(n.Right)
	case CrossAbove:
		opLag(n.A)
		opLag(n.B)
	case CrossBelow:
		opLag(n.A)
		opLag(n.B)
	case AllOf:
		for _, child := range n.Children {
			if l := MaxLag(child); l > max {
				max = l
			}
		}
	case AnyOf:
		for _, child := range n.Children {
			if l := MaxLag(child); l > max {
				max = l
			}
		}
	case Not:
		if l := MaxLag(n.Child); l > max {
			max = l
		}
	}
	return max
}

func collectNames(cond Condition, seen map[string]struct{}, out *[]string) {
	addOperand := func(op Operand) {
		ref, ok := op.(IndicatorRef)
		if !ok {
			return
		}
		if _, dup := seen[ref.Name]; dup {
			return
		}
		seen[ref.Name] = struct{}{}
		*out = append(*out, ref.Name)
	}
	switch n := cond.(type) {
	case Comparison:
		addOperand(n.Left)
		addOperand(n.Right)
	case CrossAbove:
		addOperand(n.A)
		addOperand(n.B)
	case CrossBelow:
		addOperand(n.A)
		addOperand(n.B)
	case AllOf:
		for _, child := range n.Children {
			collectNames(child, seen, out)
		}
	case AnyOf:
		for _, child := range n.Children {
			collectNames(child, seen, out)
		}
	case Not:
		collectNames(n.Child, seen, out)
	}
}

package truth

// InferenceDiscount scales the confidence of every derived value, so chains
// of inference lose confidence at each step.
const InferenceDiscount float32 = 0.9

// Deduction derives A→C from A→B and B→C.
//
// Strength assumes B screens A off from C and that the complement of B
// relates A and C the way B does inversely:
//
//	s = sAB·sBC + (1−sAB)·(1−sBC)
func Deduction(ab, bc Value) Value {
	s := ab.Strength*bc.Strength + (1-ab.Strength)*(1-bc.Strength)
	return Value{
		Strength:   clamp01(s),
		Confidence: clamp01(min(ab.Confidence, bc.Confidence) * InferenceDiscount),
	}
}

// Invert turns B→A into A→B assuming equal term priors, which leaves the
// strength unchanged and discounts the confidence.
func Invert(v Value) Value {
	return Value{Strength: v.Strength, Confidence: clamp01(v.Confidence * InferenceDiscount)}
}

// Induction derives A→C from B→A and B→C.
func Induction(ba, bc Value) Value {
	return Deduction(Invert(ba), bc)
}

// Abduction derives A→C from A→B and C→B.
func Abduction(ab, cb Value) Value {
	return Deduction(ab, Invert(cb))
}

func clamp01(x float32) float32 {
	return min(max(x, 0), 1)
}

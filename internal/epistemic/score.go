package epistemic

// Ceilings by claim type. A projection can at best be well supported; it
// cannot reach the strongest band on present evidence.
var typeCeilings = map[ClaimType]int{
	TypeModelBased: 89,
}

// Floors by claim type. None currently; the map stays so the floor flag in
// the artifact is exercised the day one is added.
var typeFloors = map[ClaimType]int{}

// scoreClaim runs stage 5 for one claim. Normative claims are not scored.
func scoreClaim(tc TypedClaim, penalties []Penalty) *Score {
	if tc.IsNormative {
		return nil
	}

	s := &Score{ClaimID: tc.ClaimID, Initial: 100}

	total := 0
	for _, p := range penalties {
		total += p.Weight
	}
	s.Raw = 100 - total

	final := s.Raw
	if floor, ok := typeFloors[tc.Type]; ok && final < floor {
		final = floor
		s.FloorApplied = true
	}
	if ceiling, ok := typeCeilings[tc.Type]; ok && final > ceiling {
		final = ceiling
		s.CeilingApplied = true
	}

	s.Final = min(100, max(0, final))
	s.Band = BandForScore(s.Final)
	s.BandLabel = BandLabel(s.Band)
	return s
}

package epistemic

import "regexp"

var (
	normativeRe = regexp.MustCompile(`(?i)\b(should|ought to|must not|must be|deserves?|is wrong|is right|is immoral|is unethical|better than|worse than|best|worst)\b`)
	modelRe     = regexp.MustCompile(`(?i)\b(model|projection|forecast|predicts?|predicted|simulation|scenario|estimate[sd]? that)\b`)
	metaRe      = regexp.MustCompile(`(?i)\b(studies (show|find|suggest)|research (shows|finds|suggests)|scientists (say|agree)|experts (say|agree)|consensus|meta.analysis|according to (a|the) (study|survey|poll))\b`)
)

// typeClaims assigns each structured claim its epistemic type. The rules are
// lexical and ordered: normative beats meta beats model_based; everything
// else is empirical.
func typeClaims(structured []StructuredClaim) []TypedClaim {
	out := make([]TypedClaim, 0, len(structured))
	for _, sc := range structured {
		tc := TypedClaim{StructuredClaim: sc, Type: TypeEmpirical}
		switch {
		case normativeRe.MatchString(sc.Text):
			tc.Type = TypeNormative
			tc.IsNormative = true
		case metaRe.MatchString(sc.Text):
			tc.Type = TypeMeta
		case modelRe.MatchString(sc.Text) || sc.Timeframe.Type == TimeframeFuture:
			tc.Type = TypeModelBased
		}
		out = append(out, tc)
	}
	return out
}

package trust

// canonicalHosts maps well-known publishers to their canonical reliability.
// Keys are normalized (lowercase, no "www." prefix).
var canonicalHosts = map[string]float64{
	"reuters.com":             0.95,
	"apnews.com":              0.95,
	"bbc.com":                 0.92,
	"bbc.co.uk":               0.92,
	"nature.com":              0.95,
	"science.org":             0.94,
	"nejm.org":                0.94,
	"thelancet.com":           0.93,
	"who.int":                 0.93,
	"cdc.gov":                 0.92,
	"nih.gov":                 0.92,
	"nasa.gov":                0.93,
	"noaa.gov":                0.92,
	"factcheck.org":           0.90,
	"politifact.com":          0.89,
	"snopes.com":              0.87,
	"fullfact.org":            0.88,
	"afp.com":                 0.92,
	"nytimes.com":             0.88,
	"washingtonpost.com":      0.87,
	"wsj.com":                 0.88,
	"economist.com":           0.88,
	"theguardian.com":         0.85,
	"npr.org":                 0.87,
	"pbs.org":                 0.86,
	"bloomberg.com":           0.86,
	"ft.com":                  0.88,
	"axios.com":               0.84,
	"britannica.com":          0.88,
	"ourworldindata.org":      0.89,
	"pubmed.ncbi.nlm.nih.gov": 0.93,
	"scholar.google.com":      0.85,
	"wikipedia.org":           0.82,
	"en.wikipedia.org":        0.82,
}

// CanonicalReliability looks up the static reliability for a normalized
// host. The second return reports whether the host is in the canonical set.
func CanonicalReliability(host string) (float64, bool) {
	rel, ok := canonicalHosts[host]
	return rel, ok
}

// staticBlacklist lists known disinformation domains. Items from these
// hosts are clamped to the blacklist reliability ceiling and dropped during
// low-trust filtering.
var staticBlacklist = []string{
	"naturalnews.com",
	"infowars.com",
	"beforeitsnews.com",
	"worldtruth.tv",
	"yournewswire.com",
	"newspunch.com",
	"realrawnews.com",
	"thegatewaypundit.com",
	"globalresearch.ca",
	"zerohedge.com",
}

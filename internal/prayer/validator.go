package prayer

import "fmt"

// Severity grades a validation issue.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// score deductions per issue severity.
var severityWeight = map[Severity]int{
	SeverityCritical: 50,
	SeverityError:    20,
	SeverityWarning:  10,
	SeverityInfo:     2,
}

// Issue is one finding from validation.
type Issue struct {
	Severity Severity `json:"severity"`
	Field    string   `json:"field,omitempty"`
	Message  string   `json:"message"`
}

// Report is the outcome of validating a raw provider response.
// Passed requires score >= 70 and no critical issue; only a passed
// report's times may enter the cache.
type Report struct {
	Passed bool    `json:"passed"`
	Score  int     `json:"score"`
	Issues []Issue `json:"issues,omitempty"`
}

func (r Report) HasCritical() bool {
	for _, is := range r.Issues {
		if is.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// hourRange is an inclusive wall-clock window a prayer must start in.
type hourRange struct{ min, max int }

// gapRange bounds the minutes between canonical-adjacent prayers.
type gapRange struct{ min, max int }

// Validator checks a raw response structurally and semantically.
// The plausibility windows default to Cairo's; they are configurable
// because other latitudes shift dawn and dusk considerably.
type Validator struct {
	hourRanges map[Prayer]hourRange
	gaps       [4]gapRange // between Canonical[i] and Canonical[i+1]
}

func NewValidator() *Validator {
	return &Validator{
		hourRanges: map[Prayer]hourRange{
			Fajr:    {3, 6},
			Dhuhr:   {11, 14},
			Asr:     {14, 18},
			Maghrib: {17, 20},
			Isha:    {19, 23},
		},
		gaps: [4]gapRange{
			{360, 600}, // fajr -> dhuhr
			{180, 360}, // dhuhr -> asr
			{120, 300}, // asr -> maghrib
			{60, 180},  // maghrib -> isha
		},
	}
}

// Validate runs the checks in order, short-circuiting once a structural
// failure makes the remaining checks meaningless.
func (v *Validator) Validate(raw RawTimes) Report {
	var issues []Issue

	// 1. presence (alternate key spellings accepted by RawTimes.Get)
	missing := false
	for _, p := range Canonical {
		if _, ok := raw.Get(p); !ok {
			missing = true
			issues = append(issues, Issue{
				Severity: SeverityCritical,
				Field:    string(p),
				Message:  fmt.Sprintf("required prayer %s missing", p),
			})
		}
	}
	if missing {
		return finish(issues)
	}

	// 2. parseability
	parsed := make(map[Prayer]int, len(Canonical)) // minutes since midnight
	bad := false
	for _, p := range Canonical {
		s, _ := raw.Get(p)
		h, m, err := ParseClock(s)
		if err != nil {
			bad = true
			issues = append(issues, Issue{
				Severity: SeverityCritical,
				Field:    string(p),
				Message:  fmt.Sprintf("unparseable time %q", s),
			})
			continue
		}
		parsed[p] = h*60 + m
	}
	if bad {
		return finish(issues)
	}

	// 3. plausible wall-clock windows
	for _, p := range Canonical {
		hr := v.hourRanges[p]
		h := parsed[p] / 60
		if h < hr.min || h > hr.max {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Field:    string(p),
				Message:  fmt.Sprintf("%s at %02d:%02d outside plausible %02d:00-%02d:59", p, h, parsed[p]%60, hr.min, hr.max),
			})
		}
	}

	// 4. strict canonical ordering
	for i := 0; i < len(Canonical)-1; i++ {
		a, b := Canonical[i], Canonical[i+1]
		if parsed[a] >= parsed[b] {
			issues = append(issues, Issue{
				Severity: SeverityCritical,
				Field:    string(b),
				Message:  fmt.Sprintf("%s (%s) not after %s (%s)", b, clock(parsed[b]), a, clock(parsed[a])),
			})
		}
	}

	// 5. gaps between adjacent prayers (soft; never hard-fails alone)
	for i := 0; i < len(Canonical)-1; i++ {
		gap := parsed[Canonical[i+1]] - parsed[Canonical[i]]
		gr := v.gaps[i]
		if gap > 0 && (gap < gr.min || gap > gr.max) {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Field:    string(Canonical[i+1]),
				Message: fmt.Sprintf("gap %s->%s is %dm, expected %d-%dm",
					Canonical[i], Canonical[i+1], gap, gr.min, gr.max),
			})
		}
	}

	return finish(issues)
}

// StillSound re-checks an already-built TimeSet, used when serving cached
// data: it must still respect ordering and plausibility.
func (v *Validator) StillSound(ts TimeSet) bool {
	raw := RawTimes{Times: map[string]string{}, Source: ts.Source}
	for p, t := range ts.Times {
		raw.Times[string(p)] = t.Format("15:04")
	}
	return v.Validate(raw).Passed
}

func finish(issues []Issue) Report {
	score := 100
	critical := false
	for _, is := range issues {
		score -= severityWeight[is.Severity]
		if is.Severity == SeverityCritical {
			critical = true
		}
	}
	if score < 0 {
		score = 0
	}
	return Report{
		Passed: score >= 70 && !critical,
		Score:  score,
		Issues: issues,
	}
}

func clock(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

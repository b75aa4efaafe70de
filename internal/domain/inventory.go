package domain

type StockLevel struct {
	ProductID string         `json:"product_id"`
	Sizes     map[string]int `json:"sizes"`
}

type LineOutcome struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Requested int    `json:"requested"`
	Before    int    `json:"before"`
	After     int    `json:"after"`
}

// Shortfall is the part of the requested quantity that could not be taken
// from stock because the counter was clamped at zero.
func (l LineOutcome) Shortfall() int {
	taken := l.Before - l.After
	if taken >= l.Requested {
		return 0
	}
	return l.Requested - taken
}

type SkippedLine struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
}

type DecrementReport struct {
	Applied []LineOutcome `json:"applied"`
	Skipped []SkippedLine `json:"skipped"`
}

func (r DecrementReport) Shortfalls() []LineOutcome {
	var out []LineOutcome
	for _, line := range r.Applied {
		if line.Shortfall() > 0 {
			out = append(out, line)
		}
	}
	return out
}

// Complete reports whether every line was applied without a shortfall.
func (r DecrementReport) Complete() bool {
	return len(r.Skipped) == 0 && len(r.Shortfalls()) == 0
}

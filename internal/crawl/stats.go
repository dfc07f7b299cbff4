package crawl

// Stats accumulates run counters. Counters only ever grow within a run.
type Stats struct {
	Inserted      int `json:"inserted"`
	Updated       int `json:"updated"`
	Skipped       int `json:"skipped"`
	Errors        int `json:"errors"`
	Retries       int `json:"retries"`
	TotalRequests int `json:"total_requests"`
}

// SuccessRate is (inserted+updated+skipped)/totalRequests as a percentage,
// defined as 100 before any request was issued.
func (s Stats) SuccessRate() float64 {
	if s.TotalRequests == 0 {
		return 100
	}
	return float64(s.Inserted+s.Updated+s.Skipped) / float64(s.TotalRequests) * 100
}

func (s *Stats) addInserted(n int) {
	if n > 0 {
		s.Inserted += n
	}
}

func (s *Stats) addSkipped() {
	s.Skipped++
}

func (s *Stats) addError() {
	s.Errors++
}

func (s *Stats) addRetry() {
	s.Retries++
}

func (s *Stats) addRequest() {
	s.TotalRequests++
}

package store

import (
	"sort"
	"strconv"

	"formsight/internal/model"
)

// QuestionStats summarizes every currently filtered answer to one
// question, across model and user sessions alike.
type QuestionStats struct {
	QuestionID   string         `json:"questionId"`
	Total        int            `json:"total"`
	Answered     int            `json:"answered"`
	Skipped      int            `json:"skipped"`
	Mean         *float64       `json:"mean,omitempty"`
	Min          *float64       `json:"min,omitempty"`
	Max          *float64       `json:"max,omitempty"`
	TrueCount    int            `json:"trueCount"`
	FalseCount   int            `json:"falseCount"`
	OptionCounts map[string]int `json:"optionCounts,omitempty"`
}

// ValueDistribution counts distinct answer values for one question.
// Multi-choice answers contribute one count per selected element.
type ValueDistribution struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// AgreementScore pairs a model profile with its answer agreement against
// the current user view.
type AgreementScore struct {
	SubjectID   string  `json:"subjectId"`
	DisplayName string  `json:"displayName,omitempty"`
	Score       float64 `json:"score"`
}

// SectionGroup is one questionnaire section with its questions in
// position order.
type SectionGroup struct {
	Section   string            `json:"section"`
	Questions []*model.Question `json:"questions"`
}

// Stats returns the memoized summary for one question, computing it on
// first access after a mutation.
func (s *Store) Stats(questionID string) *QuestionStats {
	s.mu.RLock()
	if st, ok := s.statsCache[questionID]; ok {
		s.mu.RUnlock()
		return st
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.statsCache[questionID]; ok {
		return st
	}
	st := s.computeStatsLocked(questionID)
	if s.statsCache == nil {
		s.statsCache = make(map[string]*QuestionStats)
	}
	s.statsCache[questionID] = st
	return st
}

func (s *Store) computeStatsLocked(questionID string) *QuestionStats {
	st := &QuestionStats{QuestionID: questionID}

	var sum float64
	var numeric int
	for _, rec := range s.filteredRecordsLocked() {
		resp, ok := rec.Responses.Get(questionID)
		if !ok {
			continue
		}
		st.Total++
		if resp.IsNull() {
			st.Skipped++
			continue
		}
		st.Answered++
		switch {
		case resp.Number != nil:
			v := *resp.Number
			numeric++
			sum += v
			if st.Min == nil || v < *st.Min {
				st.Min = ptr(v)
			}
			if st.Max == nil || v > *st.Max {
				st.Max = ptr(v)
			}
		case resp.Bool != nil:
			if *resp.Bool {
				st.TrueCount++
			} else {
				st.FalseCount++
			}
		case resp.Text != nil && resp.Kind == model.ValueKindOption:
			if st.OptionCounts == nil {
				st.OptionCounts = make(map[string]int)
			}
			st.OptionCounts[*resp.Text]++
		case resp.List != nil:
			if st.OptionCounts == nil {
				st.OptionCounts = make(map[string]int)
			}
			for _, v := range resp.List {
				st.OptionCounts[v]++
			}
		}
	}
	if numeric > 0 {
		mean := sum / float64(numeric)
		st.Mean = &mean
	}
	return st
}

// Distribution counts every distinct answer value for one question
// across the filtered views. Not memoized; callers hold the result.
func (s *Store) Distribution(questionID string) *ValueDistribution {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dist := &ValueDistribution{Counts: make(map[string]int)}
	for _, rec := range s.filteredRecordsLocked() {
		resp, ok := rec.Responses.Get(questionID)
		if !ok || resp.IsNull() {
			continue
		}
		dist.Total++
		if resp.List != nil {
			for _, v := range resp.List {
				dist.Counts[v]++
			}
			continue
		}
		dist.Counts[valueKey(resp)]++
	}
	return dist
}

// Similarity scores two sessions by the fraction of commonly answered
// questions on which their values agree. Sessions with no overlap score
// zero.
func (s *Store) Similarity(sessionA, sessionB string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, okA := s.sessionLocked(sessionA)
	b, okB := s.sessionLocked(sessionB)
	if !okA || !okB {
		return 0
	}

	var common, equal int
	a.Responses.Range(func(qid string, ra *model.ProcessedResponse) bool {
		rb, ok := b.Responses.Get(qid)
		if !ok || ra.IsNull() || rb.IsNull() {
			return true
		}
		common++
		if ra.EqualValue(rb) {
			equal++
		}
		return true
	})
	if common == 0 {
		return 0
	}
	return float64(equal) / float64(common)
}

// ModelAgreement ranks every filtered model session by its similarity to
// the first selected user session, highest first.
func (s *Store) ModelAgreement() []AgreementScore {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.filteredUserResponses) == 0 {
		return nil
	}
	user := s.filteredUserResponses[0]

	out := make([]AgreementScore, 0, len(s.filteredModelResponses))
	for _, rec := range s.filteredModelResponses {
		score := AgreementScore{DisplayName: rec.DisplayName}
		if rec.SubjectID != nil {
			score.SubjectID = *rec.SubjectID
		}

		var common, equal int
		rec.Responses.Range(func(qid string, rm *model.ProcessedResponse) bool {
			ru, ok := user.Responses.Get(qid)
			if !ok || rm.IsNull() || ru.IsNull() {
				return true
			}
			common++
			if rm.EqualValue(ru) {
				equal++
			}
			return true
		})
		if common > 0 {
			score.Score = float64(equal) / float64(common)
		}
		out = append(out, score)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// QuestionsBySection groups the position-sorted questions by section, in
// order of each section's first appearance.
func (s *Store) QuestionsBySection() []SectionGroup {
	questions := s.QuestionsByPosition()

	var out []SectionGroup
	index := make(map[string]int)
	for _, q := range questions {
		i, ok := index[q.Section]
		if !ok {
			i = len(out)
			index[q.Section] = i
			out = append(out, SectionGroup{Section: q.Section})
		}
		out[i].Questions = append(out[i].Questions, q)
	}
	return out
}

// filteredRecordsLocked concatenates both filtered views for selectors
// that aggregate across respondent kinds.
func (s *Store) filteredRecordsLocked() []*model.SessionResponses {
	if len(s.filteredUserResponses) == 0 {
		return s.filteredModelResponses
	}
	out := make([]*model.SessionResponses, 0, len(s.filteredModelResponses)+len(s.filteredUserResponses))
	out = append(out, s.filteredModelResponses...)
	out = append(out, s.filteredUserResponses...)
	return out
}

func (s *Store) sessionLocked(id string) (*model.SessionResponses, bool) {
	if rec, ok := s.modelSessions.Get(id); ok {
		return rec, ok
	}
	return s.userSessions.Get(id)
}

func valueKey(r *model.ProcessedResponse) string {
	switch {
	case r.Text != nil:
		return *r.Text
	case r.Number != nil:
		return strconv.FormatFloat(*r.Number, 'f', -1, 64)
	case r.Bool != nil:
		return strconv.FormatBool(*r.Bool)
	}
	return ""
}

func ptr(v float64) *float64 { return &v }

package proctor

import (
	"testing"

	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor/proctortest"
	"github.com/stretchr/testify/assert"
)

func TestScorerFixedAssessments(t *testing.T) {
	s := NewScorer(proctortest.FixedRand(19))
	all := model.Sections{Coding: true, MCQ: true, OpenEnded: true}

	tests := []struct {
		id     string
		score  int
		passed bool
	}{
		{id: "high-score-assessment", score: 85, passed: true},
		{id: "low-score-assessment", score: 45, passed: false},
		{id: "scheduled-assessment", score: 35, passed: false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			for _, sections := range []model.Sections{{}, all} {
				got := s.Score(tt.id, sections)
				assert.Equal(t, tt.score, got)
				assert.Equal(t, tt.passed, Passed(got))
			}
		})
	}
}

func TestScorerFormula(t *testing.T) {
	tests := []struct {
		name     string
		bonus    int
		sections model.Sections
		want     int
	}{
		{name: "nothing completed", bonus: 0, sections: model.Sections{}, want: 0},
		{name: "one section", bonus: 7, sections: model.Sections{Coding: true}, want: 37},
		{name: "two sections", bonus: 19, sections: model.Sections{Coding: true, MCQ: true}, want: 79},
		{name: "capped at 100", bonus: 19, sections: model.Sections{Coding: true, MCQ: true, OpenEnded: true}, want: 100},
		{name: "bonus below ceiling", bonus: 25, sections: model.Sections{}, want: 19},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewScorer(proctortest.FixedRand(tt.bonus))
			assert.Equal(t, tt.want, s.Score("some-assessment", tt.sections))
		})
	}
}

func TestScorerDefaultSourceStaysInRange(t *testing.T) {
	s := NewScorer(nil)
	for i := 0; i < 200; i++ {
		got := s.Score("random", model.Sections{MCQ: true})
		assert.GreaterOrEqual(t, got, 30)
		assert.Less(t, got, 50)
	}
}

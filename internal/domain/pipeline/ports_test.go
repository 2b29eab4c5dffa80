package pipeline_test

import (
	"testing"

	"tender-radar/internal/domain/pipeline"
)

func TestVerdictBoost(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		verdict pipeline.Verdict
		want    int
	}{
		{"high confidence", pipeline.Verdict{Confidence: 82, Decision: pipeline.DecisionAccept}, 15},
		{"confidence at 60", pipeline.Verdict{Confidence: 60, Decision: pipeline.DecisionAccept}, 15},
		{"mid confidence", pipeline.Verdict{Confidence: 45, Decision: pipeline.DecisionAccept}, 10},
		{"confidence at 40", pipeline.Verdict{Confidence: 40, Decision: pipeline.DecisionAccept}, 10},
		{"recheck band", pipeline.Verdict{Confidence: 30, Decision: pipeline.DecisionRecheck}, 0},
		{"reject", pipeline.Verdict{Confidence: 5, Decision: pipeline.DecisionReject}, 0},
		{"unknown adds nothing", pipeline.Unknown(), 0},
		// UNKNOWN не превращается в надбавку даже с ненулевой уверенностью.
		{"unknown with stray confidence", pipeline.Verdict{Confidence: 90, Decision: pipeline.DecisionUnknown}, 0},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.verdict.Boost(); got != tc.want {
				t.Errorf("Boost() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDecisionFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		confidence int
		want       pipeline.Decision
	}{
		{95, pipeline.DecisionAccept},
		{40, pipeline.DecisionAccept},
		{39, pipeline.DecisionRecheck},
		{25, pipeline.DecisionRecheck},
		{24, pipeline.DecisionReject},
		{0, pipeline.DecisionReject},
	}
	for _, tc := range cases {
		if got := pipeline.DecisionFor(tc.confidence); got != tc.want {
			t.Errorf("DecisionFor(%d) = %q, want %q", tc.confidence, got, tc.want)
		}
	}
}

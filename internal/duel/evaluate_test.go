package duel

import (
	"errors"
	"testing"
)

var target = ProblemRef{ContestID: 1800, Index: "A"}

func ac(ts int64) Submission {
	return Submission{ContestID: 1800, Index: "A", Verdict: VerdictAccepted, CreationTimeSeconds: ts}
}

func TestEvaluateOneDecided(t *testing.T) {
	t.Parallel()
	got, err := Evaluate(target, "alice", []Submission{ac(100)}, "bob", []Submission{
		{ContestID: 1800, Index: "B", Verdict: VerdictAccepted, CreationTimeSeconds: 50},
		{ContestID: 1800, Index: "A", Verdict: "WRONG_ANSWER", CreationTimeSeconds: 60},
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Kind != OneDecided || got.Winner != "alice" || got.Loser != "bob" || got.WinnerTime != 100 {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if got.LoserTime != nil || got.TimeDiff != nil {
		t.Fatalf("one-decided must not carry loser timing: %+v", got)
	}
}

func TestEvaluateEarlierTimestampWinsRegardlessOfOrder(t *testing.T) {
	t.Parallel()
	got, err := Evaluate(target, "alice", []Submission{ac(100)}, "bob", []Submission{ac(90)})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Kind != BothDecided || got.Winner != "bob" || got.Loser != "alice" {
		t.Fatalf("unexpected outcome: %+v", got)
	}
	if got.WinnerTime != 90 || *got.LoserTime != 100 || *got.TimeDiff != 10 {
		t.Fatalf("unexpected timing: %+v", got)
	}
}

func TestFirstAcceptedScansUnsortedInput(t *testing.T) {
	t.Parallel()
	subs := []Submission{ac(300), {ContestID: 1800, Index: "a", Verdict: VerdictAccepted, CreationTimeSeconds: 120}, ac(200)}
	ts, ok, err := FirstAccepted(subs, target)
	if err != nil || !ok {
		t.Fatalf("FirstAccepted ok=%v err=%v", ok, err)
	}
	if ts != 120 {
		t.Fatalf("ts = %d, want earliest match 120", ts)
	}
}

func TestEvaluateTieGoesToFirstHandle(t *testing.T) {
	t.Parallel()
	got, err := Evaluate(target, "alice", []Submission{ac(100)}, "bob", []Submission{ac(100)})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Winner != "alice" || *got.TimeDiff != 0 {
		t.Fatalf("tie should resolve to handle A: %+v", got)
	}

	swapped, _ := Evaluate(target, "bob", []Submission{ac(100)}, "alice", []Submission{ac(100)})
	if swapped.Winner != "bob" {
		t.Fatalf("tie should resolve to handle A after swap: %+v", swapped)
	}
}

func TestEvaluateUndecided(t *testing.T) {
	t.Parallel()
	got, err := Evaluate(target, "alice", nil, "bob", []Submission{{ContestID: 1799, Index: "A", Verdict: VerdictAccepted, CreationTimeSeconds: 5}})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Kind != Undecided {
		t.Fatalf("Kind = %v, want undecided", got.Kind)
	}
}

func TestEvaluateRejectsBadTimestamp(t *testing.T) {
	t.Parallel()
	_, err := Evaluate(target, "alice", []Submission{ac(0)}, "bob", nil)
	if !errors.Is(err, ErrEvaluation) {
		t.Fatalf("err = %v, want ErrEvaluation", err)
	}
}

func TestParseProblemRef(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    ProblemRef
		wantErr bool
	}{
		{raw: "1800/A", want: ProblemRef{ContestID: 1800, Index: "A"}},
		{raw: " 1790/b1 ", want: ProblemRef{ContestID: 1790, Index: "B1"}},
		{raw: "1800A", wantErr: true},
		{raw: "x/A", wantErr: true},
		{raw: "0/A", wantErr: true},
		{raw: "1800/", wantErr: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.raw, func(t *testing.T) {
			t.Parallel()
			got, err := ParseProblemRef(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidProblemRef) {
					t.Fatalf("err = %v, want ErrInvalidProblemRef", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseProblemRef: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			if got.String() != tt.want.String() {
				t.Fatalf("String() = %s", got.String())
			}
		})
	}
}

func TestStateClassification(t *testing.T) {
	t.Parallel()
	if StateTracking.Terminal() {
		t.Fatal("tracking is not terminal")
	}
	for _, s := range []State{StateDecidedBoth, StateDecidedOne, StateTimeout, StateError, StateCancelled} {
		if !s.Terminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	if !StateDecidedOne.Decided() || StateCancelled.Decided() {
		t.Fatal("Decided() misclassifies states")
	}
	if State("bogus").Valid() {
		t.Fatal("unknown state reported valid")
	}
}

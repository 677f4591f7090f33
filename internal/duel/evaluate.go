package duel

import (
	"fmt"
	"strings"
)

type OutcomeKind int

const (
	Undecided OutcomeKind = iota
	OneDecided
	BothDecided
)

func (k OutcomeKind) String() string {
	switch k {
	case OneDecided:
		return "one-decided"
	case BothDecided:
		return "both-decided"
	default:
		return "undecided"
	}
}

// Outcome is the evaluator result.
//
// LoserTime and TimeDiff are set only for BothDecided.
type Outcome struct {
	Kind       OutcomeKind
	Winner     string
	Loser      string
	WinnerTime int64
	LoserTime  *int64
	TimeDiff   *int64
}

// FirstAccepted scans every submission (no ordering is assumed) and returns
// the earliest creation time of an accepted submission for target.
func FirstAccepted(subs []Submission, target ProblemRef) (int64, bool, error) {
	var (
		best  int64
		found bool
	)
	for _, s := range subs {
		if s.ContestID != target.ContestID || !strings.EqualFold(strings.TrimSpace(s.Index), target.Index) {
			continue
		}
		if s.Verdict != VerdictAccepted {
			continue
		}
		if s.CreationTimeSeconds <= 0 {
			return 0, false, fmt.Errorf("%w: accepted submission for %s has creation time %d", ErrEvaluation, target, s.CreationTimeSeconds)
		}
		if !found || s.CreationTimeSeconds < best {
			best = s.CreationTimeSeconds
			found = true
		}
	}
	return best, found, nil
}

// Decide turns per-handle solve times (nil = not solved) into an Outcome.
//
// Tie-break: when both timestamps are equal, handle A (the first-checked
// handle) wins.
func Decide(handleA string, aTime *int64, handleB string, bTime *int64) Outcome {
	switch {
	case aTime != nil && bTime != nil:
		winner, loser := handleA, handleB
		wt, lt := *aTime, *bTime
		if *bTime < *aTime {
			winner, loser = handleB, handleA
			wt, lt = *bTime, *aTime
		}
		return Outcome{Kind: BothDecided, Winner: winner, Loser: loser, WinnerTime: wt, LoserTime: Int64(lt), TimeDiff: Int64(lt - wt)}
	case aTime != nil:
		return Outcome{Kind: OneDecided, Winner: handleA, Loser: handleB, WinnerTime: *aTime}
	case bTime != nil:
		return Outcome{Kind: OneDecided, Winner: handleB, Loser: handleA, WinnerTime: *bTime}
	default:
		return Outcome{Kind: Undecided}
	}
}

// Evaluate is the one-shot form: it scans both submission lists and decides.
func Evaluate(target ProblemRef, handleA string, subsA []Submission, handleB string, subsB []Submission) (Outcome, error) {
	var aTime, bTime *int64
	if t, ok, err := FirstAccepted(subsA, target); err != nil {
		return Outcome{}, err
	} else if ok {
		aTime = Int64(t)
	}
	if t, ok, err := FirstAccepted(subsB, target); err != nil {
		return Outcome{}, err
	} else if ok {
		bTime = Int64(t)
	}
	return Decide(handleA, aTime, handleB, bTime), nil
}

package orchestrator

import (
	"reflect"
	"testing"

	"github.com/vango-go/voicebridge/pkg/brain"
)

func TestSegmenter_SplitsAtSentenceBoundaries(t *testing.T) {
	var g segmenter

	if got := g.Push("Hello there"); got != nil {
		t.Errorf("incomplete sentence yielded %v", got)
	}
	got := g.Push(". How are you? I'm")
	want := []string{"Hello there.", "How are you?"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Push = %v, want %v", got, want)
	}
	if rest := g.Flush(); rest != "I'm" {
		t.Errorf("Flush = %q, want %q", rest, "I'm")
	}
	if rest := g.Flush(); rest != "" {
		t.Errorf("second Flush = %q, want empty", rest)
	}
}

func TestSegmenter_TrailingTerminatorWaitsForNextDelta(t *testing.T) {
	var g segmenter

	if got := g.Push("Done."); got != nil {
		t.Errorf("trailing period yielded %v before whitespace", got)
	}
	got := g.Push(" Next")
	if len(got) != 1 || got[0] != "Done." {
		t.Errorf("Push = %v, want [Done.]", got)
	}
}

func TestSegmenter_AbbreviationsDoNotSplit(t *testing.T) {
	var g segmenter

	cases := []string{
		"Dr. Smith is here",
		"See e.g. the manual",
		"Ask J. Doe about it",
	}
	for _, text := range cases {
		g.Flush()
		if got := g.Push(text); got != nil {
			t.Errorf("Push(%q) = %v, want no split", text, got)
		}
	}
}

func TestSegmenter_MultipleSentencesInOneDelta(t *testing.T) {
	var g segmenter

	got := g.Push("One. Two! Three? Four")
	want := []string{"One.", "Two!", "Three?"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Push = %v, want %v", got, want)
	}
}

func TestToolAccumulator_ReassemblesFragments(t *testing.T) {
	var a toolAccumulator

	if got := a.add(brain.ToolCallDelta{Index: 0, ID: "t1", Name: "search", Arguments: `{"q":`}); got != nil {
		t.Errorf("first fragment completed %v", got)
	}
	if got := a.add(brain.ToolCallDelta{Index: 0, Arguments: `"go"}`}); got != nil {
		t.Errorf("same-index fragment completed %v", got)
	}

	// A fragment for index 1 completes index 0.
	got := a.add(brain.ToolCallDelta{Index: 1, ID: "t2", Name: "fetch"})
	if len(got) != 1 || got[0].name != "search" || got[0].args != `{"q":"go"}` {
		t.Fatalf("completed = %+v", got)
	}

	rest := a.flush()
	if len(rest) != 1 || rest[0].name != "fetch" {
		t.Fatalf("flush = %+v", rest)
	}
	if again := a.flush(); again != nil {
		t.Errorf("second flush = %+v, want nil", again)
	}
}

func TestSameUtterance(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"what's the weather", "What's the weather.", true},
		{"what's  the   weather", "what's the weather", true},
		{"what's the", "what's the weather", false},
		{"", "", true},
	}
	for _, tc := range cases {
		if got := sameUtterance(tc.a, tc.b); got != tc.want {
			t.Errorf("sameUtterance(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestTurnState_Transitions(t *testing.T) {
	valid := []struct{ from, to TurnState }{
		{StateListening, StateTranscribing},
		{StateTranscribing, StateGenerating},
		{StateGenerating, StateSpeaking},
		{StateSpeaking, StateIdle},
		{StateGenerating, StateListening},
		{StateSpeaking, StateListening},
		{StateSpeaking, StateGenerating},
		{StateIdle, StateListening},
	}
	for _, tc := range valid {
		if !tc.from.canAdvance(tc.to) {
			t.Errorf("%s -> %s should be valid", tc.from, tc.to)
		}
	}

	invalid := []struct{ from, to TurnState }{
		{StateListening, StateSpeaking},
		{StateIdle, StateGenerating},
		{StateIdle, StateSpeaking},
	}
	for _, tc := range invalid {
		if tc.from.canAdvance(tc.to) {
			t.Errorf("%s -> %s should be invalid", tc.from, tc.to)
		}
	}
}

package stages

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dcui26/multiagent-coding-assistant/internal/llm"
	"github.com/dcui26/multiagent-coding-assistant/internal/pipeline/runtime"
)

const goodMemory = "```json\n" + `{
  "pending_tasks": [],
  "completed_tasks": ["build a calculator"],
  "known_files": ["calculator.py", "test_calculator.py"],
  "error_log": []
}` + "\n```"

func TestCommitter_SavesMemory(t *testing.T) {
	f := newFixture(t, goodMemory)
	require.NoError(t, f.files.Write("calculator.py", "x"))
	require.NoError(t, f.files.Write("test_calculator.py", "y"))
	rc := context0("build a calculator")
	rc.LoopDone = true
	rc.History = []runtime.HistoryEntry{
		{Actor: runtime.StageProducer, Outcome: runtime.OutcomeWrote, Files: []runtime.FileDigest{{Path: "calculator.py"}}},
		{Actor: runtime.StageVerifier, Outcome: runtime.OutcomeApproved},
	}

	out, err := NewCommitter(f.deps).Execute(context.Background(), rc)
	require.NoError(t, err)
	u := mustUpdate(t, out)
	assert.Equal(t, "Task Complete. Memory updated. (Files: 2)", *u.Summary)
	assert.Equal(t, "2026-03-01T12:00:00Z", u.MemoryUpdate["last_updated"])
	assert.Equal(t, runtime.OutcomeCommitted, u.History[0].Outcome)

	_, memory := f.mind.Load()
	assert.Equal(t, []any{"calculator.py", "test_calculator.py"}, memory["known_files"])
	assert.Equal(t, "2026-03-01T12:00:00Z", memory["last_updated"])

	system := f.llm.Calls()[0].System
	assert.Contains(t, system, "- PRODUCER: wrote (files: calculator.py)")
	assert.Contains(t, system, "- VERIFIER: approved")
	assert.Contains(t, system, "calculator.py, test_calculator.py")
}

func TestCommitter_FailuresAreLocal(t *testing.T) {
	cases := map[string]struct {
		reply   llm.Reply
		outcome string
	}{
		"not json":          {llm.Reply{Text: "I updated the memory."}, runtime.OutcomeCommitParseFailure},
		"broken json":       {llm.Reply{Text: `{"known_files": [}`}, runtime.OutcomeCommitParseFailure},
		"schema violation":  {llm.Reply{Text: `{"pending_tasks": "none", "completed_tasks": [], "known_files": [], "error_log": []}`}, runtime.OutcomeCommitParseFailure},
		"missing keys":      {llm.Reply{Text: `{"known_files": []}`}, runtime.OutcomeCommitParseFailure},
		"collaborator down": {llm.Reply{Err: errors.New("status 500")}, runtime.OutcomeCollaboratorFailure},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.mind.Reset()
			require.NoError(t, err)
			f.llm.Queue(tc.reply)
			out, err := NewCommitter(f.deps).Execute(context.Background(), context0("build"))
			require.NoError(t, err)
			u := mustUpdate(t, out)
			assert.Equal(t, commitFailedSummary, *u.Summary)
			assert.Empty(t, u.MemoryUpdate)
			assert.NotNil(t, u.MemoryUpdate)
			assert.Equal(t, tc.outcome, u.History[0].Outcome)
			assert.Error(t, out.Degraded)

			_, memory := f.mind.Load()
			assert.NotContains(t, memory, "last_updated", "memory must be left untouched")
		})
	}
}

func TestCommitter_ExhaustedSummary(t *testing.T) {
	f := newFixture(t, goodMemory)
	rc := context0("build")
	rc.Exhausted = true
	rc.LoopIterations = 5
	out, err := NewCommitter(f.deps).Execute(context.Background(), rc)
	require.NoError(t, err)
	assert.Contains(t, *mustUpdate(t, out).Summary, "Stopped after 5 iterations")
	assert.Contains(t, f.llm.Calls()[0].System, "stopped after 5 iterations without approval")
}

package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/phaseledger/internal/canonical"
)

func startedMachine(t *testing.T, max int) *Machine {
	t.Helper()
	m := NewMachine(max)
	require.NoError(t, m.Start())
	return m
}

func walk(t *testing.T, m *Machine, phases ...Phase) {
	t.Helper()
	for _, p := range phases {
		require.NoError(t, m.Transition(p), "transition to %s", p)
	}
}

func TestMachineHappyPath(t *testing.T) {
	m := startedMachine(t, 3)
	assert.Equal(t, PhaseInit, m.Current())

	walk(t, m, PhasePlan, PhaseExecute, PhaseJudge, PhaseVerify, PhaseFinalize, PhaseDone)

	assert.True(t, m.IsTerminal())
	assert.Equal(t, TerminationCompleted, m.TerminationReason())
	assert.Equal(t, 0, m.Iterations())
}

func TestMachineRejectsSkippedPhase(t *testing.T) {
	m := startedMachine(t, 3)

	err := m.Transition(PhaseExecute)
	require.Error(t, err)
	assert.True(t, IsIllegalTransition(err))

	var ite *IllegalTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, PhaseInit, ite.From)
	assert.Equal(t, PhaseExecute, ite.To)
	assert.Equal(t, PhaseInit, m.Current(), "state must not change on rejection")
}

func TestMachineRejectsAbortedAsTransitionTarget(t *testing.T) {
	m := startedMachine(t, 3)

	err := m.Transition(PhaseAborted)
	assert.True(t, IsIllegalTransition(err))
}

func TestMachineNotStarted(t *testing.T) {
	m := NewMachine(3)

	assert.ErrorIs(t, m.Transition(PhasePlan), ErrNotStarted)
	assert.ErrorIs(t, m.LoopBackToExecute(), ErrNotStarted)
	assert.ErrorIs(t, m.Abort(TerminationFailure), ErrNotStarted)
	assert.Equal(t, Phase(""), m.Current())
}

func TestMachineStartTwice(t *testing.T) {
	m := startedMachine(t, 3)
	assert.True(t, IsIllegalTransition(m.Start()))
}

func TestMachineLoopBackBounded(t *testing.T) {
	m := startedMachine(t, 3)
	walk(t, m, PhasePlan, PhaseExecute, PhaseJudge, PhaseVerify)

	for i := 1; i <= 3; i++ {
		require.NoError(t, m.LoopBackToExecute())
		assert.Equal(t, i, m.Iterations())
		walk(t, m, PhaseJudge, PhaseVerify)
	}

	err := m.LoopBackToExecute()
	require.Error(t, err)
	assert.True(t, IsIterationLimit(err))

	var ile *IterationLimitError
	require.ErrorAs(t, err, &ile)
	assert.Equal(t, 3, ile.Max)
	assert.Equal(t, 4, ile.Iterations)
	assert.Equal(t, PhaseAborted, m.Current())
	assert.True(t, m.IsTerminal())
	assert.Equal(t, TerminationResourceExhaustion, m.TerminationReason())
	assert.Equal(t, 3, m.Iterations())

	assert.True(t, IsIllegalTransition(m.Abort(TerminationFailure)), "already aborted")
	assert.True(t, IsIllegalTransition(m.Transition(PhaseExecute)))
}

func TestMachineTransitionToExecuteFromVerifyCountsIteration(t *testing.T) {
	m := startedMachine(t, 1)
	walk(t, m, PhasePlan, PhaseExecute, PhaseJudge, PhaseVerify, PhaseExecute)
	assert.Equal(t, 1, m.Iterations())

	walk(t, m, PhaseJudge, PhaseVerify)
	assert.True(t, IsIterationLimit(m.Transition(PhaseExecute)))
	assert.Equal(t, PhaseAborted, m.Current())
}

func TestMachineLoopBackOnlyFromVerify(t *testing.T) {
	m := startedMachine(t, 3)
	walk(t, m, PhasePlan, PhaseExecute, PhaseJudge)

	assert.True(t, IsIllegalTransition(m.LoopBackToExecute()))
	assert.Equal(t, 0, m.Iterations())
}

func TestMachineZeroBoundDisablesLoopBack(t *testing.T) {
	m := startedMachine(t, 0)
	walk(t, m, PhasePlan, PhaseExecute, PhaseJudge, PhaseVerify)

	assert.True(t, IsIterationLimit(m.LoopBackToExecute()))
	assert.Equal(t, TerminationResourceExhaustion, m.TerminationReason())
}

func TestMachineAbortFromEveryNonTerminalPhase(t *testing.T) {
	path := []Phase{PhaseInit, PhasePlan, PhaseExecute, PhaseJudge, PhaseVerify, PhaseFinalize}

	for i, at := range path {
		t.Run(string(at), func(t *testing.T) {
			m := startedMachine(t, 3)
			walk(t, m, path[1:i+1]...)
			require.Equal(t, at, m.Current())

			require.NoError(t, m.Abort(TerminationUserAbort))
			assert.Equal(t, PhaseAborted, m.Current())
			assert.Equal(t, TerminationUserAbort, m.TerminationReason())
		})
	}
}

func TestMachineTerminalStatesAreFinal(t *testing.T) {
	done := startedMachine(t, 3)
	walk(t, done, PhasePlan, PhaseExecute, PhaseJudge, PhaseVerify, PhaseFinalize, PhaseDone)

	aborted := startedMachine(t, 3)
	require.NoError(t, aborted.Abort(TerminationFailure))

	for _, m := range []*Machine{done, aborted} {
		for _, p := range Phases() {
			assert.True(t, IsIllegalTransition(m.Transition(p)), "%s → %s", m.Current(), p)
		}
		assert.True(t, IsIllegalTransition(m.Abort(TerminationFailure)))
	}
}

func TestMachineAbortRejectsSuccessReasons(t *testing.T) {
	m := startedMachine(t, 3)

	assert.Error(t, m.Abort(TerminationCompleted))
	assert.Error(t, m.Abort(TerminationConvergence))
	assert.Error(t, m.Abort(TerminationReason("bored")))
	assert.Equal(t, PhaseInit, m.Current())
}

func TestGraphShape(t *testing.T) {
	assert.Equal(t, []Phase{PhaseExecute, PhaseFinalize}, Successors(PhaseVerify))
	assert.Empty(t, Successors(PhaseDone))
	assert.Empty(t, Successors(PhaseAborted))

	for _, p := range Phases() {
		if p.IsTerminal() {
			continue
		}
		assert.NotEmpty(t, Successors(p), "%s must have a successor", p)
		assert.False(t, CanTransition(p, PhaseAborted), "abort is not a table edge")
	}
}

func TestSuccessorsReturnsCopy(t *testing.T) {
	succ := Successors(PhaseVerify)
	succ[0] = PhaseDone

	assert.Equal(t, []Phase{PhaseExecute, PhaseFinalize}, Successors(PhaseVerify))
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("JUDGE")
	require.NoError(t, err)
	assert.Equal(t, PhaseJudge, p)

	_, err = ParsePhase("judge")
	assert.Error(t, err)
}

func TestStandardDefinitionFingerprintStable(t *testing.T) {
	a := StandardDefinition().Payload()
	b := StandardDefinition().Payload()

	assert.Equal(t, canonical.MustMarshal(a), canonical.MustMarshal(b))
	assert.Equal(t, DefinitionName, a["name"])
}

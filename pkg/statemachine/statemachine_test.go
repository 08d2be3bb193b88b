package statemachine_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/billingkit/pkg/statemachine"
)

type state string

type event string

const (
	draft     state = "draft"
	inReview  state = "in_review"
	approved  state = "approved"
	rejected  state = "rejected"
	published state = "published"

	submit  event = "submit"
	approve event = "approve"
	reject  event = "reject"
	publish event = "publish"
)

func TestMachine_Fire(t *testing.T) {
	t.Parallel()

	m := statemachine.MustNew(
		statemachine.WithTransition[state, event](draft, inReview, submit),
		statemachine.WithTransition[state, event](inReview, approved, approve),
	)
	ctx := context.Background()

	t.Run("returns target state", func(t *testing.T) {
		t.Parallel()
		next, err := m.Fire(ctx, draft, submit, nil)
		require.NoError(t, err)
		assert.Equal(t, inReview, next)
	})

	t.Run("unknown edge", func(t *testing.T) {
		t.Parallel()
		next, err := m.Fire(ctx, draft, approve, nil)
		require.Error(t, err)
		assert.True(t, statemachine.IsNoTransitionAvailableError(err))
		assert.False(t, statemachine.IsTransitionRejectedError(err))
		assert.Equal(t, draft, next)

		var terr *statemachine.TransitionError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, string(draft), terr.From)
		assert.Equal(t, string(approve), terr.Event)
	})

	t.Run("zero event", func(t *testing.T) {
		t.Parallel()
		_, err := m.Fire(ctx, draft, "", nil)
		assert.ErrorIs(t, err, statemachine.ErrInvalidEvent)
	})

	t.Run("state is not shared between callers", func(t *testing.T) {
		t.Parallel()
		a, err := m.Fire(ctx, draft, submit, nil)
		require.NoError(t, err)
		b, err := m.Fire(ctx, inReview, approve, nil)
		require.NoError(t, err)
		assert.Equal(t, inReview, a)
		assert.Equal(t, approved, b)
	})
}

func TestMachine_Guards(t *testing.T) {
	t.Parallel()

	authorized := func(_ context.Context, _ state, _ event, data any) bool {
		ok, _ := data.(bool)
		return ok
	}

	m := statemachine.MustNew(
		statemachine.WithTransition(draft, inReview, submit,
			statemachine.WithGuard(authorized),
		),
	)
	ctx := context.Background()

	assert.False(t, m.CanFire(ctx, draft, submit, false))
	_, err := m.Fire(ctx, draft, submit, false)
	assert.True(t, statemachine.IsTransitionRejectedError(err))

	assert.True(t, m.CanFire(ctx, draft, submit, true))
	next, err := m.Fire(ctx, draft, submit, true)
	require.NoError(t, err)
	assert.Equal(t, inReview, next)
}

func TestMachine_GuardBranching(t *testing.T) {
	t.Parallel()

	isGood := func(_ context.Context, _ state, _ event, data any) bool {
		return data == "good"
	}

	m := statemachine.MustNew(
		statemachine.WithTransition(inReview, approved, approve, statemachine.WithGuard(isGood)),
		statemachine.WithTransition[state, event](inReview, rejected, approve),
	)
	ctx := context.Background()

	next, err := m.Fire(ctx, inReview, approve, "good")
	require.NoError(t, err)
	assert.Equal(t, approved, next)

	next, err = m.Fire(ctx, inReview, approve, "bad")
	require.NoError(t, err)
	assert.Equal(t, rejected, next)
}

func TestMachine_Actions(t *testing.T) {
	t.Parallel()

	var seen []string
	record := func(_ context.Context, from, to state, ev event, _ any) error {
		seen = append(seen, string(from)+"->"+string(to)+":"+string(ev))
		return nil
	}
	boom := func(context.Context, state, state, event, any) error {
		return errors.New("boom")
	}

	m := statemachine.MustNew(
		statemachine.WithTransition(approved, published, publish, statemachine.WithAction(record)),
		statemachine.WithTransition(inReview, rejected, reject, statemachine.WithAction(boom)),
	)
	ctx := context.Background()

	next, err := m.Fire(ctx, approved, publish, nil)
	require.NoError(t, err)
	assert.Equal(t, published, next)
	assert.Equal(t, []string{"approved->published:publish"}, seen)

	next, err = m.Fire(ctx, inReview, reject, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "action failed")
	assert.Equal(t, inReview, next)
}

func TestMachine_WithTransitionFrom(t *testing.T) {
	t.Parallel()

	m := statemachine.MustNew(
		statemachine.WithTransitionFrom([]state{draft, inReview, approved}, rejected, reject),
	)
	ctx := context.Background()

	for _, from := range []state{draft, inReview, approved} {
		next, err := m.Fire(ctx, from, reject, nil)
		require.NoError(t, err)
		assert.Equal(t, rejected, next)
	}
	assert.Equal(t, []event{reject}, m.Events(draft))
	assert.Empty(t, m.Events(published))
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	_, err := statemachine.New[state, event]()
	assert.ErrorIs(t, err, statemachine.ErrNoTransitions)

	_, err = statemachine.New(statemachine.WithTransition[state, event]("", inReview, submit))
	assert.ErrorIs(t, err, statemachine.ErrInvalidTransition)

	assert.Panics(t, func() {
		statemachine.MustNew[state, event]()
	})
}

func TestMachine_ConcurrentFire(t *testing.T) {
	t.Parallel()

	m := statemachine.MustNew(
		statemachine.WithTransition[state, event](draft, inReview, submit),
		statemachine.WithTransition[state, event](inReview, draft, reject),
	)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			from, ev, want := draft, submit, inReview
			if i%2 == 1 {
				from, ev, want = inReview, reject, draft
			}
			next, err := m.Fire(ctx, from, ev, nil)
			assert.NoError(t, err)
			assert.Equal(t, want, next)
		}()
	}
	wg.Wait()
}

package arena

import (
	"context"
	"errors"

	"github.com/brensch/pit/game"
	"github.com/rs/zerolog"
)

// Tally counts evaluation results from the first contestant's side.
type Tally struct {
	OneWon int `json:"one_won"`
	TwoWon int `json:"two_won"`
	Draws  int `json:"draws"`
}

// Contestant builds the source a contestant uses in game i.
type Contestant func(i int) Source

// Evaluate plays n games between one and two, swapping who starts each
// game. It stops early when ctx ends and returns the games played so far.
func Evaluate(ctx context.Context, g game.Game, one, two Contestant, n int, log zerolog.Logger, onGame func(i int, r Result)) (Tally, error) {
	var t Tally
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return t, err
		}

		a, b := one(i), two(i)
		first := game.One
		if i%2 == 1 {
			a, b = b, a
			first = game.Two
		}

		e := New(g, a, b, Options{Logger: log})
		if err := e.Start(ctx, nil); err != nil {
			return t, err
		}
		e.Wait()

		st := e.Snapshot()
		if st.Err != nil {
			return t, st.Err
		}
		if st.Result == nil {
			if err := ctx.Err(); err != nil {
				return t, err
			}
			return t, errors.New("evaluation game ended without a result")
		}

		switch st.Result.Winner {
		case first:
			t.OneWon++
		case first.Other():
			t.TwoWon++
		default:
			t.Draws++
		}
		if onGame != nil {
			onGame(i, *st.Result)
		}
	}
	return t, nil
}

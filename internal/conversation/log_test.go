package conversation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedLog() *Log {
	l := NewLog()
	n := 0
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.newID = func() string {
		n++
		return fmt.Sprintf("turn-%d", n)
	}
	l.now = func() time.Time { return base.Add(time.Duration(n) * time.Second) }
	return l
}

func TestAppendKeepsCreationOrder(t *testing.T) {
	l := fixedLog()

	first, err := l.Append(RoleUser, "  what is the weather ")
	require.NoError(t, err)
	require.Equal(t, "what is the weather", first.Text)
	require.Equal(t, "turn-1", first.ID)

	second, err := l.Append(RoleAssistant, "Sunny.")
	require.NoError(t, err)

	turns := l.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, first, turns[0])
	require.Equal(t, second, turns[1])
	require.Equal(t, 2, l.Len())
}

func TestAppendRejectsEmptyAndSystem(t *testing.T) {
	l := NewLog()

	_, err := l.Append(RoleUser, "   ")
	require.ErrorIs(t, err, ErrEmptyText)

	_, err = l.Append(RoleSystem, "be nice")
	require.ErrorIs(t, err, ErrInvalidSpeaker)

	require.Zero(t, l.Len())
}

func TestTurnsReturnsCopy(t *testing.T) {
	l := NewLog()
	_, err := l.Append(RoleUser, "hello")
	require.NoError(t, err)

	turns := l.Turns()
	turns[0].Text = "mutated"

	require.Equal(t, "hello", l.Turns()[0].Text)
}

func TestAppendFallbackMarksTurn(t *testing.T) {
	l := NewLog()
	turn, err := l.AppendFallback("Sorry, I encountered an error. Please try again.")
	require.NoError(t, err)
	require.True(t, turn.Fallback)
	require.Equal(t, RoleAssistant, turn.Speaker)

	found, ok := l.Find(turn.ID)
	require.True(t, ok)
	require.Equal(t, turn, found)

	_, ok = l.Find("missing")
	require.False(t, ok)
}

func TestUniqueIDs(t *testing.T) {
	l := NewLog()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.Append(RoleUser, "hi")
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, turn := range l.Turns() {
		require.False(t, seen[turn.ID])
		seen[turn.ID] = true
	}
	require.Len(t, seen, 50)
}

func TestMessages(t *testing.T) {
	l := fixedLog()
	_, _ = l.Append(RoleUser, "hello there")
	_, _ = l.Append(RoleAssistant, "Greetings, traveler.")

	got := Messages(" You are terse. ", l.Turns())
	require.Equal(t, []Message{
		{Role: RoleSystem, Content: "You are terse."},
		{Role: RoleUser, Content: "hello there"},
		{Role: RoleAssistant, Content: "Greetings, traveler."},
	}, got)

	require.Len(t, Messages("", l.Turns()), 2)
}

package batch

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressReportsUpdates(t *testing.T) {
	var updates []string
	p := NewProgress(func(done, total int, text string) {
		updates = append(updates, fmt.Sprintf("%d/%d %s", done, total, text))
	})

	p.SetTotal(2)
	p.Advance()
	p.SetText("Saving \"a.png\"")
	p.Advance()

	done, total, text := p.Snapshot()
	assert.Equal(t, 2, done)
	assert.Equal(t, 2, total)
	assert.Equal(t, "Saving \"a.png\"", text)

	assert.Equal(t, []string{
		"0/2 ",
		"1/2 ",
		"1/2 Saving \"a.png\"",
		"2/2 Saving \"a.png\"",
	}, updates)

	p.Reset()
	done, total, text = p.Snapshot()
	assert.Zero(t, done)
	assert.Zero(t, total)
	assert.Empty(t, text)
}

func TestProgressZeroValueUsable(t *testing.T) {
	var p Progress
	p.SetTotal(1)
	p.Advance()

	done, total, _ := p.Snapshot()
	assert.Equal(t, 1, done)
	assert.Equal(t, 1, total)
}

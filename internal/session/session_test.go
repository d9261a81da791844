package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusVariants(t *testing.T) {
	var zero Status
	assert.True(t, zero.IsIdle())
	assert.Equal(t, "idle", zero.String())

	w := Waiting()
	_, ok := w.Partner()
	assert.False(t, ok)
	assert.True(t, w.IsWaiting())

	p := PairedWith(7)
	partner, ok := p.Partner()
	assert.True(t, ok)
	assert.Equal(t, UserID(7), partner)
	assert.Equal(t, "paired(7)", p.String())
}

func TestRecordPairedWith(t *testing.T) {
	r := Record{ID: 1, Status: PairedWith(2)}
	assert.True(t, r.PairedWith(2))
	assert.False(t, r.PairedWith(3))
	assert.False(t, Record{ID: 1, Status: Waiting()}.PairedWith(2))
}

func TestStateValid(t *testing.T) {
	assert.True(t, StatePaired.Valid())
	assert.False(t, State("searching").Valid())
}

package extract

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPacer struct {
	indexes []int
	err     error
}

func (p *recordingPacer) Wait(_ context.Context, index int) error {
	p.indexes = append(p.indexes, index)
	return p.err
}

func items(n int, size int) []Item {
	out := make([]Item, n)
	for i := range out {
		out[i] = Item{
			Index: i,
			Name:  fmt.Sprintf("doc-%d.pdf", i),
			Load:  func(context.Context) ([]byte, error) { return make([]byte, size), nil },
		}
	}
	return out
}

func TestBatch_EarlyExitAfterTarget(t *testing.T) {
	model := &fakeModel{}
	pacer := &recordingPacer{}
	b := NewBatch(NewCaller(model, Config{}, nil), pacer, nil)

	outs := b.Run(context.Background(), items(6, 10), 3)
	require.Len(t, outs, 3)
	assert.Len(t, model.Calls(), 3)
	assert.Equal(t, []int{0, 1}, pacer.indexes)
}

func TestBatch_FailuresDoNotStopBatch(t *testing.T) {
	model := &fakeModel{behavior: []func(context.Context) (string, error){
		fail(errors.New("boom")), reply("[]"),
	}}
	list := items(3, 10)
	list[2].Load = func(context.Context) ([]byte, error) { return nil, errors.New("fetch failed") }
	list = append(list, Item{Index: 3, Name: "huge.pdf", Load: func(context.Context) ([]byte, error) {
		return make([]byte, 5*mib), nil
	}})

	b := NewBatch(NewCaller(model, Config{}, nil), nil, nil)
	outs := b.Run(context.Background(), list, 0)
	require.Len(t, outs, 4)
	assert.Equal(t, StatusFailed, outs[0].Status)
	assert.Equal(t, StatusSuccess, outs[1].Status)
	assert.Equal(t, StatusFailed, outs[2].Status)
	assert.Equal(t, "Document 3: doc-2.pdf - Processing failed", outs[2].Reason)
	assert.Equal(t, StatusTooLarge, outs[3].Status)
	assert.Len(t, model.Calls(), 2)
}

func TestBatch_PreservesOrder(t *testing.T) {
	b := NewBatch(NewCaller(&fakeModel{}, Config{}, nil), nil, nil)
	outs := b.Run(context.Background(), items(4, 1), 0)
	for i, o := range outs {
		assert.Equal(t, i, o.Index)
	}
}

func TestBatch_PacerErrorStops(t *testing.T) {
	pacer := &recordingPacer{err: context.Canceled}
	b := NewBatch(NewCaller(&fakeModel{}, Config{}, nil), pacer, nil)
	outs := b.Run(context.Background(), items(3, 1), 0)
	assert.Len(t, outs, 1)
}

func TestBatch_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := NewBatch(NewCaller(&fakeModel{}, Config{}, nil), nil, nil)
	assert.Empty(t, b.Run(ctx, items(3, 1), 0))
}

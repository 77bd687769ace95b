package heap

import (
	"github.com/tuannm99/pbtree/internal/record"
	"github.com/tuannm99/pbtree/internal/storage"
)

// HeapPage is a storage.Page viewed at row granularity ([]any values)
// instead of raw bytes, per the table's schema.
type HeapPage struct {
	Pg     *storage.Page
	Schema record.Schema
}

func NewHeapPage(p *storage.Page, s record.Schema) HeapPage {
	return HeapPage{Pg: p, Schema: s}
}

func (hp *HeapPage) InsertRow(values []any) (int, error) {
	data, err := hp.Schema.EncodeRow(values)
	if err != nil {
		return -1, err
	}
	return hp.Pg.InsertTuple(data)
}

func (hp *HeapPage) ReadRow(slot int) ([]any, error) {
	data, err := hp.Pg.ReadTupleCopy(slot)
	if err != nil {
		return nil, err
	}
	return hp.Schema.DecodeRow(data)
}

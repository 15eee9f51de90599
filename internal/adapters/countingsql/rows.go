package countingsql

import (
	"database/sql/driver"
	"io"
	"reflect"
	"sync"

	"github.com/fllarpy/uiprobe/counters"
)

var scanTypeAny = reflect.TypeOf(new(any)).Elem()

type countingRows struct {
	realRows driver.Rows
	readKey  *counters.ReaderReadKey
	sink     counters.Incrementer

	closeOnce sync.Once
	closeErr  error
}

var (
	_ driver.Rows                           = (*countingRows)(nil)
	_ driver.RowsNextResultSet              = (*countingRows)(nil)
	_ driver.RowsColumnTypeScanType         = (*countingRows)(nil)
	_ driver.RowsColumnTypeDatabaseTypeName = (*countingRows)(nil)
	_ driver.RowsColumnTypeLength           = (*countingRows)(nil)
	_ driver.RowsColumnTypeNullable         = (*countingRows)(nil)
	_ driver.RowsColumnTypePrecisionScale   = (*countingRows)(nil)
)

func newRows(rows driver.Rows, readKey *counters.ReaderReadKey, sink counters.Incrementer) *countingRows {
	return &countingRows{realRows: rows, readKey: readKey, sink: sink}
}

func (r *countingRows) Columns() []string { return r.realRows.Columns() }

func (r *countingRows) Close() error {
	r.closeOnce.Do(func() { r.closeErr = r.realRows.Close() })
	return r.closeErr
}

// Next counts a read only when a row was actually produced.
func (r *countingRows) Next(dest []driver.Value) error {
	err := r.realRows.Next(dest)
	if err == nil && r.sink != nil && r.readKey != nil {
		r.sink.Increment(r.readKey)
	}
	return err
}

func (r *countingRows) HasNextResultSet() bool {
	if rs, ok := r.realRows.(driver.RowsNextResultSet); ok {
		return rs.HasNextResultSet()
	}
	return false
}

func (r *countingRows) NextResultSet() error {
	if rs, ok := r.realRows.(driver.RowsNextResultSet); ok {
		return rs.NextResultSet()
	}
	return io.EOF
}

func (r *countingRows) ColumnTypeScanType(index int) reflect.Type {
	if ct, ok := r.realRows.(driver.RowsColumnTypeScanType); ok {
		return ct.ColumnTypeScanType(index)
	}
	return scanTypeAny
}

func (r *countingRows) ColumnTypeDatabaseTypeName(index int) string {
	if ct, ok := r.realRows.(driver.RowsColumnTypeDatabaseTypeName); ok {
		return ct.ColumnTypeDatabaseTypeName(index)
	}
	return ""
}

func (r *countingRows) ColumnTypeLength(index int) (int64, bool) {
	if ct, ok := r.realRows.(driver.RowsColumnTypeLength); ok {
		return ct.ColumnTypeLength(index)
	}
	return 0, false
}

func (r *countingRows) ColumnTypeNullable(index int) (nullable, ok bool) {
	if ct, ok := r.realRows.(driver.RowsColumnTypeNullable); ok {
		return ct.ColumnTypeNullable(index)
	}
	return false, false
}

func (r *countingRows) ColumnTypePrecisionScale(index int) (precision, scale int64, ok bool) {
	if ct, ok := r.realRows.(driver.RowsColumnTypePrecisionScale); ok {
		return ct.ColumnTypePrecisionScale(index)
	}
	return 0, 0, false
}

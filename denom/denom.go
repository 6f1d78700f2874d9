// Package denom decodes and queries the denomination tables reported by bill
// validators and configured for bill dispensers.
package denom

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	ErrInvalidTable = errors.New("denom: invalid table")
	ErrEmptyTable   = errors.New("denom: empty table")
)

// Denomination is one bill value known to the device.
type Denomination struct {
	// Code is the device's bill code, as reported in escrow and stacked statuses.
	Code     int
	Mantissa uint8
	Exponent int
	// Country is the ISO 4217 currency code when the device reports one, or the
	// raw country byte in hex otherwise.
	Country string
}

// Value returns Mantissa * 10^Exponent.
func (d Denomination) Value() float64 {
	return float64(d.Mantissa) * math.Pow10(d.Exponent)
}

func (d Denomination) String() string {
	if d.Country == "" {
		return fmt.Sprintf("%g", d.Value())
	}

	return fmt.Sprintf("%g %s", d.Value(), d.Country)
}

// Layout describes the fixed-size record format of a raw denomination table.
type Layout struct {
	Name       string
	RecordSize int
	// Decode turns the record at index into a denomination. ok is false for
	// records that describe no bill.
	Decode func(index int, rec []byte) (d Denomination, ok bool)
}

// id003Countries maps the id003 country byte to a currency code.
var id003Countries = map[byte]string{
	0x01: "JPY",
	0x02: "USD",
	0x03: "EUR",
	0x0C: "RUB",
	0x10: "CNY",
}

// ID003Layout decodes 4-byte records [code][country][mantissa][exponent].
var ID003Layout = Layout{
	Name:       "id003",
	RecordSize: 4,
	Decode: func(_ int, rec []byte) (Denomination, bool) {
		if rec[2] == 0 {
			return Denomination{}, false
		}

		country, ok := id003Countries[rec[1]]
		if !ok {
			country = fmt.Sprintf("%02X", rec[1])
		}

		return Denomination{
			Code:     int(rec[0]),
			Mantissa: rec[2],
			Exponent: decodeExponent(rec[3]),
			Country:  country,
		}, true
	},
}

// CCNetLayout decodes 5-byte records [mantissa][country x3][exponent]. The bill
// code is the record index.
var CCNetLayout = Layout{
	Name:       "ccnet",
	RecordSize: 5,
	Decode: func(index int, rec []byte) (Denomination, bool) {
		if rec[0] == 0 {
			return Denomination{}, false
		}

		return Denomination{
			Code:     index,
			Mantissa: rec[0],
			Exponent: decodeExponent(rec[4]),
			Country:  string(rec[1:4]),
		}, true
	},
}

// decodeExponent reads a sign-magnitude exponent; bit 7 set means negative.
func decodeExponent(b byte) int {
	e := int(b & 0x7F)
	if b&0x80 != 0 {
		return -e
	}

	return e
}

// Build decodes raw into a table using layout.
func Build(layout Layout, raw []byte) (*Table, error) {
	if layout.RecordSize <= 0 || layout.Decode == nil {
		return nil, fmt.Errorf("%w: layout %q has no record decoder", ErrInvalidTable, layout.Name)
	}

	if len(raw)%layout.RecordSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of the %d-byte %s record",
			ErrInvalidTable, len(raw), layout.RecordSize, layout.Name)
	}

	denoms := make([]Denomination, 0, len(raw)/layout.RecordSize)
	for i := 0; i*layout.RecordSize < len(raw); i++ {
		rec := raw[i*layout.RecordSize : (i+1)*layout.RecordSize]
		if d, ok := layout.Decode(i, rec); ok {
			denoms = append(denoms, d)
		}
	}

	return NewTable(denoms)
}

// Table is an immutable code -> denomination mapping.
type Table struct {
	byCode  map[int]Denomination
	byValue []Denomination
}

// NewTable builds a table from explicit denominations, such as the cassette
// configuration of a dispenser. Duplicate codes are rejected.
func NewTable(denoms []Denomination) (*Table, error) {
	if len(denoms) == 0 {
		return nil, ErrEmptyTable
	}

	t := &Table{
		byCode:  make(map[int]Denomination, len(denoms)),
		byValue: make([]Denomination, 0, len(denoms)),
	}

	for _, d := range denoms {
		if _, dup := t.byCode[d.Code]; dup {
			return nil, fmt.Errorf("%w: duplicate code %d", ErrInvalidTable, d.Code)
		}
		t.byCode[d.Code] = d
		t.byValue = append(t.byValue, d)
	}

	sort.SliceStable(t.byValue, func(i, j int) bool {
		if vi, vj := t.byValue[i].Value(), t.byValue[j].Value(); vi != vj {
			return vi < vj
		}

		return t.byValue[i].Code < t.byValue[j].Code
	})

	return t, nil
}

// Lookup returns the denomination for a bill code.
func (t *Table) Lookup(code int) (Denomination, bool) {
	d, ok := t.byCode[code]
	return d, ok
}

// Len returns the number of denominations in the table.
func (t *Table) Len() int { return len(t.byCode) }

// All returns the denominations in ascending value order.
func (t *Table) All() []Denomination {
	out := make([]Denomination, len(t.byValue))
	copy(out, t.byValue)

	return out
}

// LowestAtLeast returns the smallest denomination whose value is >= amount.
func (t *Table) LowestAtLeast(amount float64) (Denomination, bool) {
	i := sort.Search(len(t.byValue), func(i int) bool { return t.byValue[i].Value() >= amount })
	if i == len(t.byValue) {
		return Denomination{}, false
	}

	return t.byValue[i], true
}

// HighestAtMost returns the largest denomination whose value is <= amount.
func (t *Table) HighestAtMost(amount float64) (Denomination, bool) {
	i := sort.Search(len(t.byValue), func(i int) bool { return t.byValue[i].Value() > amount })
	if i == 0 {
		return Denomination{}, false
	}

	return t.byValue[i-1], true
}

// Holder keeps the table of one connection. The first table set wins until Reset.
type Holder struct {
	mu sync.RWMutex
	t  *Table
}

// Set stores t if no table is held yet and reports whether it was stored.
func (h *Holder) Set(t *Table) bool {
	if t == nil {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.t != nil {
		return false
	}
	h.t = t

	return true
}

// Get returns the held table, or nil.
func (h *Holder) Get() *Table {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return h.t
}

// Available reports whether a table is held.
func (h *Holder) Available() bool { return h.Get() != nil }

// Reset drops the held table.
func (h *Holder) Reset() {
	h.mu.Lock()
	h.t = nil
	h.mu.Unlock()
}

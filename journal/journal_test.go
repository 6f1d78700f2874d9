package journal

import (
	"bytes"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-cashio/denom"
	"github.com/arloliu/go-cashio/device"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC)

func sampleEvents() []device.Event {
	bill := denom.Denomination{Code: 3, Mantissa: 2, Exponent: 1, Country: "RUB"}
	reason := device.Reason{Code: 0x68, Text: "inhibit"}

	return []device.Event{
		{Kind: device.EventBillRead, State: device.Escrow, Time: t0, Denomination: &bill},
		{Kind: device.EventBillRejected, State: device.Rejecting, Time: t0.Add(time.Second), Reason: &reason},
		{Kind: device.EventError, State: device.Idle, Time: t0.Add(2 * time.Second), Err: errors.New("link: timeout")},
		{Kind: device.EventDispensed, State: device.Idle, Time: t0.Add(3 * time.Second), Slots: []device.SlotResult{
			{Slot: 0, Requested: 2, Dispensed: 2},
		}},
	}
}

func TestFromEvent(t *testing.T) {
	assert := assert.New(t)
	evs := sampleEvents()

	rec := FromEvent("conn-1", "ccnet", evs[0])
	assert.Equal("bill-read", rec.Kind)
	assert.Equal("escrow", rec.State)
	require.NotNil(t, rec.Bill)
	assert.Equal(Bill{Code: 3, Mantissa: 2, Exponent: 1, Country: "RUB"}, *rec.Bill)

	rec = FromEvent("conn-1", "ccnet", evs[1])
	assert.Equal("inhibit", rec.Reason)
	assert.Equal(uint8(0x68), rec.ReasonCode)
	assert.Contains(rec.String(), `reason="inhibit"(0x68)`)

	rec = FromEvent("conn-1", "ccnet", evs[2])
	assert.Equal("link: timeout", rec.Error)

	rec = FromEvent("conn-2", "f56", evs[3])
	assert.Equal([]Slot{{Slot: 0, Requested: 2, Dispensed: 2}}, rec.Slots)
	assert.Contains(rec.String(), "slot0=2/2")
}

func TestEncodeDecode(t *testing.T) {
	rec := FromEvent("conn-1", "id003", sampleEvents()[0])

	data, err := Encode(rec)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.True(t, rec.Time.Equal(got.Time))
	got.Time = rec.Time
	assert.Equal(t, rec, got)

	_, err = Decode([]byte{0xFF})
	assert.Error(t, err)
}

func TestStreamRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	for i, ev := range sampleEvents() {
		family := "ccnet"
		if i == 3 {
			family = "f56"
		}
		require.NoError(t, w.Append(FromEvent("conn-1", family, ev)))
	}
	require.NoError(t, w.Close())
	require.ErrorIs(t, w.Append(Record{}), ErrClosed)
	require.NoError(t, w.Close())

	all, err := NewReader(bytes.NewReader(buf.Bytes()), Filter{}).ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "bill-read", all[0].Kind)
	assert.Equal(t, "dispensed", all[3].Kind)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"family", Filter{Family: "f56"}, []string{"dispensed"}},
		{"kinds", Filter{Kinds: []string{"error", "bill-read"}}, []string{"bill-read", "error"}},
		{"connection", Filter{ConnectionID: "other"}, nil},
		{"time window", Filter{
			TimeStart: ptr(t0.Add(time.Second)),
			TimeEnd:   ptr(t0.Add(3 * time.Second)),
		}, []string{"bill-rejected", "error"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(bytes.NewReader(buf.Bytes()), tt.filter)

			var kinds []string
			for {
				rec, err := r.Next()
				if errors.Is(err, io.EOF) {
					break
				}
				require.NoError(t, err)
				kinds = append(kinds, rec.Kind)
			}

			assert.Equal(t, tt.want, kinds)
		})
	}
}

func TestFileAppend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")
	evs := sampleEvents()

	for _, ev := range evs[:2] {
		w, err := OpenFile(path)
		require.NoError(t, err)
		require.NoError(t, w.Append(FromEvent("conn-1", "ccnet", ev)))
		require.NoError(t, w.Close())
	}

	r, err := Open(path, Filter{})
	require.NoError(t, err)
	defer r.Close()

	all, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "bill-rejected", all[1].Kind)

	_, err = Open(filepath.Join(t.TempDir(), "missing.cbor"), Filter{})
	assert.Error(t, err)
}

func ptr[T any](v T) *T { return &v }

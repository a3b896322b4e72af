package pagination

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 2, 15, 10, 30, 0, 0, time.UTC)

func TestEncodeDecode(t *testing.T) {
	c, err := Decode(Encode(Cursor{CreatedAt: t0, ID: "0xabc", Scope: "AtomicSwapERC20"}))
	require.NoError(t, err)
	require.NotNil(t, c)
	assert.True(t, t0.Equal(c.CreatedAt))
	assert.Equal(t, "0xabc", c.ID)
	assert.Equal(t, "AtomicSwapERC20", c.Scope)

	c, err = Decode(Encode(Cursor{CreatedAt: t0, ID: "0xabc"}))
	require.NoError(t, err)
	assert.Empty(t, c.Scope)
}

func TestDecode(t *testing.T) {
	c, err := Decode("")
	require.NoError(t, err)
	assert.Nil(t, c)

	enc := base64.RawURLEncoding.EncodeToString
	for _, in := range []string{
		"not-base64!!!",
		enc([]byte("nopipe")),
		enc([]byte("123|0x1")),
		enc([]byte("123||scope")),
		enc([]byte("abc|0x1|scope")),
	} {
		_, err := Decode(in)
		assert.ErrorIs(t, err, ErrInvalidCursor, in)
	}
}

func TestCursorAfter(t *testing.T) {
	c := &Cursor{CreatedAt: t0, ID: "0x05", Scope: "b"}

	tests := []struct {
		name string
		key  Cursor
		want bool
	}{
		{"older", Cursor{t0.Add(-time.Second), "0x09", "z"}, true},
		{"newer", Cursor{t0.Add(time.Second), "0x01", "a"}, false},
		{"same time lower id", Cursor{t0, "0x04", "z"}, true},
		{"same time higher id", Cursor{t0, "0x06", "a"}, false},
		{"same id lower scope", Cursor{t0, "0x05", "a"}, true},
		{"same id same scope", Cursor{t0, "0x05", "b"}, false},
		{"same id higher scope", Cursor{t0, "0x05", "c"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.After(tt.key))
		})
	}

	var none *Cursor
	assert.True(t, none.After(Cursor{CreatedAt: t0, ID: "0x05"}))
}

func TestPrecedes(t *testing.T) {
	a := Cursor{CreatedAt: t0, ID: "0x05", Scope: "b"}
	b := Cursor{CreatedAt: t0, ID: "0x05", Scope: "a"}
	assert.True(t, Precedes(a, b))
	assert.False(t, Precedes(b, a))
	assert.False(t, Precedes(a, a))
}

func TestComputePage(t *testing.T) {
	key := func(s string) Cursor { return Cursor{CreatedAt: t0, ID: s, Scope: "x"} }

	items, next := ComputePage([]string{"c", "b", "a"}, 5, key)
	assert.Len(t, items, 3)
	assert.Empty(t, next)

	items, next = ComputePage([]string{"d", "c", "b", "a"}, 3, key)
	assert.Equal(t, []string{"d", "c", "b"}, items)
	c, err := Decode(next)
	require.NoError(t, err)
	assert.Equal(t, "b", c.ID)
	assert.Equal(t, "x", c.Scope)
}

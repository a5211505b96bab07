package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDtype(t *testing.T) {
	tests := []struct {
		in   string
		want Dtype
	}{
		{in: "<f4", want: Dtype{Order: LittleEndian, Kind: KindFloat, ItemSize: 4}},
		{in: ">f8", want: Dtype{Order: BigEndian, Kind: KindFloat, ItemSize: 8}},
		{in: "<i2", want: Dtype{Order: LittleEndian, Kind: KindInt, ItemSize: 2}},
		{in: "|u1", want: Dtype{Order: NotRelevant, Kind: KindUint, ItemSize: 1}},
		{in: "&lt;i8", want: Dtype{Order: LittleEndian, Kind: KindInt, ItemSize: 8}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDtype(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDtype_Invalid(t *testing.T) {
	for _, in := range []string{"", "f4", "<f2", "<i3", "<U8", "=f4", "|f4", "<fx"} {
		_, err := ParseDtype(in)
		assert.Error(t, err, in)
	}
}

func TestDtype_GetPut(t *testing.T) {
	for _, s := range []string{"<f4", ">f4", "<f8", "<i2", ">i4", "<i8", "<u2", "|u1", ">u8"} {
		dt := MustParseDtype(s)
		buf := make([]byte, dt.ItemSize)
		dt.Put(buf, 42)
		assert.Equal(t, 42.0, dt.Get(buf), s)
	}

	i2 := MustParseDtype("<i2")
	buf := make([]byte, 2)
	i2.Put(buf, -7.9)
	assert.Equal(t, -7.0, i2.Get(buf), "integers truncate toward zero")
	assert.Equal(t, "<i2", i2.String())
}

func TestParseDtypeTable(t *testing.T) {
	table, err := ParseDtypeTable("<f4", " surface/PRES=<f8 , surface/REFC=<f4,")
	require.NoError(t, err)

	assert.Equal(t, MustParseDtype("<f8"), table.Lookup("surface/PRES"))
	assert.Equal(t, Float32, table.Lookup("surface/REFC"))
	assert.Equal(t, Float32, table.Lookup("surface/TMP"))
	assert.Equal(t, Float32, table.Default())
	assert.Equal(t, []string{"surface/PRES", "surface/REFC"}, table.Fields())
}

func TestParseDtypeTable_Invalid(t *testing.T) {
	_, err := ParseDtypeTable("<f4", "surface/PRES")
	assert.Error(t, err)

	_, err = ParseDtypeTable("<f4", "=<f4")
	assert.Error(t, err)

	_, err = ParseDtypeTable("<f4", "surface/PRES=<c8")
	assert.Error(t, err)

	_, err = ParseDtypeTable("bogus", "")
	assert.Error(t, err)
}

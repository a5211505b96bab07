package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Dtype is a fixed-size numeric element type in NumPy typestr form: a byte
// order character, a kind character and a byte size, e.g. "<f4".
//
// Only the numeric kinds used by gridded fields are supported: signed and
// unsigned integers of 1, 2, 4 or 8 bytes and floats of 4 or 8 bytes.
type Dtype struct {
	Order    ByteOrder
	Kind     Kind
	ItemSize int
}

// ByteOrder is the typestr byte-order character.
type ByteOrder byte

const (
	LittleEndian ByteOrder = '<'
	BigEndian    ByteOrder = '>'
	NotRelevant  ByteOrder = '|'
)

// Kind is the typestr basic-type character.
type Kind byte

const (
	KindInt   Kind = 'i'
	KindUint  Kind = 'u'
	KindFloat Kind = 'f'
)

// Float32 is the dtype of every HRRR field stored in the "now" dataset.
var Float32 = Dtype{Order: LittleEndian, Kind: KindFloat, ItemSize: 4}

// ParseDtype parses a typestr such as "<f4" or "|u1".
func ParseDtype(s string) (Dtype, error) {
	// zarr metadata written by some python versions HTML-escapes the order byte.
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return Dtype{}, fmt.Errorf("invalid dtype %q: too short", s)
	}
	dt := Dtype{Order: ByteOrder(s[0]), Kind: Kind(s[1])}
	switch dt.Order {
	case LittleEndian, BigEndian, NotRelevant:
	default:
		return Dtype{}, fmt.Errorf("invalid dtype %q: unsupported byte order %q", s, s[0])
	}
	size, err := strconv.Atoi(s[2:])
	if err != nil {
		return Dtype{}, fmt.Errorf("invalid dtype %q: %w", s, err)
	}
	dt.ItemSize = size

	switch dt.Kind {
	case KindInt, KindUint:
		if size != 1 && size != 2 && size != 4 && size != 8 {
			return Dtype{}, fmt.Errorf("invalid dtype %q: unsupported integer size %d", s, size)
		}
	case KindFloat:
		if size != 4 && size != 8 {
			return Dtype{}, fmt.Errorf("invalid dtype %q: unsupported float size %d", s, size)
		}
	default:
		return Dtype{}, fmt.Errorf("invalid dtype %q: unsupported kind %q", s, s[1])
	}
	if dt.Order == NotRelevant && size > 1 {
		return Dtype{}, fmt.Errorf("invalid dtype %q: multi-byte types need an explicit byte order", s)
	}
	return dt, nil
}

// MustParseDtype is ParseDtype for package-level constants and tests.
func MustParseDtype(s string) Dtype {
	dt, err := ParseDtype(s)
	if err != nil {
		panic(err)
	}
	return dt
}

func (dt Dtype) String() string {
	return fmt.Sprintf("%c%c%d", dt.Order, dt.Kind, dt.ItemSize)
}

func (dt Dtype) byteOrder() binary.ByteOrder {
	if dt.Order == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// Get reads the element stored at the start of b.
func (dt Dtype) Get(b []byte) float64 {
	bo := dt.byteOrder()
	switch dt.Kind {
	case KindFloat:
		if dt.ItemSize == 4 {
			return float64(math.Float32frombits(bo.Uint32(b)))
		}
		return math.Float64frombits(bo.Uint64(b))
	case KindInt:
		switch dt.ItemSize {
		case 1:
			return float64(int8(b[0]))
		case 2:
			return float64(int16(bo.Uint16(b)))
		case 4:
			return float64(int32(bo.Uint32(b)))
		default:
			return float64(int64(bo.Uint64(b)))
		}
	default:
		switch dt.ItemSize {
		case 1:
			return float64(b[0])
		case 2:
			return float64(bo.Uint16(b))
		case 4:
			return float64(bo.Uint32(b))
		default:
			return float64(bo.Uint64(b))
		}
	}
}

// Put writes v at the start of b, converting it to the element type.
// Integer kinds truncate toward zero.
func (dt Dtype) Put(b []byte, v float64) {
	bo := dt.byteOrder()
	switch dt.Kind {
	case KindFloat:
		if dt.ItemSize == 4 {
			bo.PutUint32(b, math.Float32bits(float32(v)))
			return
		}
		bo.PutUint64(b, math.Float64bits(v))
	case KindInt:
		switch dt.ItemSize {
		case 1:
			b[0] = byte(int8(v))
		case 2:
			bo.PutUint16(b, uint16(int16(v)))
		case 4:
			bo.PutUint32(b, uint32(int32(v)))
		default:
			bo.PutUint64(b, uint64(int64(v)))
		}
	default:
		switch dt.ItemSize {
		case 1:
			b[0] = uint8(v)
		case 2:
			bo.PutUint16(b, uint16(v))
		case 4:
			bo.PutUint32(b, uint32(v))
		default:
			bo.PutUint64(b, uint64(v))
		}
	}
}

// DtypeTable maps field names to their stored dtype. It is built once at
// startup; fields without an entry use the default.
type DtypeTable struct {
	def    Dtype
	fields map[string]Dtype
}

// NewDtypeTable creates a table with the given default and per-field entries.
func NewDtypeTable(def Dtype, fields map[string]Dtype) *DtypeTable {
	m := make(map[string]Dtype, len(fields))
	for k, v := range fields {
		m[k] = v
	}
	return &DtypeTable{def: def, fields: m}
}

// ParseDtypeTable parses "field=dtype" pairs separated by commas, e.g.
// "surface/PRES=<f4,surface/REFC=<f4". An empty list yields only the default.
func ParseDtypeTable(def string, list string) (*DtypeTable, error) {
	d, err := ParseDtype(def)
	if err != nil {
		return nil, err
	}
	fields := map[string]Dtype{}
	for _, pair := range strings.Split(list, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, typ, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid field dtype entry %q: want field=dtype", pair)
		}
		dt, err := ParseDtype(strings.TrimSpace(typ))
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", name, err)
		}
		fields[name] = dt
	}
	return NewDtypeTable(d, fields), nil
}

// Lookup returns the dtype configured for field.
func (t *DtypeTable) Lookup(field string) Dtype {
	if dt, ok := t.fields[field]; ok {
		return dt
	}
	return t.def
}

// Default returns the dtype used for fields without an entry.
func (t *DtypeTable) Default() Dtype { return t.def }

// Fields returns the configured field names in sorted order.
func (t *DtypeTable) Fields() []string {
	names := make([]string, 0, len(t.fields))
	for k := range t.fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

package mapping

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/ncp-monitor/internal/ncp"
)

// Pair is one ordered key/value attribute. Tags and metadata fields keep
// the order in which they were added.
type Pair struct {
	Key   string
	Value string
}

// ObjectInfo is the cached metadata for one monitored object.
type ObjectInfo struct {
	// Category selects the catalog entry (e.g. "receiver_monitor").
	Category string

	// Tags are written to the tag set.
	Tags []Pair

	// Fields are static descriptive values written as string fields.
	Fields []Pair
}

// SetTag adds a tag or replaces the value of an existing one.
func (o *ObjectInfo) SetTag(key, value string) {
	o.Tags = setPair(o.Tags, key, value)
}

// SetField adds a metadata field or replaces the value of an existing one.
func (o *ObjectInfo) SetField(key, value string) {
	o.Fields = setPair(o.Fields, key, value)
}

// Tag returns a tag value.
func (o ObjectInfo) Tag(key string) (string, bool) {
	for _, p := range o.Tags {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

func setPair(pairs []Pair, key, value string) []Pair {
	for i := range pairs {
		if pairs[i].Key == key {
			pairs[i].Value = value
			return pairs
		}
	}
	return append(pairs, Pair{Key: key, Value: value})
}

// Encoder turns notifications into line protocol using a catalog.
// It holds no mutable state and is safe for concurrent use.
type Encoder struct {
	catalog Catalog
	now     func() time.Time
}

// NewEncoder creates an encoder stamping lines with the wall clock.
func NewEncoder(catalog Catalog) *Encoder {
	return &Encoder{catalog: catalog, now: time.Now}
}

// WithClock returns a copy of the encoder that reads time from now.
func (e *Encoder) WithClock(now func() time.Time) *Encoder {
	return &Encoder{catalog: e.catalog, now: now}
}

// Catalog returns the catalog the encoder reads.
func (e *Encoder) Catalog() Catalog {
	return e.catalog
}

// Encode renders one notification for an object as a line:
//
//	<table>,<tag>=<value>,... <field>=<value>,... <timestamp ns>
//
// ok is false, with a nil error, when the object's category has no field
// for the notification's property. That is filtering, not failure.
func (e *Encoder) Encode(n ncp.Notification, info ObjectInfo) (line string, ok bool, err error) {
	entry, found := e.catalog[info.Category]
	if !found {
		return "", false, fmt.Errorf("%w: %q", ErrUnknownCategory, info.Category)
	}
	field, found := entry.Field(n.EventData.PropertyID)
	if !found {
		return "", false, nil
	}

	raw, err := decodeValue(n.EventData)
	if err != nil {
		return "", false, err
	}
	primary, err := formatValue(field.Type, raw)
	if err != nil {
		return "", false, fmt.Errorf("field %s: %w", field.Name, err)
	}

	var b strings.Builder
	b.WriteString(entry.Table)
	for _, t := range info.Tags {
		b.WriteByte(',')
		b.WriteString(escapeText(t.Key))
		b.WriteByte('=')
		b.WriteString(escapeText(t.Value))
	}

	b.WriteByte(' ')
	b.WriteString(field.Name)
	b.WriteByte('=')
	b.WriteString(primary)

	writeInt(&b, "oid", strconv.FormatUint(n.OID, 10))
	writeInt(&b, "event_id_level", strconv.Itoa(n.EventID.Level))
	writeInt(&b, "event_id_index", strconv.Itoa(n.EventID.Index))
	writeInt(&b, "property_id_level", strconv.Itoa(n.EventData.PropertyID.Level))
	writeInt(&b, "property_id_index", strconv.Itoa(n.EventData.PropertyID.Index))
	writeInt(&b, "change_type", strconv.Itoa(int(n.EventData.ChangeType)))
	if idx := n.EventData.SequenceItemIndex; idx != nil {
		writeInt(&b, "sequence_item_index", strconv.Itoa(*idx))
	}

	if field.Enum != nil {
		if text, ok := field.Enum[valueText(raw)]; ok {
			b.WriteByte(',')
			b.WriteString(escapeText(field.Name + "_text"))
			b.WriteByte('=')
			b.WriteString(quote(text))
		}
	}

	for _, f := range info.Fields {
		b.WriteByte(',')
		b.WriteString(escapeText(f.Key))
		b.WriteByte('=')
		b.WriteString(quote(f.Value))
	}

	// Millisecond wall clock expressed in nanoseconds.
	b.WriteByte(' ')
	b.WriteString(strconv.FormatInt(e.now().UnixMilli(), 10))
	b.WriteString("000000")

	return b.String(), true, nil
}

func writeInt(b *strings.Builder, key, value string) {
	b.WriteByte(',')
	b.WriteString(key)
	b.WriteByte('=')
	b.WriteString(value)
	b.WriteByte('i')
}

// escapeText escapes tag keys, tag values and field keys: backslash first,
// then comma, equals and space.
func escapeText(s string) string {
	if !strings.ContainsAny(s, `\,= `) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 4)
	for _, r := range s {
		switch r {
		case '\\', ',', '=', ' ':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// quote renders a string field value with backslash and quote escaped.
func quote(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		if r == '\\' || r == '"' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

// decodeValue returns the event value as nil, bool, string, json.Number,
// or json.RawMessage for objects and arrays.
func decodeValue(d ncp.PropertyChangedEventData) (any, error) {
	if !d.HasValue() {
		return nil, nil
	}
	v := bytes.TrimSpace(d.Value)
	switch v[0] {
	case '{', '[':
		return json.RawMessage(v), nil
	}

	dec := json.NewDecoder(bytes.NewReader(v))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidValue, err)
	}
	return out, nil
}

func formatValue(t ValueType, raw any) (string, error) {
	switch t {
	case ValueInteger:
		n, err := toInteger(raw)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(n, 10) + "i", nil
	case ValueBoolean:
		if truthy(raw) {
			return "t", nil
		}
		return "f", nil
	default:
		return quote(valueText(raw)), nil
	}
}

// toInteger converts a value to an integer field. Null and "" are 0,
// booleans are 1 or 0, numeric strings are parsed.
func toInteger(raw any) (int64, error) {
	switch v := raw.(type) {
	case nil:
		return 0, nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return parseInteger(string(v))
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return 0, nil
		}
		return parseInteger(s)
	default:
		return 0, fmt.Errorf("%w: %T is not an integer", ErrInvalidValue, raw)
	}
}

func parseInteger(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q is not a number", ErrInvalidValue, s)
	}
	if f != math.Trunc(f) || f >= math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, s)
	}
	return int64(f), nil
}

// truthy follows the usual dynamic-language rules: null, false, 0, NaN
// and "" are false; everything else, objects included, is true.
func truthy(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case bool:
		return v
	case json.Number:
		f, err := strconv.ParseFloat(string(v), 64)
		return err == nil && f != 0
	case string:
		return v != ""
	default:
		return true
	}
}

// valueText renders a value as text for string fields and enum lookups.
// Numbers use their shortest decimal form, so 2.0 and 2 both become "2".
func valueText(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case bool:
		return strconv.FormatBool(v)
	case string:
		return v
	case json.Number:
		if n, err := strconv.ParseInt(string(v), 10, 64); err == nil {
			return strconv.FormatInt(n, 10)
		}
		if f, err := strconv.ParseFloat(string(v), 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return string(v)
	case json.RawMessage:
		var buf bytes.Buffer
		if err := json.Compact(&buf, v); err != nil {
			return string(v)
		}
		return buf.String()
	default:
		return fmt.Sprint(v)
	}
}

package pathstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// SegmentKind тип сегмента адреса.
type SegmentKind int

const (
	// KindKey ключ объекта: .name или ['name']
	KindKey SegmentKind = iota
	// KindIndex индекс массива: [0]
	KindIndex
	// KindWildcard все дочерние элементы: .* или [*]
	KindWildcard
	// KindFilter дочерние объекты с совпадающим полем: [?(@.key==literal)]
	KindFilter
)

// Segment один шаг адреса.
type Segment struct {
	Value any    // Value литерал фильтра (string, float64, bool или nil)
	Key   string // Key имя ключа или поле фильтра
	Kind  SegmentKind
	Index int
}

// Path разобранный адрес в дереве состояния задачи ("$.nodes.2.components.0.fieldValue").
// Нулевое значение Path адресует корень.
type Path struct {
	segments []Segment
}

// Parse разбирает строку адреса. Адрес всегда начинается с "$".
func Parse(s string) (Path, error) {
	p := &parser{src: s}
	segments, err := p.parse()
	if err != nil {
		return Path{}, fmt.Errorf("%w: %q: %v", ErrInvalidPath, s, err)
	}
	return Path{segments: segments}, nil
}

// MustParse как Parse, но паникует на ошибке. Используется для констант.
func MustParse(s string) Path {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// Segments возвращает копию сегментов адреса
func (p Path) Segments() []Segment {
	out := make([]Segment, len(p.segments))
	copy(out, p.segments)
	return out
}

// Len количество сегментов
func (p Path) Len() int {
	return len(p.segments)
}

// IsConcrete сообщает, адресует ли путь ровно одно место (нет wildcard и фильтров).
func (p Path) IsConcrete() bool {
	for _, seg := range p.segments {
		if seg.Kind == KindWildcard || seg.Kind == KindFilter {
			return false
		}
	}
	return true
}

// LastKey возвращает имя последнего сегмента, если это ключ.
func (p Path) LastKey() (string, bool) {
	if len(p.segments) == 0 {
		return "", false
	}
	last := p.segments[len(p.segments)-1]
	if last.Kind != KindKey {
		return "", false
	}
	return last.Key, true
}

// HasKeyContaining сообщает, содержит ли какой-либо ключ пути подстроку.
func (p Path) HasKeyContaining(substr string) bool {
	for _, seg := range p.segments {
		if seg.Kind == KindKey && strings.Contains(seg.Key, substr) {
			return true
		}
	}
	return false
}

// Child возвращает путь с добавленным ключом.
func (p Path) Child(key string) Path {
	segments := make([]Segment, len(p.segments), len(p.segments)+1)
	copy(segments, p.segments)
	return Path{segments: append(segments, Segment{Kind: KindKey, Key: key})}
}

// Equal сравнивает два пути
func (p Path) Equal(other Path) bool {
	return reflect.DeepEqual(p.segments, other.segments)
}

// String возвращает каноническую запись адреса.
// Parse(p.String()) дает путь, равный p.
func (p Path) String() string {
	var b strings.Builder
	b.WriteString("$")
	for _, seg := range p.segments {
		switch seg.Kind {
		case KindKey:
			if isPlainKey(seg.Key) {
				b.WriteString(".")
				b.WriteString(seg.Key)
			} else {
				b.WriteString("['")
				b.WriteString(keyEscaper.Replace(seg.Key))
				b.WriteString("']")
			}
		case KindIndex:
			b.WriteString("[")
			b.WriteString(strconv.Itoa(seg.Index))
			b.WriteString("]")
		case KindWildcard:
			b.WriteString(".*")
		case KindFilter:
			b.WriteString("[?(@.")
			b.WriteString(seg.Key)
			b.WriteString("==")
			writeLiteral(&b, seg.Value)
			b.WriteString(")]")
		}
	}
	return b.String()
}

// MarshalText позволяет использовать Path в JSON/YAML
func (p Path) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText разбирает адрес из текста
func (p *Path) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// writeLiteral записывает литерал фильтра: строки в одинарных кавычках
// с теми же экранированиями, что и ключи, остальное как JSON
func writeLiteral(b *strings.Builder, value any) {
	if s, ok := value.(string); ok {
		b.WriteString("'")
		b.WriteString(keyEscaper.Replace(s))
		b.WriteString("'")
		return
	}
	lit, _ := json.Marshal(value)
	b.Write(lit)
}

func isPlainKey(key string) bool {
	if key == "" || key == "*" {
		return false
	}
	for _, r := range key {
		if r == '.' || r == '[' || r == ']' || r == '\'' || r == '"' || r == ' ' || r == '\\' || r == '(' || r == ')' || r == '=' {
			return false
		}
	}
	return true
}

// parser разбор адреса за один проход
type parser struct {
	src string
	pos int
}

func (p *parser) parse() ([]Segment, error) {
	if !strings.HasPrefix(p.src, "$") {
		return nil, fmt.Errorf("must start with $")
	}
	p.pos = 1

	segments := make([]Segment, 0, 8)
	for p.pos < len(p.src) {
		switch p.src[p.pos] {
		case '.':
			p.pos++
			if p.pos < len(p.src) && p.src[p.pos] == '.' {
				return nil, fmt.Errorf("recursive descent is not supported")
			}
			seg, err := p.parseDotKey()
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
		case '[':
			seg, err := p.parseBracket()
			if err != nil {
				return nil, err
			}
			segments = append(segments, seg)
		default:
			return nil, fmt.Errorf("unexpected %q at %d", p.src[p.pos], p.pos)
		}
	}
	return segments, nil
}

func (p *parser) parseDotKey() (Segment, error) {
	start := p.pos
	for p.pos < len(p.src) && p.src[p.pos] != '.' && p.src[p.pos] != '[' {
		if p.src[p.pos] == ']' {
			return Segment{}, fmt.Errorf("unexpected ] at %d", p.pos)
		}
		p.pos++
	}
	key := p.src[start:p.pos]
	if key == "" {
		return Segment{}, fmt.Errorf("empty key at %d", start)
	}
	if key == "*" {
		return Segment{Kind: KindWildcard}, nil
	}
	return Segment{Kind: KindKey, Key: key}, nil
}

func (p *parser) parseBracket() (Segment, error) {
	p.pos++ // [
	if p.pos >= len(p.src) {
		return Segment{}, fmt.Errorf("unterminated [")
	}

	var seg Segment
	switch c := p.src[p.pos]; {
	case c == '*':
		p.pos++
		seg = Segment{Kind: KindWildcard}
	case c == '\'' || c == '"':
		key, err := p.parseQuoted()
		if err != nil {
			return Segment{}, err
		}
		seg = Segment{Kind: KindKey, Key: key}
	case c == '?':
		filter, err := p.parseFilter()
		if err != nil {
			return Segment{}, err
		}
		seg = filter
	case c >= '0' && c <= '9':
		start := p.pos
		for p.pos < len(p.src) && p.src[p.pos] >= '0' && p.src[p.pos] <= '9' {
			p.pos++
		}
		idx, err := strconv.Atoi(p.src[start:p.pos])
		if err != nil {
			return Segment{}, fmt.Errorf("bad index: %w", err)
		}
		seg = Segment{Kind: KindIndex, Index: idx}
	default:
		return Segment{}, fmt.Errorf("unexpected %q at %d", c, p.pos)
	}

	if p.pos >= len(p.src) || p.src[p.pos] != ']' {
		return Segment{}, fmt.Errorf("expected ] at %d", p.pos)
	}
	p.pos++
	return seg, nil
}

func (p *parser) parseQuoted() (string, error) {
	quote := p.src[p.pos]
	p.pos++
	var b strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		switch {
		case c == '\\' && p.pos+1 < len(p.src):
			b.WriteByte(p.src[p.pos+1])
			p.pos += 2
		case c == quote:
			p.pos++
			return b.String(), nil
		default:
			b.WriteByte(c)
			p.pos++
		}
	}
	return "", fmt.Errorf("unterminated string")
}

// parseFilter разбирает ?(@.key==literal)
func (p *parser) parseFilter() (Segment, error) {
	const prefix = "?(@."
	if !strings.HasPrefix(p.src[p.pos:], prefix) {
		return Segment{}, fmt.Errorf("filter must look like ?(@.key==value)")
	}
	p.pos += len(prefix)

	eq := strings.Index(p.src[p.pos:], "==")
	if eq <= 0 {
		return Segment{}, fmt.Errorf("filter must compare with ==")
	}
	key := strings.TrimSpace(p.src[p.pos : p.pos+eq])
	p.pos += eq + 2

	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
	if p.pos >= len(p.src) {
		return Segment{}, fmt.Errorf("filter literal missing")
	}

	var value any
	if c := p.src[p.pos]; c == '\'' || c == '"' {
		s, err := p.parseQuoted()
		if err != nil {
			return Segment{}, err
		}
		value = s
	} else {
		end := strings.IndexByte(p.src[p.pos:], ')')
		if end < 0 {
			return Segment{}, fmt.Errorf("unterminated filter")
		}
		lit := strings.TrimSpace(p.src[p.pos : p.pos+end])
		if err := json.Unmarshal([]byte(lit), &value); err != nil {
			return Segment{}, fmt.Errorf("bad filter literal %q", lit)
		}
		if _, isMap := value.(map[string]any); isMap {
			return Segment{}, fmt.Errorf("filter literal must be scalar")
		}
		if _, isList := value.([]any); isList {
			return Segment{}, fmt.Errorf("filter literal must be scalar")
		}
		p.pos += end
	}

	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
	if p.pos >= len(p.src) || p.src[p.pos] != ')' {
		return Segment{}, fmt.Errorf("expected ) at %d", p.pos)
	}
	p.pos++

	if key == "" || !isPlainKey(key) {
		return Segment{}, fmt.Errorf("bad filter key %q", key)
	}
	return Segment{Kind: KindFilter, Key: key, Value: value}, nil
}

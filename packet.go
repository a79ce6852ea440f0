package parcel

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/rawbytedev/parcel/pkg/wire"
)

// Presence tags written before every Packet field.
const (
	PresenceNull    byte = 1
	PresencePresent byte = 2
)

var (
	packetType     = reflect.TypeFor[Packet]()
	packetPtrType  = reflect.TypeFor[*Packet]()
	packetTypeName = TypeName(packetType)
)

// Field is one named, typed slot of a Packet. A nil Value is written as
// null; Type stays fixed for the life of the slot.
type Field struct {
	Name  string
	Type  reflect.Type
	Value any
}

// Packet is an ordered record of named fields. Its fingerprint is derived
// from its field names and declared types, so two packets with the same
// schema share one codec regardless of content.
//
// A *Packet registered with a Registry acts as the template codec for its
// schema: Read fills a deep copy of it and never touches the template.
type Packet struct {
	mu     sync.RWMutex
	fields []Field
	index  map[string]int
}

// NewPacket returns an empty packet.
func NewPacket() *Packet {
	return &Packet{index: make(map[string]int)}
}

// NewPacketFrom builds a packet from fields in order. Unnamed fields get
// index names.
func NewPacketFrom(fields ...Field) (*Packet, error) {
	p := NewPacket()
	for _, f := range fields {
		if err := p.AddField(f); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func newField(name string, v any) (Field, error) {
	if f, ok := v.(Field); ok {
		if name != "" {
			f.Name = name
		}
		return checkField(f)
	}
	if v == nil {
		return Field{}, ErrNilValue
	}
	return Field{Name: name, Type: reflect.TypeOf(v), Value: v}, nil
}

func checkField(f Field) (Field, error) {
	switch {
	case f.Type == nil && f.Value == nil:
		return Field{}, ErrNilValue
	case f.Type == nil:
		f.Type = reflect.TypeOf(f.Value)
	case f.Value != nil && !reflect.TypeOf(f.Value).AssignableTo(f.Type):
		return Field{}, fmt.Errorf("%w: %T into field %q of %s", ErrTypeMismatch, f.Value, f.Name, TypeName(f.Type))
	}
	return f, nil
}

// autoName returns the first free index name starting at the current
// length. Callers hold mu.
func (p *Packet) autoName() string {
	for i := len(p.fields); ; i++ {
		name := strconv.Itoa(i)
		if _, taken := p.index[name]; !taken {
			return name
		}
	}
}

func (p *Packet) insertLocked(f Field, idx int) error {
	if f.Name == "" {
		f.Name = p.autoName()
	}
	if _, ok := p.index[f.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateKey, f.Name)
	}
	if idx < 0 || idx > len(p.fields) {
		return fmt.Errorf("%w: %d not in [0, %d]", ErrIndexOutOfRange, idx, len(p.fields))
	}
	p.fields = append(p.fields, Field{})
	copy(p.fields[idx+1:], p.fields[idx:])
	p.fields[idx] = f
	p.reindex(idx)
	return nil
}

func (p *Packet) reindex(from int) {
	for i := from; i < len(p.fields); i++ {
		p.index[p.fields[i].Name] = i
	}
}

// Add appends v under an automatic index name and returns that name. A
// Field argument appends a typed slot, which may hold a nil value.
func (p *Packet) Add(v any) (string, error) {
	f, err := newField("", v)
	if err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if f.Name == "" {
		f.Name = p.autoName()
	}
	return f.Name, p.insertLocked(f, len(p.fields))
}

// AddNamed appends v under name.
func (p *Packet) AddNamed(name string, v any) error {
	f, err := newField(name, v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.insertLocked(f, len(p.fields))
}

// AddField appends f. The declared type is taken from the value when unset.
func (p *Packet) AddField(f Field) error {
	f, err := checkField(f)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.insertLocked(f, len(p.fields))
}

// Insert places v at idx, shifting later fields up. idx may equal Len.
func (p *Packet) Insert(name string, v any, idx int) error {
	f, err := newField(name, v)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.insertLocked(f, idx)
}

func (p *Packet) lookupLocked(name string) (int, error) {
	i, ok := p.index[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrKeyNotFound, name)
	}
	return i, nil
}

func (p *Packet) checkIndexLocked(i int) error {
	if i < 0 || i >= len(p.fields) {
		return fmt.Errorf("%w: %d not in [0, %d)", ErrIndexOutOfRange, i, len(p.fields))
	}
	return nil
}

// Get returns the value at index i.
func (p *Packet) Get(i int) (any, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if err := p.checkIndexLocked(i); err != nil {
		return nil, err
	}
	return p.fields[i].Value, nil
}

// GetByName returns the value of the named field.
func (p *Packet) GetByName(name string) (any, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, err := p.lookupLocked(name)
	if err != nil {
		return nil, err
	}
	return p.fields[i].Value, nil
}

// Field returns a copy of the named slot.
func (p *Packet) Field(name string) (Field, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	i, err := p.lookupLocked(name)
	if err != nil {
		return Field{}, err
	}
	return p.fields[i], nil
}

func (p *Packet) putLocked(i int, v any) error {
	f := &p.fields[i]
	if v != nil && !reflect.TypeOf(v).AssignableTo(f.Type) {
		return fmt.Errorf("%w: %T into field %q of %s", ErrTypeMismatch, v, f.Name, TypeName(f.Type))
	}
	f.Value = v
	return nil
}

// Put replaces the value at index i. nil clears the slot.
func (p *Packet) Put(i int, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkIndexLocked(i); err != nil {
		return err
	}
	return p.putLocked(i, v)
}

// PutByName replaces the value of the named field.
func (p *Packet) PutByName(name string, v any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, err := p.lookupLocked(name)
	if err != nil {
		return err
	}
	return p.putLocked(i, v)
}

func (p *Packet) removeLocked(i int) {
	delete(p.index, p.fields[i].Name)
	copy(p.fields[i:], p.fields[i+1:])
	p.fields[len(p.fields)-1] = Field{}
	p.fields = p.fields[:len(p.fields)-1]
	p.reindex(i)
}

// Remove deletes the field at index i; later fields shift down.
func (p *Packet) Remove(i int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.checkIndexLocked(i); err != nil {
		return err
	}
	p.removeLocked(i)
	return nil
}

// RemoveByName deletes the named field.
func (p *Packet) RemoveByName(name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	i, err := p.lookupLocked(name)
	if err != nil {
		return err
	}
	p.removeLocked(i)
	return nil
}

// RemoveAll empties the packet.
func (p *Packet) RemoveAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fields = nil
	clear(p.index)
}

func (p *Packet) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.fields)
}

// Names returns the field names in index order.
func (p *Packet) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.fields))
	for i, f := range p.fields {
		out[i] = f.Name
	}
	return out
}

// Fields returns a snapshot of the slots in index order.
func (p *Packet) Fields() []Field {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Field, len(p.fields))
	copy(out, p.fields)
	return out
}

// Range calls fn for each field of a snapshot until fn returns false.
func (p *Packet) Range(fn func(i int, f Field) bool) {
	for i, f := range p.Fields() {
		if !fn(i, f) {
			return
		}
	}
}

// Clone returns a packet with the same schema sharing field values.
func (p *Packet) Clone() *Packet {
	return p.copyWith(func(v any) any { return v })
}

// DeepCopy returns a packet with the same schema and deep-copied values.
func (p *Packet) DeepCopy() any {
	return p.copyWith(DeepCopy)
}

func (p *Packet) copyWith(cp func(any) any) *Packet {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := &Packet{
		fields: make([]Field, len(p.fields)),
		index:  make(map[string]int, len(p.fields)),
	}
	for i, f := range p.fields {
		f.Value = cp(f.Value)
		out.fields[i] = f
		out.index[f.Name] = i
	}
	return out
}

// DynamicFingerprint hashes the schema: the packet type name followed by
// "$name$fingerprint" per field, where fingerprint is that of the declared
// type. Values never contribute, so a template with null slots matches every
// filled packet of its schema.
func (p *Packet) DynamicFingerprint() Fingerprint {
	return FingerprintOfName(p.schema())
}

func (p *Packet) schema() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var sb strings.Builder
	sb.WriteString(packetTypeName)
	for _, f := range p.fields {
		sb.WriteByte('$')
		sb.WriteString(f.Name)
		sb.WriteByte('$')
		if f.Type == nil {
			sb.WriteString("#null")
			continue
		}
		sb.WriteString(FingerprintOfType(f.Type).String())
	}
	return sb.String()
}

func (p *Packet) Fingerprints() []Fingerprint {
	return []Fingerprint{p.DynamicFingerprint()}
}

// CloneCodec makes a registered template a private snapshot of its schema.
func (p *Packet) CloneCodec() Codec {
	return p.Clone()
}

func (p *Packet) Type(fp Fingerprint) reflect.Type {
	if fp != p.DynamicFingerprint() {
		return nil
	}
	return packetPtrType
}

// Write encodes v, a *Packet of this schema, as one presence byte per field
// followed by the present values. Slots declared as an interface or a
// dynamic-identity type prefix the value with its fingerprint.
func (p *Packet) Write(dst wire.Sink, v any, reg *Registry) error {
	src, ok := v.(*Packet)
	if !ok || src == nil {
		return fmt.Errorf("%w: %T is not *Packet", ErrTypeMismatch, v)
	}
	for _, f := range src.Fields() {
		if isNull(f.Value) {
			if err := dst.WriteByte(PresenceNull); err != nil {
				return err
			}
			continue
		}
		if err := writeSlot(dst, f, reg); err != nil {
			return fmt.Errorf("field %q: %w", f.Name, err)
		}
	}
	return nil
}

func writeSlot(dst wire.Sink, f Field, reg *Registry) error {
	if !needsTag(f.Type) {
		codec, err := staticCodec(f.Type, reg)
		if err != nil {
			return err
		}
		if err := dst.WriteByte(PresencePresent); err != nil {
			return err
		}
		return codec.Write(dst, f.Value, reg)
	}
	fp, codec, err := reg.resolve(f.Value)
	if err != nil {
		return err
	}
	if err := dst.WriteByte(PresencePresent); err != nil {
		return err
	}
	if err := dst.WriteInt(int32(fp)); err != nil {
		return err
	}
	return codec.Write(dst, f.Value, reg)
}

// Read decodes into a deep copy of the template. Null slots keep the
// template's value.
func (p *Packet) Read(src wire.Source, reg *Registry) (any, error) {
	out := p.DeepCopy().(*Packet)
	for i := range out.fields {
		tag, err := src.ReadByte()
		if err != nil {
			return nil, err
		}
		switch tag {
		case PresenceNull:
			continue
		case PresencePresent:
		default:
			return nil, fmt.Errorf("%w: presence byte %#x", ErrCorruptStream, tag)
		}

		f := &out.fields[i]
		v, err := readSlot(src, *f, reg)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Name, err)
		}
		if v != nil && !reflect.TypeOf(v).AssignableTo(f.Type) {
			return nil, fmt.Errorf("%w: %T into field %q of %s", ErrTypeMismatch, v, f.Name, TypeName(f.Type))
		}
		f.Value = v
	}
	return out, nil
}

func readSlot(src wire.Source, f Field, reg *Registry) (any, error) {
	var (
		codec Codec
		err   error
	)
	if needsTag(f.Type) {
		raw, rerr := src.ReadInt()
		if rerr != nil {
			return nil, rerr
		}
		codec, err = reg.Lookup(Fingerprint(raw))
	} else {
		codec, err = staticCodec(f.Type, reg)
	}
	if err != nil {
		return nil, err
	}
	return readTyped(codec, src, reg, concrete(f.Type))
}

// isNull treats untyped nil and nil pointers, maps and interfaces as null.
// Nil slices are empty arrays.
func isNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

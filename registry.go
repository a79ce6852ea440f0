package parcel

import (
	"errors"
	"fmt"
	"reflect"
	"slices"
	"sync"

	"go.uber.org/zap"
)

var (
	// ArrayFingerprint is the fingerprint the ArrayCodec registers under.
	ArrayFingerprint = FingerprintOfType(reflect.TypeOf(ArrayCodec{}))
	// ObjectFingerprint is the fingerprint of the generic object codec.
	ObjectFingerprint = FingerprintOfType(anyType)
)

// Registry maps fingerprints to codecs. It is safe for concurrent use:
// lookups share a read lock, registration takes the write lock, and no lock
// is held while a codec performs I/O.
type Registry struct {
	mu     sync.RWMutex
	codecs map[Fingerprint]Codec
	names  map[string]reflect.Type

	log         *zap.Logger
	maxArrayLen int
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for registration events.
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithMaxArrayLength rejects array headers declaring more than n elements.
// Zero disables the check.
func WithMaxArrayLength(n int) Option {
	return func(r *Registry) {
		if n >= 0 {
			r.maxArrayLen = n
		}
	}
}

// NewRegistry builds a registry preloaded with the primitive, string,
// generic object and array codecs.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		codecs: make(map[Fingerprint]Codec),
		names:  make(map[string]reflect.Type),
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	preload := append(builtinCodecs(), ObjectCodec{}, ArrayCodec{})
	for _, c := range preload {
		if err := r.Register(c); err != nil {
			// built-in names are fixed; a collision here is a bug
			panic(err)
		}
	}
	return r
}

// Logger returns the registry's logger.
func (r *Registry) Logger() *zap.Logger { return r.log }

// MaxArrayLength returns the configured array length limit (0 = none).
func (r *Registry) MaxArrayLength() int { return r.maxArrayLen }

// Register inserts c under every fingerprint it declares. Nothing is
// inserted if any of them is already taken. A StatefulCodec is stored as a
// private clone, so later changes to c never reach the registry.
func (r *Registry) Register(c Codec) error {
	if c == nil {
		return fmt.Errorf("%w: nil codec", ErrMalformedCodec)
	}
	if sc, ok := c.(StatefulCodec); ok {
		c = sc.CloneCodec()
	}
	fps := c.Fingerprints()
	if len(fps) == 0 {
		return fmt.Errorf("%w: %T declares no fingerprints", ErrMalformedCodec, c)
	}
	types := make([]reflect.Type, len(fps))
	for i, fp := range fps {
		if slices.Contains(fps[:i], fp) {
			return fmt.Errorf("%w: %T declares %s twice", ErrMalformedCodec, c, fp)
		}
		t := c.Type(fp)
		if t == nil {
			return fmt.Errorf("%w: %T has no type for %s", ErrMalformedCodec, c, fp)
		}
		types[i] = t
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fp := range fps {
		if prev, ok := r.codecs[fp]; ok {
			r.log.Warn("duplicate fingerprint rejected",
				zap.Stringer("fingerprint", fp),
				zap.String("codec", fmt.Sprintf("%T", c)),
				zap.String("registered", fmt.Sprintf("%T", prev)))
			return fmt.Errorf("%w: %s already bound to %T", ErrDuplicateFingerprint, fp, prev)
		}
	}
	for i, fp := range fps {
		r.codecs[fp] = c
		r.names[TypeName(types[i])] = types[i]
		r.log.Debug("codec registered",
			zap.Stringer("fingerprint", fp),
			zap.String("type", TypeName(types[i])))
	}
	return nil
}

// Unregister drops fp. Unknown fingerprints are ignored.
func (r *Registry) Unregister(fp Fingerprint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.codecs[fp]; !ok {
		return
	}
	delete(r.codecs, fp)
	r.log.Debug("codec unregistered", zap.Stringer("fingerprint", fp))
}

// UnregisterType drops the static fingerprint of t and forgets its name.
func (r *Registry) UnregisterType(t reflect.Type) {
	if t == nil {
		return
	}
	name := TypeName(t)
	r.mu.Lock()
	defer r.mu.Unlock()
	if known, ok := r.names[name]; ok && known == t {
		delete(r.names, name)
	}
	fp := FingerprintOfName(name)
	if _, ok := r.codecs[fp]; ok {
		delete(r.codecs, fp)
		r.log.Debug("codec unregistered",
			zap.Stringer("fingerprint", fp),
			zap.String("type", name))
	}
}

// Lookup returns the codec bound to fp. Stateful codecs come back as a
// private clone.
func (r *Registry) Lookup(fp Fingerprint) (Codec, error) {
	r.mu.RLock()
	c, ok := r.codecs[fp]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFingerprint, fp)
	}
	if sc, ok := c.(StatefulCodec); ok {
		return sc.CloneCodec(), nil
	}
	return c, nil
}

// LookupValue resolves the codec for v from its static or dynamic
// fingerprint. Slices and arrays always resolve to the ArrayCodec.
func (r *Registry) LookupValue(v any) (Codec, error) {
	if v == nil {
		return nil, ErrNilValue
	}
	if isArrayKind(reflect.TypeOf(v)) {
		return r.Lookup(ArrayFingerprint)
	}
	return r.Lookup(FingerprintOfValue(v))
}

// LookupType resolves the codec for values of t. Dynamic-identity types have
// no static binding and need an instance, see LookupValue.
func (r *Registry) LookupType(t reflect.Type) (Codec, error) {
	if t == nil {
		return nil, ErrNilValue
	}
	if isArrayKind(t) {
		return r.Lookup(ArrayFingerprint)
	}
	if IsDynamicType(t) {
		return nil, fmt.Errorf("%w: %s has no static fingerprint", ErrUnknownFingerprint, TypeName(t))
	}
	return r.Lookup(FingerprintOfType(t))
}

// resolve picks the fingerprint and codec a self-describing value is written
// under. Static types without a codec of their own fall back to the object
// codec.
func (r *Registry) resolve(v any) (Fingerprint, Codec, error) {
	if v == nil {
		return 0, nil, ErrNilValue
	}
	fp := wireFingerprint(v)
	c, err := r.Lookup(fp)
	if err == nil {
		return fp, c, nil
	}
	if !errors.Is(err, ErrUnknownFingerprint) || IsDynamicType(reflect.TypeOf(v)) {
		return 0, nil, err
	}
	c, err = r.Lookup(ObjectFingerprint)
	return ObjectFingerprint, c, err
}

// Contains reports whether fp is registered.
func (r *Registry) Contains(fp Fingerprint) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.codecs[fp]
	return ok
}

// Len returns the number of registered fingerprints.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.codecs)
}

// Fingerprints returns the registered fingerprints in ascending order.
func (r *Registry) Fingerprints() []Fingerprint {
	r.mu.RLock()
	out := make([]Fingerprint, 0, len(r.codecs))
	for fp := range r.codecs {
		out = append(out, fp)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// RegisterType makes the types of samples resolvable by name, so arrays
// written with class-name headers decode into the right Go type even when
// no codec is bound to it.
func (r *Registry) RegisterType(samples ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range samples {
		t := reflect.TypeOf(s)
		if t == nil {
			continue
		}
		r.names[TypeName(t)] = t
	}
}

// TypeByName resolves a name written by TypeName.
func (r *Registry) TypeByName(name string) (reflect.Type, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.names[name]
	return t, ok
}

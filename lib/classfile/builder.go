// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
)

// Builder assembles a well-formed class file. Methods return the
// builder so that fixtures read as a declaration:
//
//	data := classfile.NewBuilder("com/example/Widget").
//	    Method(classfile.AccPublic, "size", "()I").Code(1, 1, []byte{0x04, 0xac}).
//	    Class().
//	    Bytes()
//
// Constant-pool layout is a function of the order in which things are
// declared, so two builders describing the same API with members in a
// different order produce different bytes and different pools, which is
// exactly what ABI tests need to exercise.
//
// Misuse (unparseable element constants, more than 65535 pool entries)
// panics: Builder exists for tests and tooling, not untrusted input.
type Builder struct {
	major      uint16
	access     uint16
	name       string
	super      string
	interfaces []string
	fields     []*MemberBuilder
	methods    []*MemberBuilder
	inner      []InnerClass
	attributes []attributeEncoder
}

// MemberBuilder declares one field or method.
type MemberBuilder struct {
	class      *Builder
	access     uint16
	name       string
	descriptor string
	attributes []attributeEncoder
}

// LineNumber is one LineNumberTable entry.
type LineNumber struct {
	StartPC uint16
	Line    uint16
}

// attributeEncoder produces an attribute name and body, interning any
// constants it references.
type attributeEncoder func(pool *poolBuilder) (string, []byte)

// NewBuilder starts a public class extending java/lang/Object, targeting
// class file version 52 (Java 8).
func NewBuilder(name string) *Builder {
	return &Builder{
		major:  52,
		access: AccPublic | AccSuper,
		name:   name,
		super:  "java/lang/Object",
	}
}

// Version sets the major class file version.
func (b *Builder) Version(major uint16) *Builder {
	b.major = major
	return b
}

// Access replaces the class access flags.
func (b *Builder) Access(flags uint16) *Builder {
	b.access = flags
	return b
}

// Super sets the superclass; an empty name writes super_class 0.
func (b *Builder) Super(name string) *Builder {
	b.super = name
	return b
}

// Implements appends interfaces.
func (b *Builder) Implements(names ...string) *Builder {
	b.interfaces = append(b.interfaces, names...)
	return b
}

// SourceFile adds a SourceFile debug attribute.
func (b *Builder) SourceFile(name string) *Builder {
	b.attributes = append(b.attributes, func(pool *poolBuilder) (string, []byte) {
		return AttrSourceFile, u2(nil, pool.utf8(name))
	})
	return b
}

// Signature adds a generic Signature attribute to the class.
func (b *Builder) Signature(signature string) *Builder {
	b.attributes = append(b.attributes, signatureEncoder(signature))
	return b
}

// Deprecated marks the class deprecated.
func (b *Builder) Deprecated() *Builder {
	b.attributes = append(b.attributes, deprecatedEncoder)
	return b
}

// Annotate adds class annotations, visible or invisible at runtime.
func (b *Builder) Annotate(visible bool, annotations ...Annotation) *Builder {
	b.attributes = append(b.attributes, annotationsEncoder(visible, annotations))
	return b
}

// InnerClass adds an entry to the class's InnerClasses attribute.
func (b *Builder) InnerClass(entry InnerClass) *Builder {
	b.inner = append(b.inner, entry)
	return b
}

// EnclosingMethod marks the class as local or anonymous, declared in
// the given method (or in an initializer when name is empty).
func (b *Builder) EnclosingMethod(class, name, descriptor string) *Builder {
	b.attributes = append(b.attributes, func(pool *poolBuilder) (string, []byte) {
		data := u2(nil, pool.class(class))
		if name == "" {
			return AttrEnclosingMethod, u2(data, 0)
		}
		return AttrEnclosingMethod, u2(data, pool.nameAndType(name, descriptor))
	})
	return b
}

// PermittedSubclasses declares the class sealed to the given subclasses.
func (b *Builder) PermittedSubclasses(names ...string) *Builder {
	b.attributes = append(b.attributes, func(pool *poolBuilder) (string, []byte) {
		data := u2(nil, uint16(len(names)))
		for _, name := range names {
			data = u2(data, pool.class(name))
		}
		return AttrPermittedSubclasses, data
	})
	return b
}

// RawAttribute adds a class attribute with an arbitrary body.
func (b *Builder) RawAttribute(name string, data []byte) *Builder {
	b.attributes = append(b.attributes, rawEncoder(name, data))
	return b
}

// Field declares a field.
func (b *Builder) Field(access uint16, name, descriptor string) *MemberBuilder {
	member := &MemberBuilder{class: b, access: access, name: name, descriptor: descriptor}
	b.fields = append(b.fields, member)
	return member
}

// Method declares a method.
func (b *Builder) Method(access uint16, name, descriptor string) *MemberBuilder {
	member := &MemberBuilder{class: b, access: access, name: name, descriptor: descriptor}
	b.methods = append(b.methods, member)
	return member
}

// Class returns the owning builder, for chaining past a member.
func (m *MemberBuilder) Class() *Builder {
	return m.class
}

// ConstantValue adds a ConstantValue attribute. value must be an int32,
// int64, float32, float64, or string.
func (m *MemberBuilder) ConstantValue(value any) *MemberBuilder {
	m.attributes = append(m.attributes, func(pool *poolBuilder) (string, []byte) {
		var index uint16
		switch v := value.(type) {
		case int32:
			index = pool.integer(v)
		case int64:
			index = pool.long(v)
		case float32:
			index = pool.float(math.Float32bits(v))
		case float64:
			index = pool.double(math.Float64bits(v))
		case string:
			index = pool.stringConstant(v)
		default:
			panic(fmt.Sprintf("classfile: unsupported constant value type %T", value))
		}
		return AttrConstantValue, u2(nil, index)
	})
	return m
}

// Signature adds a generic Signature attribute to the member.
func (m *MemberBuilder) Signature(signature string) *MemberBuilder {
	m.attributes = append(m.attributes, signatureEncoder(signature))
	return m
}

// Exceptions declares thrown exceptions, in the given order.
func (m *MemberBuilder) Exceptions(names ...string) *MemberBuilder {
	m.attributes = append(m.attributes, func(pool *poolBuilder) (string, []byte) {
		data := u2(nil, uint16(len(names)))
		for _, name := range names {
			data = u2(data, pool.class(name))
		}
		return AttrExceptions, data
	})
	return m
}

// Deprecated marks the member deprecated.
func (m *MemberBuilder) Deprecated() *MemberBuilder {
	m.attributes = append(m.attributes, deprecatedEncoder)
	return m
}

// Annotate adds member annotations.
func (m *MemberBuilder) Annotate(visible bool, annotations ...Annotation) *MemberBuilder {
	m.attributes = append(m.attributes, annotationsEncoder(visible, annotations))
	return m
}

// ParameterAnnotations adds one annotation list per parameter.
func (m *MemberBuilder) ParameterAnnotations(visible bool, parameters [][]Annotation) *MemberBuilder {
	name := AttrRuntimeInvisibleParameterAnnotations
	if visible {
		name = AttrRuntimeVisibleParameterAnnotations
	}
	m.attributes = append(m.attributes, func(pool *poolBuilder) (string, []byte) {
		data := []byte{uint8(len(parameters))}
		for _, annotations := range parameters {
			data = appendAnnotationList(data, pool, annotations)
		}
		return name, data
	})
	return m
}

// AnnotationDefault sets the default value of an annotation element.
func (m *MemberBuilder) AnnotationDefault(value ElementValue) *MemberBuilder {
	m.attributes = append(m.attributes, func(pool *poolBuilder) (string, []byte) {
		return AttrAnnotationDefault, appendElementValue(nil, pool, value)
	})
	return m
}

// Code adds a method body. The bytecode is written verbatim and never
// interpreted; lines become a nested LineNumberTable.
func (m *MemberBuilder) Code(maxStack, maxLocals uint16, code []byte, lines ...LineNumber) *MemberBuilder {
	m.attributes = append(m.attributes, func(pool *poolBuilder) (string, []byte) {
		data := u2(nil, maxStack)
		data = u2(data, maxLocals)
		data = u4(data, uint32(len(code)))
		data = append(data, code...)
		data = u2(data, 0) // exception table
		if len(lines) == 0 {
			return AttrCode, u2(data, 0)
		}
		table := u2(nil, uint16(len(lines)))
		for _, line := range lines {
			table = u2(table, line.StartPC)
			table = u2(table, line.Line)
		}
		data = u2(data, 1)
		data = appendAttribute(data, pool, AttrLineNumberTable, table)
		return AttrCode, data
	})
	return m
}

// RawAttribute adds a member attribute with an arbitrary body.
func (m *MemberBuilder) RawAttribute(name string, data []byte) *MemberBuilder {
	m.attributes = append(m.attributes, rawEncoder(name, data))
	return m
}

// Bytes encodes the class file.
func (b *Builder) Bytes() []byte {
	pool := newPoolBuilder()

	// The body is encoded first so that every constant it references
	// is interned before the pool is written.
	body := u2(nil, b.access)
	body = u2(body, pool.class(b.name))
	if b.super == "" {
		body = u2(body, 0)
	} else {
		body = u2(body, pool.class(b.super))
	}
	body = u2(body, uint16(len(b.interfaces)))
	for _, name := range b.interfaces {
		body = u2(body, pool.class(name))
	}
	body = appendMembers(body, pool, b.fields)
	body = appendMembers(body, pool, b.methods)

	attributes := b.attributes
	if len(b.inner) > 0 {
		entries := b.inner
		attributes = append(attributes[:len(attributes):len(attributes)], func(pool *poolBuilder) (string, []byte) {
			data := u2(nil, uint16(len(entries)))
			for _, entry := range entries {
				data = u2(data, pool.class(entry.Inner))
				if entry.Outer == "" {
					data = u2(data, 0)
				} else {
					data = u2(data, pool.class(entry.Outer))
				}
				if entry.Name == "" {
					data = u2(data, 0)
				} else {
					data = u2(data, pool.utf8(entry.Name))
				}
				data = u2(data, entry.Access)
			}
			return AttrInnerClasses, data
		})
	}
	body = appendEncoded(body, pool, attributes)

	out := u4(nil, Magic)
	out = u2(out, 0)
	out = u2(out, b.major)
	out = pool.appendTo(out)
	return append(out, body...)
}

func appendMembers(data []byte, pool *poolBuilder, members []*MemberBuilder) []byte {
	data = u2(data, uint16(len(members)))
	for _, member := range members {
		data = u2(data, member.access)
		data = u2(data, pool.utf8(member.name))
		data = u2(data, pool.utf8(member.descriptor))
		data = appendEncoded(data, pool, member.attributes)
	}
	return data
}

func appendEncoded(data []byte, pool *poolBuilder, encoders []attributeEncoder) []byte {
	data = u2(data, uint16(len(encoders)))
	for _, encoder := range encoders {
		name, body := encoder(pool)
		data = appendAttribute(data, pool, name, body)
	}
	return data
}

func appendAttribute(data []byte, pool *poolBuilder, name string, body []byte) []byte {
	data = u2(data, pool.utf8(name))
	data = u4(data, uint32(len(body)))
	return append(data, body...)
}

func signatureEncoder(signature string) attributeEncoder {
	return func(pool *poolBuilder) (string, []byte) {
		return AttrSignature, u2(nil, pool.utf8(signature))
	}
}

func deprecatedEncoder(*poolBuilder) (string, []byte) {
	return AttrDeprecated, nil
}

func rawEncoder(name string, data []byte) attributeEncoder {
	return func(*poolBuilder) (string, []byte) {
		return name, data
	}
}

func annotationsEncoder(visible bool, annotations []Annotation) attributeEncoder {
	name := AttrRuntimeInvisibleAnnotations
	if visible {
		name = AttrRuntimeVisibleAnnotations
	}
	return func(pool *poolBuilder) (string, []byte) {
		return name, appendAnnotationList(nil, pool, annotations)
	}
}

func appendAnnotationList(data []byte, pool *poolBuilder, annotations []Annotation) []byte {
	data = u2(data, uint16(len(annotations)))
	for _, annotation := range annotations {
		data = appendAnnotation(data, pool, annotation)
	}
	return data
}

func appendAnnotation(data []byte, pool *poolBuilder, annotation Annotation) []byte {
	data = u2(data, pool.utf8(annotation.Type))
	data = u2(data, uint16(len(annotation.Elements)))
	for _, pair := range annotation.Elements {
		data = u2(data, pool.utf8(pair.Name))
		data = appendElementValue(data, pool, pair.Value)
	}
	return data
}

func appendElementValue(data []byte, pool *poolBuilder, value ElementValue) []byte {
	if len(value.Tag) != 1 {
		panic(fmt.Sprintf("classfile: element value tag %q must be one byte", value.Tag))
	}
	tag := value.Tag[0]
	data = append(data, tag)
	switch tag {
	case 'B', 'C', 'I', 'S', 'Z':
		parsed, err := strconv.ParseInt(value.Const, 10, 32)
		mustParse(err, value)
		return u2(data, pool.integer(int32(parsed)))
	case 'J':
		parsed, err := strconv.ParseInt(value.Const, 10, 64)
		mustParse(err, value)
		return u2(data, pool.long(parsed))
	case 'F':
		parsed, err := strconv.ParseUint(value.Const, 0, 32)
		mustParse(err, value)
		return u2(data, pool.float(uint32(parsed)))
	case 'D':
		parsed, err := strconv.ParseUint(value.Const, 0, 64)
		mustParse(err, value)
		return u2(data, pool.double(parsed))
	case 's':
		return u2(data, pool.utf8(value.Const))
	case 'e':
		data = u2(data, pool.utf8(value.EnumType))
		return u2(data, pool.utf8(value.EnumName))
	case 'c':
		return u2(data, pool.utf8(value.Class))
	case '@':
		if value.Annotation == nil {
			panic("classfile: '@' element value without annotation")
		}
		return appendAnnotation(data, pool, *value.Annotation)
	case '[':
		data = u2(data, uint16(len(value.Array)))
		for _, element := range value.Array {
			data = appendElementValue(data, pool, element)
		}
		return data
	default:
		panic(fmt.Sprintf("classfile: unknown element value tag %q", tag))
	}
}

func mustParse(err error, value ElementValue) {
	if err != nil {
		panic(fmt.Sprintf("classfile: element value %q with tag %s: %v", value.Const, value.Tag, err))
	}
}

// poolBuilder interns constants in first-use order.
type poolBuilder struct {
	entries [][]byte
	next    int
	index   map[string]uint16
}

func newPoolBuilder() *poolBuilder {
	return &poolBuilder{next: 1, index: make(map[string]uint16)}
}

func (p *poolBuilder) intern(key string, encoded []byte, slots int) uint16 {
	if index, ok := p.index[key]; ok {
		return index
	}
	if p.next+slots > math.MaxUint16 {
		panic("classfile: constant pool overflow")
	}
	index := uint16(p.next)
	p.index[key] = index
	p.entries = append(p.entries, encoded)
	p.next += slots
	return index
}

func (p *poolBuilder) utf8(text string) uint16 {
	encoded := u2([]byte{byte(TagUtf8)}, uint16(len(text)))
	return p.intern("utf8:"+text, append(encoded, text...), 1)
}

func (p *poolBuilder) class(name string) uint16 {
	nameIndex := p.utf8(name)
	return p.intern("class:"+name, u2([]byte{byte(TagClass)}, nameIndex), 1)
}

func (p *poolBuilder) stringConstant(text string) uint16 {
	textIndex := p.utf8(text)
	return p.intern("string:"+text, u2([]byte{byte(TagString)}, textIndex), 1)
}

func (p *poolBuilder) integer(value int32) uint16 {
	return p.intern("int:"+strconv.FormatInt(int64(value), 10),
		u4([]byte{byte(TagInteger)}, uint32(value)), 1)
}

func (p *poolBuilder) float(bits uint32) uint16 {
	return p.intern("float:"+strconv.FormatUint(uint64(bits), 16),
		u4([]byte{byte(TagFloat)}, bits), 1)
}

func (p *poolBuilder) long(value int64) uint16 {
	return p.intern("long:"+strconv.FormatInt(value, 10),
		binary.BigEndian.AppendUint64([]byte{byte(TagLong)}, uint64(value)), 2)
}

func (p *poolBuilder) double(bits uint64) uint16 {
	return p.intern("double:"+strconv.FormatUint(bits, 16),
		binary.BigEndian.AppendUint64([]byte{byte(TagDouble)}, bits), 2)
}

func (p *poolBuilder) nameAndType(name, descriptor string) uint16 {
	nameIndex := p.utf8(name)
	descriptorIndex := p.utf8(descriptor)
	encoded := u2(u2([]byte{byte(TagNameAndType)}, nameIndex), descriptorIndex)
	return p.intern("nat:"+name+":"+descriptor, encoded, 1)
}

func (p *poolBuilder) appendTo(data []byte) []byte {
	data = u2(data, uint16(p.next))
	for _, entry := range p.entries {
		data = append(data, entry...)
	}
	return data
}

func u2(data []byte, value uint16) []byte {
	return binary.BigEndian.AppendUint16(data, value)
}

func u4(data []byte, value uint32) []byte {
	return binary.BigEndian.AppendUint32(data, value)
}

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classfile

import "fmt"

// InnerClass is one entry of an InnerClasses attribute. Outer is empty
// for local and anonymous classes; Name is empty for anonymous classes.
type InnerClass struct {
	Inner  string
	Outer  string
	Name   string
	Access uint16
}

// Annotation is an annotation with every constant-pool reference
// resolved, so two classes carrying the same annotation compare equal
// regardless of how their constant pools are laid out.
type Annotation struct {
	// Type is the field descriptor of the annotation interface,
	// e.g. "Ljava/lang/Deprecated;".
	Type     string        `cbor:"type"`
	Elements []ElementPair `cbor:"elements"`
}

// ElementPair is a named annotation element.
type ElementPair struct {
	Name  string       `cbor:"name"`
	Value ElementValue `cbor:"value"`
}

// ElementValue is a resolved annotation element value (JVMS §4.7.16.1).
// Tag selects which of the other fields is meaningful:
//
//   - B C D F I J S Z s: Const holds the value as text. Integral kinds
//     are decimal, F and D are the hex IEEE bit pattern, s is the
//     string itself.
//   - e: EnumType (a field descriptor) and EnumName.
//   - c: Class, a return descriptor such as "Ljava/lang/String;" or "V".
//   - @: Annotation.
//   - [: Array.
type ElementValue struct {
	Tag        string         `cbor:"tag"`
	Const      string         `cbor:"const,omitempty"`
	EnumType   string         `cbor:"enum_type,omitempty"`
	EnumName   string         `cbor:"enum_name,omitempty"`
	Class      string         `cbor:"class,omitempty"`
	Annotation *Annotation    `cbor:"annotation,omitempty"`
	Array      []ElementValue `cbor:"array,omitempty"`
}

// decode runs fn over the attribute body and requires that it consumes
// the body exactly.
func decode(attribute Attribute, fn func(r *reader)) error {
	r := newReader(attribute.Data, attribute.Offset)
	fn(r)
	if err := r.finish(attribute.Name + " attribute"); err != nil {
		return fmt.Errorf("decoding %s: %w", attribute.Name, err)
	}
	return nil
}

// resolveAt wraps a pool resolution error with the reader position.
func resolveAt(r *reader, offset int, err error) {
	if err != nil {
		r.fail(malformed(offset, "%v", err))
	}
}

// DecodeSignature returns the generic signature text of a Signature
// attribute.
func (p ConstantPool) DecodeSignature(attribute Attribute) (string, error) {
	var signature string
	err := decode(attribute, func(r *reader) {
		offset := r.position()
		index := r.u2("signature index")
		if r.err != nil {
			return
		}
		var err error
		signature, err = p.UTF8(index)
		resolveAt(r, offset, err)
	})
	return signature, err
}

// DecodeConstantValue returns the canonical text of a field's
// ConstantValue attribute (see ConstantPool.ConstantString).
func (p ConstantPool) DecodeConstantValue(attribute Attribute) (string, error) {
	var value string
	err := decode(attribute, func(r *reader) {
		offset := r.position()
		index := r.u2("constant value index")
		if r.err != nil {
			return
		}
		var err error
		value, err = p.ConstantString(index)
		resolveAt(r, offset, err)
	})
	return value, err
}

// DecodeExceptions returns the class names listed in a method's
// Exceptions attribute, in declaration order.
func (p ConstantPool) DecodeExceptions(attribute Attribute) ([]string, error) {
	return p.decodeClassList(attribute, "exception")
}

// DecodePermittedSubclasses returns the class names listed in a
// PermittedSubclasses attribute.
func (p ConstantPool) DecodePermittedSubclasses(attribute Attribute) ([]string, error) {
	return p.decodeClassList(attribute, "permitted subclass")
}

func (p ConstantPool) decodeClassList(attribute Attribute, what string) ([]string, error) {
	var names []string
	err := decode(attribute, func(r *reader) {
		count := r.u2(what + " count")
		for i := 0; i < int(count) && r.err == nil; i++ {
			offset := r.position()
			index := r.u2(what + " index")
			if r.err != nil {
				return
			}
			name, err := p.ClassName(index)
			if err != nil {
				resolveAt(r, offset, err)
				return
			}
			names = append(names, name)
		}
	})
	return names, err
}

// DecodeInnerClasses returns the entries of an InnerClasses attribute.
func (p ConstantPool) DecodeInnerClasses(attribute Attribute) ([]InnerClass, error) {
	var entries []InnerClass
	err := decode(attribute, func(r *reader) {
		count := r.u2("inner classes count")
		for i := 0; i < int(count) && r.err == nil; i++ {
			offset := r.position()
			innerIndex := r.u2("inner class index")
			outerIndex := r.u2("outer class index")
			nameIndex := r.u2("inner name index")
			access := r.u2("inner class access flags")
			if r.err != nil {
				return
			}
			entry := InnerClass{Access: access}
			var err error
			if entry.Inner, err = p.ClassName(innerIndex); err != nil {
				resolveAt(r, offset, err)
				return
			}
			if outerIndex != 0 {
				if entry.Outer, err = p.ClassName(outerIndex); err != nil {
					resolveAt(r, offset+2, err)
					return
				}
			}
			if nameIndex != 0 {
				if entry.Name, err = p.UTF8(nameIndex); err != nil {
					resolveAt(r, offset+4, err)
					return
				}
			}
			entries = append(entries, entry)
		}
	})
	return entries, err
}

// DecodeEnclosingMethod returns the enclosing class of a local or
// anonymous class. The method reference is validated but not returned.
func (p ConstantPool) DecodeEnclosingMethod(attribute Attribute) (string, error) {
	var class string
	err := decode(attribute, func(r *reader) {
		offset := r.position()
		classIndex := r.u2("enclosing class index")
		methodIndex := r.u2("enclosing method index")
		if r.err != nil {
			return
		}
		var err error
		if class, err = p.ClassName(classIndex); err != nil {
			resolveAt(r, offset, err)
			return
		}
		if methodIndex != 0 {
			_, err = p.entry(methodIndex, TagNameAndType)
			resolveAt(r, offset+2, err)
		}
	})
	return class, err
}

// DecodeAnnotations decodes a Runtime(In)VisibleAnnotations attribute.
func (p ConstantPool) DecodeAnnotations(attribute Attribute) ([]Annotation, error) {
	var annotations []Annotation
	err := decode(attribute, func(r *reader) {
		annotations = p.readAnnotationList(r)
	})
	return annotations, err
}

// DecodeParameterAnnotations decodes a
// Runtime(In)VisibleParameterAnnotations attribute: one annotation list
// per parameter.
func (p ConstantPool) DecodeParameterAnnotations(attribute Attribute) ([][]Annotation, error) {
	var parameters [][]Annotation
	err := decode(attribute, func(r *reader) {
		count := r.u1("parameter count")
		for i := 0; i < int(count) && r.err == nil; i++ {
			parameters = append(parameters, p.readAnnotationList(r))
		}
	})
	return parameters, err
}

// DecodeAnnotationDefault decodes the default value of an annotation
// interface element.
func (p ConstantPool) DecodeAnnotationDefault(attribute Attribute) (ElementValue, error) {
	var value ElementValue
	err := decode(attribute, func(r *reader) {
		value = p.readElementValue(r, 0)
	})
	return value, err
}

// maxAnnotationDepth bounds nesting of annotations and arrays so that
// hostile input cannot exhaust the stack.
const maxAnnotationDepth = 32

func (p ConstantPool) readAnnotationList(r *reader) []Annotation {
	count := r.u2("annotation count")
	annotations := make([]Annotation, 0, count)
	for i := 0; i < int(count) && r.err == nil; i++ {
		annotation := p.readAnnotation(r, 0)
		if r.err != nil {
			return nil
		}
		annotations = append(annotations, annotation)
	}
	return annotations
}

func (p ConstantPool) readAnnotation(r *reader, depth int) Annotation {
	if depth > maxAnnotationDepth {
		r.fail(malformed(r.position(), "annotation nesting exceeds %d", maxAnnotationDepth))
		return Annotation{}
	}
	offset := r.position()
	typeIndex := r.u2("annotation type index")
	pairCount := r.u2("element pair count")
	if r.err != nil {
		return Annotation{}
	}
	typeName, err := p.UTF8(typeIndex)
	if err != nil {
		resolveAt(r, offset, err)
		return Annotation{}
	}
	annotation := Annotation{Type: typeName, Elements: make([]ElementPair, 0, pairCount)}
	for i := 0; i < int(pairCount) && r.err == nil; i++ {
		nameOffset := r.position()
		nameIndex := r.u2("element name index")
		if r.err != nil {
			break
		}
		name, err := p.UTF8(nameIndex)
		if err != nil {
			resolveAt(r, nameOffset, err)
			break
		}
		value := p.readElementValue(r, depth+1)
		annotation.Elements = append(annotation.Elements, ElementPair{Name: name, Value: value})
	}
	return annotation
}

func (p ConstantPool) readElementValue(r *reader, depth int) ElementValue {
	if depth > maxAnnotationDepth {
		r.fail(malformed(r.position(), "element value nesting exceeds %d", maxAnnotationDepth))
		return ElementValue{}
	}
	offset := r.position()
	tag := r.u1("element value tag")
	if r.err != nil {
		return ElementValue{}
	}
	value := ElementValue{Tag: string(rune(tag))}
	switch tag {
	case 'B', 'C', 'D', 'F', 'I', 'J', 'S', 'Z', 's':
		index := r.u2("const value index")
		if r.err != nil {
			break
		}
		constant, err := p.elementConstant(tag, index)
		resolveAt(r, offset+1, err)
		value.Const = constant
	case 'e':
		typeIndex := r.u2("enum type index")
		nameIndex := r.u2("enum const index")
		if r.err != nil {
			break
		}
		var err error
		if value.EnumType, err = p.UTF8(typeIndex); err != nil {
			resolveAt(r, offset+1, err)
			break
		}
		value.EnumName, err = p.UTF8(nameIndex)
		resolveAt(r, offset+3, err)
	case 'c':
		index := r.u2("class info index")
		if r.err != nil {
			break
		}
		var err error
		value.Class, err = p.UTF8(index)
		resolveAt(r, offset+1, err)
	case '@':
		nested := p.readAnnotation(r, depth+1)
		value.Annotation = &nested
	case '[':
		count := r.u2("array length")
		for i := 0; i < int(count) && r.err == nil; i++ {
			value.Array = append(value.Array, p.readElementValue(r, depth+1))
		}
	default:
		r.fail(malformed(offset, "unknown element value tag %q", tag))
	}
	return value
}

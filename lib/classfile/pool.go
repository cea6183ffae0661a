// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classfile

import (
	"encoding/binary"
	"fmt"
	"strconv"
)

// Constant is one constant-pool entry. The meaning of the fields
// depends on Tag:
//
//   - Utf8: Bytes holds the (modified UTF-8) text.
//   - Integer, Float: Bytes holds the 4 big-endian bytes.
//   - Long, Double: Bytes holds the 8 big-endian bytes.
//   - Class, String, MethodType, Module, Package: First is the Utf8 index.
//   - Fieldref, Methodref, InterfaceMethodref: First is the Class index,
//     Second the NameAndType index.
//   - NameAndType: First is the name, Second the descriptor (both Utf8).
//   - MethodHandle: Kind is the reference kind, First the referenced
//     member.
//   - Dynamic, InvokeDynamic: First is the bootstrap method index (into
//     the BootstrapMethods attribute, not the pool), Second the
//     NameAndType index.
//
// The slot following a Long or Double has Tag 0 and is unusable.
type Constant struct {
	Tag    Tag
	Kind   uint8
	First  uint16
	Second uint16
	Bytes  []byte
}

// ConstantPool is indexed exactly as the class file indexes it: entry 0
// is unused and the slot after every Long or Double is unusable.
type ConstantPool []Constant

// entry returns the constant at index, verifying it has the wanted tag.
func (p ConstantPool) entry(index uint16, want Tag) (Constant, error) {
	if index == 0 || int(index) >= len(p) {
		return Constant{}, malformed(-1, "constant pool index %d out of range [1, %d)", index, len(p))
	}
	constant := p[index]
	if constant.Tag != want {
		return Constant{}, malformed(-1, "constant pool index %d is %s, want %s", index, constant.Tag, want)
	}
	return constant, nil
}

// UTF8 returns the text of the Utf8 constant at index. Modified UTF-8
// is returned byte-for-byte; the only consumers compare and hash names,
// for which the raw encoding is stable.
func (p ConstantPool) UTF8(index uint16) (string, error) {
	constant, err := p.entry(index, TagUtf8)
	if err != nil {
		return "", err
	}
	return string(constant.Bytes), nil
}

// ClassName returns the internal name (e.g. "java/lang/String") of the
// Class constant at index.
func (p ConstantPool) ClassName(index uint16) (string, error) {
	constant, err := p.entry(index, TagClass)
	if err != nil {
		return "", err
	}
	return p.UTF8(constant.First)
}

// ConstantString renders a loadable constant (Integer, Float, Long,
// Double, String) as canonical text prefixed with its type, e.g.
// "int:42" or "string:hello". Floating-point values are rendered by
// their IEEE bit pattern so that NaN payloads and negative zero are
// distinguished deterministically.
func (p ConstantPool) ConstantString(index uint16) (string, error) {
	if index == 0 || int(index) >= len(p) {
		return "", malformed(-1, "constant pool index %d out of range [1, %d)", index, len(p))
	}
	constant := p[index]
	switch constant.Tag {
	case TagInteger:
		return "int:" + strconv.FormatInt(int64(int32(binary.BigEndian.Uint32(constant.Bytes))), 10), nil
	case TagFloat:
		return fmt.Sprintf("float:0x%08x", binary.BigEndian.Uint32(constant.Bytes)), nil
	case TagLong:
		return "long:" + strconv.FormatInt(int64(binary.BigEndian.Uint64(constant.Bytes)), 10), nil
	case TagDouble:
		return fmt.Sprintf("double:0x%016x", binary.BigEndian.Uint64(constant.Bytes)), nil
	case TagString:
		text, err := p.UTF8(constant.First)
		if err != nil {
			return "", err
		}
		return "string:" + text, nil
	default:
		return "", malformed(-1, "constant pool index %d is %s, not a loadable constant", index, constant.Tag)
	}
}

// elementConstant renders the constant behind an annotation element
// value of the given tag, without a type prefix (the element tag
// already carries the type).
func (p ConstantPool) elementConstant(tag byte, index uint16) (string, error) {
	switch tag {
	case 'B', 'C', 'I', 'S', 'Z':
		constant, err := p.entry(index, TagInteger)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(int32(binary.BigEndian.Uint32(constant.Bytes))), 10), nil
	case 'J':
		constant, err := p.entry(index, TagLong)
		if err != nil {
			return "", err
		}
		return strconv.FormatInt(int64(binary.BigEndian.Uint64(constant.Bytes)), 10), nil
	case 'F':
		constant, err := p.entry(index, TagFloat)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("0x%08x", binary.BigEndian.Uint32(constant.Bytes)), nil
	case 'D':
		constant, err := p.entry(index, TagDouble)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("0x%016x", binary.BigEndian.Uint64(constant.Bytes)), nil
	case 's':
		return p.UTF8(index)
	default:
		return "", malformed(-1, "element value tag %q has no constant", tag)
	}
}

// readConstantPool reads count-1 entries and then checks that every
// cross-reference inside the pool points at an entry of the right kind.
func readConstantPool(r *reader) ConstantPool {
	count := r.u2("constant pool count")
	if r.err != nil {
		return nil
	}
	if count == 0 {
		r.fail(malformed(r.position()-2, "constant pool count is 0"))
		return nil
	}

	pool := make(ConstantPool, count)
	for index := 1; index < int(count); index++ {
		start := r.position()
		tag := Tag(r.u1("constant tag"))
		var constant Constant
		constant.Tag = tag
		switch tag {
		case TagUtf8:
			length := r.u2("utf8 length")
			constant.Bytes = r.bytes(int(length), "utf8 bytes")
		case TagInteger, TagFloat:
			constant.Bytes = r.bytes(4, "numeric constant")
		case TagLong, TagDouble:
			constant.Bytes = r.bytes(8, "wide constant")
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			constant.First = r.u2("constant index")
		case TagFieldref, TagMethodref, TagInterfaceMethodref, TagNameAndType,
			TagDynamic, TagInvokeDynamic:
			constant.First = r.u2("constant index")
			constant.Second = r.u2("constant index")
		case TagMethodHandle:
			constant.Kind = r.u1("method handle kind")
			constant.First = r.u2("method handle reference")
		default:
			r.fail(malformed(start, "unknown constant pool tag %d at index %d", tag, index))
		}
		if r.err != nil {
			return nil
		}
		pool[index] = constant
		if tag == TagLong || tag == TagDouble {
			// The following slot is unusable; a wide constant in the
			// last slot overflows the declared count.
			index++
			if index >= int(count) {
				r.fail(malformed(start, "%s constant at index %d overflows pool of %d", tag, index-1, count))
				return nil
			}
		}
	}

	if err := pool.validate(); err != nil {
		r.fail(err)
		return nil
	}
	return pool
}

// validate checks intra-pool references.
func (p ConstantPool) validate() error {
	for index, constant := range p {
		var err error
		switch constant.Tag {
		case TagClass, TagString, TagMethodType, TagModule, TagPackage:
			_, err = p.entry(constant.First, TagUtf8)
		case TagFieldref, TagMethodref, TagInterfaceMethodref:
			if _, err = p.entry(constant.First, TagClass); err == nil {
				_, err = p.entry(constant.Second, TagNameAndType)
			}
		case TagNameAndType:
			if _, err = p.entry(constant.First, TagUtf8); err == nil {
				_, err = p.entry(constant.Second, TagUtf8)
			}
		case TagDynamic, TagInvokeDynamic:
			_, err = p.entry(constant.Second, TagNameAndType)
		case TagMethodHandle:
			if constant.Kind < 1 || constant.Kind > 9 {
				err = malformed(-1, "method handle at index %d has reference kind %d", index, constant.Kind)
				break
			}
			if constant.First == 0 || int(constant.First) >= len(p) {
				err = malformed(-1, "method handle at index %d references %d", index, constant.First)
				break
			}
			switch p[constant.First].Tag {
			case TagFieldref, TagMethodref, TagInterfaceMethodref:
			default:
				err = malformed(-1, "method handle at index %d references %s", index, p[constant.First].Tag)
			}
		}
		if err != nil {
			return fmt.Errorf("constant pool entry %d: %w", index, err)
		}
	}
	return nil
}

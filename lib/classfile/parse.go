// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package classfile

// Attribute is a named attribute with its undecoded body. Offset is
// the file position of the body, used to report decoding failures.
type Attribute struct {
	Name   string
	Data   []byte
	Offset int
}

// Member is a field or method.
type Member struct {
	Access     uint16
	Name       string
	Descriptor string
	Attributes []Attribute
}

// Attribute returns the first attribute with the given name.
func (m *Member) Attribute(name string) (Attribute, bool) {
	return findAttribute(m.Attributes, name)
}

// ClassFile is a parsed class. Names are internal names
// ("com/example/Foo"). SuperClass is empty only for java/lang/Object
// and module-info.
type ClassFile struct {
	MinorVersion uint16
	MajorVersion uint16
	Pool         ConstantPool
	Access       uint16
	ThisClass    string
	SuperClass   string
	Interfaces   []string
	Fields       []Member
	Methods      []Member
	Attributes   []Attribute
}

// Attribute returns the first class-level attribute with the given name.
func (c *ClassFile) Attribute(name string) (Attribute, bool) {
	return findAttribute(c.Attributes, name)
}

// PackageName returns the package portion of ThisClass in internal
// form ("com/example"), or "" for the default package.
func (c *ClassFile) PackageName() string {
	for i := len(c.ThisClass) - 1; i >= 0; i-- {
		if c.ThisClass[i] == '/' {
			return c.ThisClass[:i]
		}
	}
	return ""
}

func findAttribute(attributes []Attribute, name string) (Attribute, bool) {
	for _, attribute := range attributes {
		if attribute.Name == name {
			return attribute, true
		}
	}
	return Attribute{}, false
}

// Parse decodes a complete class file. The returned ClassFile aliases
// data (attribute bodies and constant bytes are sub-slices), so the
// caller must not modify data while the result is in use.
//
// Any structural problem, including trailing bytes after the last
// attribute, returns an error matching ErrMalformed.
func Parse(data []byte) (*ClassFile, error) {
	r := newReader(data, 0)

	if magic := r.u4("magic"); r.err == nil && magic != Magic {
		return nil, malformed(0, "bad magic 0x%08x", magic)
	}

	class := &ClassFile{}
	class.MinorVersion = r.u2("minor version")
	class.MajorVersion = r.u2("major version")
	class.Pool = readConstantPool(r)
	if r.err != nil {
		return nil, r.err
	}

	class.Access = r.u2("access flags")

	thisOffset := r.position()
	thisIndex := r.u2("this_class")
	superIndex := r.u2("super_class")
	if r.err != nil {
		return nil, r.err
	}

	var err error
	if class.ThisClass, err = class.Pool.ClassName(thisIndex); err != nil {
		return nil, malformed(thisOffset, "this_class: %v", err)
	}
	if superIndex != 0 {
		if class.SuperClass, err = class.Pool.ClassName(superIndex); err != nil {
			return nil, malformed(thisOffset+2, "super_class: %v", err)
		}
	}

	interfaceCount := r.u2("interfaces count")
	for i := 0; i < int(interfaceCount) && r.err == nil; i++ {
		offset := r.position()
		index := r.u2("interface index")
		if r.err != nil {
			break
		}
		name, err := class.Pool.ClassName(index)
		if err != nil {
			return nil, malformed(offset, "interface %d: %v", i, err)
		}
		class.Interfaces = append(class.Interfaces, name)
	}

	class.Fields = readMembers(r, class.Pool, "field")
	class.Methods = readMembers(r, class.Pool, "method")
	class.Attributes = readAttributes(r, class.Pool)

	if err := r.finish("class attributes"); err != nil {
		return nil, err
	}
	return class, nil
}

func readMembers(r *reader, pool ConstantPool, kind string) []Member {
	count := r.u2(kind + " count")
	if r.err != nil {
		return nil
	}
	members := make([]Member, 0, count)
	for i := 0; i < int(count); i++ {
		offset := r.position()
		access := r.u2(kind + " access flags")
		nameIndex := r.u2(kind + " name index")
		descriptorIndex := r.u2(kind + " descriptor index")
		if r.err != nil {
			return nil
		}
		name, err := pool.UTF8(nameIndex)
		if err != nil {
			r.fail(malformed(offset, "%s %d name: %v", kind, i, err))
			return nil
		}
		descriptor, err := pool.UTF8(descriptorIndex)
		if err != nil {
			r.fail(malformed(offset, "%s %d descriptor: %v", kind, i, err))
			return nil
		}
		attributes := readAttributes(r, pool)
		if r.err != nil {
			return nil
		}
		members = append(members, Member{
			Access:     access,
			Name:       name,
			Descriptor: descriptor,
			Attributes: attributes,
		})
	}
	return members
}

func readAttributes(r *reader, pool ConstantPool) []Attribute {
	count := r.u2("attributes count")
	if r.err != nil {
		return nil
	}
	attributes := make([]Attribute, 0, count)
	for i := 0; i < int(count); i++ {
		offset := r.position()
		nameIndex := r.u2("attribute name index")
		length := r.u4("attribute length")
		if r.err != nil {
			return nil
		}
		name, err := pool.UTF8(nameIndex)
		if err != nil {
			r.fail(malformed(offset, "attribute %d name: %v", i, err))
			return nil
		}
		if uint64(length) > uint64(len(r.data)-r.offset) {
			r.fail(malformed(offset, "attribute %s length %d exceeds remaining %d bytes",
				name, length, len(r.data)-r.offset))
			return nil
		}
		bodyOffset := r.position()
		data := r.bytes(int(length), "attribute body")
		attributes = append(attributes, Attribute{Name: name, Data: data, Offset: bodyOffset})
	}
	return attributes
}

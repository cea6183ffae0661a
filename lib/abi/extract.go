// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package abi

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/bureau-foundation/buildavoid/lib/classfile"
	"github.com/bureau-foundation/buildavoid/lib/codec"
)

// Options configures an Extractor.
type Options struct {
	// IgnoredPackages lists packages whose classes are never part of
	// the surface. Entries use either dotted or slashed form. An entry
	// ending in ".*" also covers every sub-package.
	IgnoredPackages []string

	// IncludePackagePrivate treats package-private classes and members
	// as part of the surface. Off by default: consumers outside the
	// package cannot reference them.
	IncludePackagePrivate bool
}

// Decision is the extractor's verdict on whether a class belongs to
// the surface at all.
type Decision int

const (
	Extract Decision = iota
	Skip
)

func (d Decision) String() string {
	switch d {
	case Extract:
		return "extract"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Outcome is the result of [Extractor.Extract].
type Outcome int

const (
	// Extracted means an image was produced.
	Extracted Outcome = iota
	// Skipped means Decide rejected the class.
	Skipped
	// NotApplicable means the class was a candidate but retained no
	// members after reduction.
	NotApplicable
)

func (o Outcome) String() string {
	switch o {
	case Extracted:
		return "extracted"
	case Skipped:
		return "skipped"
	case NotApplicable:
		return "not-applicable"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

type packageRule struct {
	name       string
	subpackage bool
}

func (r packageRule) matches(pkg string) bool {
	if pkg == r.name {
		return true
	}
	return r.subpackage && strings.HasPrefix(pkg, r.name+"/")
}

// Extractor reduces classes to their ABI image. It holds no mutable
// state and is safe for concurrent use.
type Extractor struct {
	includePackagePrivate bool
	ignored               []packageRule
}

// NewExtractor creates an Extractor.
func NewExtractor(options Options) *Extractor {
	extractor := &Extractor{includePackagePrivate: options.IncludePackagePrivate}
	for _, entry := range options.IgnoredPackages {
		rule := packageRule{name: entry}
		if trimmed, ok := strings.CutSuffix(entry, ".*"); ok {
			rule = packageRule{name: trimmed, subpackage: true}
		}
		rule.name = strings.ReplaceAll(rule.name, ".", "/")
		extractor.ignored = append(extractor.ignored, rule)
	}
	return extractor
}

// Extract parses data and runs Decide and Reduce. Parse failures are
// returned as errors matching classfile.ErrMalformed.
func (e *Extractor) Extract(data []byte) ([]byte, Outcome, error) {
	class, err := classfile.Parse(data)
	if err != nil {
		return nil, 0, err
	}
	decision, err := e.Decide(class)
	if err != nil {
		return nil, 0, err
	}
	if decision == Skip {
		return nil, Skipped, nil
	}
	image, ok, err := e.Reduce(class)
	if err != nil {
		return nil, 0, err
	}
	if !ok {
		return nil, NotApplicable, nil
	}
	return image, Extracted, nil
}

// Decide reports whether class can contribute to the surface. An error
// means an attribute needed for the decision is malformed.
func (e *Extractor) Decide(class *classfile.ClassFile) (Decision, error) {
	if class.Access&(classfile.AccSynthetic|classfile.AccModule) != 0 {
		return Skip, nil
	}
	if class.ThisClass == "module-info" || strings.HasSuffix(class.ThisClass, "/package-info") {
		return Skip, nil
	}
	if _, ok := class.Attribute(classfile.AttrSynthetic); ok {
		return Skip, nil
	}
	if attribute, ok := class.Attribute(classfile.AttrEnclosingMethod); ok {
		// Local and anonymous classes; validate it anyway so that a
		// corrupt attribute is not silently accepted.
		if _, err := class.Pool.DecodeEnclosingMethod(attribute); err != nil {
			return Skip, err
		}
		return Skip, nil
	}

	access := class.Access
	if attribute, ok := class.Attribute(classfile.AttrInnerClasses); ok {
		entries, err := class.Pool.DecodeInnerClasses(attribute)
		if err != nil {
			return Skip, err
		}
		for _, entry := range entries {
			if entry.Inner != class.ThisClass {
				continue
			}
			if entry.Outer == "" || entry.Name == "" {
				return Skip, nil
			}
			// The source-level visibility of a nested class lives
			// only in its InnerClasses entry.
			access = entry.Access
			break
		}
	}
	if !e.visible(access) {
		return Skip, nil
	}

	pkg := class.PackageName()
	for _, rule := range e.ignored {
		if rule.matches(pkg) {
			return Skip, nil
		}
	}
	return Extract, nil
}

func (e *Extractor) visible(access uint16) bool {
	switch {
	case access&(classfile.AccPublic|classfile.AccProtected) != 0:
		return true
	case access&classfile.AccPrivate != 0:
		return false
	default:
		return e.includePackagePrivate
	}
}

// classImage is the retained structure of one class. Field order is
// part of the encoding; CBOR Core Deterministic Encoding sorts map keys
// so the struct layout itself does not leak into the bytes.
type classImage struct {
	Version              uint16                 `cbor:"version"`
	Access               uint16                 `cbor:"access"`
	Name                 string                 `cbor:"name"`
	Super                string                 `cbor:"super,omitempty"`
	Interfaces           []string               `cbor:"interfaces,omitempty"`
	Signature            string                 `cbor:"signature,omitempty"`
	Deprecated           bool                   `cbor:"deprecated,omitempty"`
	VisibleAnnotations   []classfile.Annotation `cbor:"visible_annotations,omitempty"`
	InvisibleAnnotations []classfile.Annotation `cbor:"invisible_annotations,omitempty"`
	PermittedSubclasses  []string               `cbor:"permitted_subclasses,omitempty"`
	Fields               []fieldImage           `cbor:"fields,omitempty"`
	Methods              []methodImage          `cbor:"methods,omitempty"`
}

type fieldImage struct {
	Access               uint16                 `cbor:"access"`
	Name                 string                 `cbor:"name"`
	Descriptor           string                 `cbor:"descriptor"`
	Signature            string                 `cbor:"signature,omitempty"`
	Value                string                 `cbor:"value,omitempty"`
	Deprecated           bool                   `cbor:"deprecated,omitempty"`
	VisibleAnnotations   []classfile.Annotation `cbor:"visible_annotations,omitempty"`
	InvisibleAnnotations []classfile.Annotation `cbor:"invisible_annotations,omitempty"`
}

type methodImage struct {
	Access                        uint16                   `cbor:"access"`
	Name                          string                   `cbor:"name"`
	Descriptor                    string                   `cbor:"descriptor"`
	Signature                     string                   `cbor:"signature,omitempty"`
	Exceptions                    []string                 `cbor:"exceptions,omitempty"`
	Deprecated                    bool                     `cbor:"deprecated,omitempty"`
	VisibleAnnotations            []classfile.Annotation   `cbor:"visible_annotations,omitempty"`
	InvisibleAnnotations          []classfile.Annotation   `cbor:"invisible_annotations,omitempty"`
	VisibleParameterAnnotations   [][]classfile.Annotation `cbor:"visible_parameter_annotations,omitempty"`
	InvisibleParameterAnnotations [][]classfile.Annotation `cbor:"invisible_parameter_annotations,omitempty"`
	AnnotationDefault             *classfile.ElementValue  `cbor:"annotation_default,omitempty"`
}

// Reduce produces the deterministic ABI image of class. ok is false
// when no field or method survives reduction. Reduce does not repeat
// Decide; callers run it only on classes Decide accepted.
func (e *Extractor) Reduce(class *classfile.ClassFile) (image []byte, ok bool, err error) {
	pool := class.Pool
	reduced := classImage{
		Version:    class.MajorVersion,
		Access:     class.Access &^ classfile.AccSuper,
		Name:       class.ThisClass,
		Super:      class.SuperClass,
		Interfaces: class.Interfaces,
	}

	if reduced.Signature, err = optionalSignature(pool, class.Attributes); err != nil {
		return nil, false, fmt.Errorf("class %s: %w", class.ThisClass, err)
	}
	_, reduced.Deprecated = class.Attribute(classfile.AttrDeprecated)
	if reduced.VisibleAnnotations, reduced.InvisibleAnnotations, err = annotations(pool, class.Attributes); err != nil {
		return nil, false, fmt.Errorf("class %s: %w", class.ThisClass, err)
	}
	if attribute, found := class.Attribute(classfile.AttrPermittedSubclasses); found {
		if reduced.PermittedSubclasses, err = pool.DecodePermittedSubclasses(attribute); err != nil {
			return nil, false, fmt.Errorf("class %s: %w", class.ThisClass, err)
		}
		slices.Sort(reduced.PermittedSubclasses)
	}

	for i := range class.Fields {
		field := &class.Fields[i]
		if !e.retainMember(field.Access, field.Attributes) {
			continue
		}
		reducedField, err := reduceField(pool, field)
		if err != nil {
			return nil, false, fmt.Errorf("field %s.%s: %w", class.ThisClass, field.Name, err)
		}
		reduced.Fields = append(reduced.Fields, reducedField)
	}

	for i := range class.Methods {
		method := &class.Methods[i]
		if !e.retainMember(method.Access, method.Attributes) {
			continue
		}
		if method.Access&classfile.AccBridge != 0 ||
			method.Name == "<clinit>" ||
			strings.HasPrefix(method.Name, "lambda$") {
			continue
		}
		reducedMethod, err := reduceMethod(pool, method)
		if err != nil {
			return nil, false, fmt.Errorf("method %s.%s%s: %w", class.ThisClass, method.Name, method.Descriptor, err)
		}
		reduced.Methods = append(reduced.Methods, reducedMethod)
	}

	if len(reduced.Fields) == 0 && len(reduced.Methods) == 0 {
		return nil, false, nil
	}

	slices.SortFunc(reduced.Fields, func(a, b fieldImage) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Descriptor, b.Descriptor))
	})
	slices.SortFunc(reduced.Methods, func(a, b methodImage) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.Descriptor, b.Descriptor))
	})

	image, err = codec.Marshal(reduced)
	if err != nil {
		return nil, false, fmt.Errorf("encoding image of %s: %w", class.ThisClass, err)
	}
	return image, true, nil
}

func (e *Extractor) retainMember(access uint16, attributes []classfile.Attribute) bool {
	if access&classfile.AccSynthetic != 0 {
		return false
	}
	for _, attribute := range attributes {
		if attribute.Name == classfile.AttrSynthetic {
			return false
		}
	}
	return e.visible(access)
}

func reduceField(pool classfile.ConstantPool, field *classfile.Member) (fieldImage, error) {
	reduced := fieldImage{
		Access:     field.Access,
		Name:       field.Name,
		Descriptor: field.Descriptor,
	}
	var err error
	if reduced.Signature, err = optionalSignature(pool, field.Attributes); err != nil {
		return reduced, err
	}
	if attribute, ok := field.Attribute(classfile.AttrConstantValue); ok {
		if reduced.Value, err = pool.DecodeConstantValue(attribute); err != nil {
			return reduced, err
		}
	}
	_, reduced.Deprecated = field.Attribute(classfile.AttrDeprecated)
	reduced.VisibleAnnotations, reduced.InvisibleAnnotations, err = annotations(pool, field.Attributes)
	return reduced, err
}

func reduceMethod(pool classfile.ConstantPool, method *classfile.Member) (methodImage, error) {
	reduced := methodImage{
		Access:     method.Access &^ classfile.AccSynchronized,
		Name:       method.Name,
		Descriptor: method.Descriptor,
	}
	var err error
	if reduced.Signature, err = optionalSignature(pool, method.Attributes); err != nil {
		return reduced, err
	}
	if attribute, ok := method.Attribute(classfile.AttrExceptions); ok {
		if reduced.Exceptions, err = pool.DecodeExceptions(attribute); err != nil {
			return reduced, err
		}
		slices.Sort(reduced.Exceptions)
	}
	_, reduced.Deprecated = method.Attribute(classfile.AttrDeprecated)
	if reduced.VisibleAnnotations, reduced.InvisibleAnnotations, err = annotations(pool, method.Attributes); err != nil {
		return reduced, err
	}
	if attribute, ok := method.Attribute(classfile.AttrRuntimeVisibleParameterAnnotations); ok {
		if reduced.VisibleParameterAnnotations, err = pool.DecodeParameterAnnotations(attribute); err != nil {
			return reduced, err
		}
		for _, parameter := range reduced.VisibleParameterAnnotations {
			sortAnnotations(parameter)
		}
	}
	if attribute, ok := method.Attribute(classfile.AttrRuntimeInvisibleParameterAnnotations); ok {
		if reduced.InvisibleParameterAnnotations, err = pool.DecodeParameterAnnotations(attribute); err != nil {
			return reduced, err
		}
		for _, parameter := range reduced.InvisibleParameterAnnotations {
			sortAnnotations(parameter)
		}
	}
	if attribute, ok := method.Attribute(classfile.AttrAnnotationDefault); ok {
		value, err := pool.DecodeAnnotationDefault(attribute)
		if err != nil {
			return reduced, err
		}
		reduced.AnnotationDefault = &value
	}
	return reduced, nil
}

func optionalSignature(pool classfile.ConstantPool, attributes []classfile.Attribute) (string, error) {
	for _, attribute := range attributes {
		if attribute.Name == classfile.AttrSignature {
			return pool.DecodeSignature(attribute)
		}
	}
	return "", nil
}

// annotations decodes the visible and invisible annotation attributes,
// sorted by type: reordering annotations in source is not an API
// change.
func annotations(pool classfile.ConstantPool, attributes []classfile.Attribute) (visible, invisible []classfile.Annotation, err error) {
	for _, attribute := range attributes {
		switch attribute.Name {
		case classfile.AttrRuntimeVisibleAnnotations:
			if visible, err = pool.DecodeAnnotations(attribute); err != nil {
				return nil, nil, err
			}
			sortAnnotations(visible)
		case classfile.AttrRuntimeInvisibleAnnotations:
			if invisible, err = pool.DecodeAnnotations(attribute); err != nil {
				return nil, nil, err
			}
			sortAnnotations(invisible)
		}
	}
	return visible, invisible, nil
}

func sortAnnotations(annotations []classfile.Annotation) {
	slices.SortStableFunc(annotations, func(a, b classfile.Annotation) int {
		return cmp.Compare(a.Type, b.Type)
	})
}

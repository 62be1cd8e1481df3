package protocol

import (
	"errors"
	"fmt"
	"sync"
)

// Domain is the primitive wire type of a field.
type Domain uint8

// Field domains. Each one fixes the wire width and encoding of a field.
const (
	DomainBit Domain = iota + 1
	DomainOctet
	DomainShort
	DomainLong
	DomainLongLong
	DomainShortStr
	DomainLongStr
	DomainTable
	DomainTimestamp
)

var domainNames = [...]string{
	DomainBit:       "bit",
	DomainOctet:     "octet",
	DomainShort:     "short",
	DomainLong:      "long",
	DomainLongLong:  "longlong",
	DomainShortStr:  "shortstr",
	DomainLongStr:   "longstr",
	DomainTable:     "table",
	DomainTimestamp: "timestamp",
}

func (domain Domain) String() string {
	if int(domain) < len(domainNames) && domainNames[domain] != "" {
		return domainNames[domain]
	}
	return fmt.Sprintf("domain(%d)", uint8(domain))
}

// Field is a named, typed slot of a method or a content-header property.
type Field struct {
	Name   string
	Domain Domain
}

// Method is an operation of a class. Fields are listed in wire order.
type Method struct {
	Name     string
	ClassID  uint16
	MethodID uint16
	Fields   []Field

	class *Class
}

// Class returns the class the method belongs to.
func (method *Method) Class() *Class { return method.class }

func (method *Method) String() string {
	return fmt.Sprintf("%s(%d,%d)", method.Name, method.ClassID, method.MethodID)
}

// Class groups methods and, for content classes, header properties.
type Class struct {
	Name       string
	ID         uint16
	Properties []Field
	Methods    []*Method
}

// MethodDef and ClassDef describe the registry contents before indexing.
type MethodDef struct {
	Name   string
	ID     uint16
	Fields []Field
}

// ClassDef describes a class: its content properties and methods.
type ClassDef struct {
	Name       string
	ID         uint16
	Properties []Field
	Methods    []MethodDef
}

// Lookup errors.
var (
	ErrMethodNotFound = errors.New("method not found")
	ErrClassNotFound  = errors.New("class not found")
)

// Table is an immutable registry of classes and methods.
type Table struct {
	classes []*Class
	byClass map[uint16]*Class
	byID    map[uint32]*Method
	byName  map[string]*Method
}

func methodKey(classID uint16, methodID uint16) uint32 {
	return uint32(classID)<<16 | uint32(methodID)
}

// NewTable indexes definitions. Duplicate class or method ids are rejected.
func NewTable(defs []ClassDef) (*Table, error) {
	table := &Table{
		classes: make([]*Class, 0, len(defs)),
		byClass: make(map[uint16]*Class, len(defs)),
		byID:    make(map[uint32]*Method),
		byName:  make(map[string]*Method),
	}

	for _, def := range defs {
		if _, exists := table.byClass[def.ID]; exists {
			return nil, fmt.Errorf("duplicate class id %d (%s)", def.ID, def.Name)
		}
		class := &Class{
			Name:       def.Name,
			ID:         def.ID,
			Properties: append([]Field(nil), def.Properties...),
			Methods:    make([]*Method, 0, len(def.Methods)),
		}
		for _, methodDef := range def.Methods {
			key := methodKey(def.ID, methodDef.ID)
			if _, exists := table.byID[key]; exists {
				return nil, fmt.Errorf("duplicate method id %d,%d (%s.%s)", def.ID, methodDef.ID, def.Name, methodDef.Name)
			}
			method := &Method{
				Name:     methodName(def.Name, methodDef.Name),
				ClassID:  def.ID,
				MethodID: methodDef.ID,
				Fields:   append([]Field(nil), methodDef.Fields...),
				class:    class,
			}
			class.Methods = append(class.Methods, method)
			table.byID[key] = method
			table.byName[method.Name] = method
		}
		table.classes = append(table.classes, class)
		table.byClass[class.ID] = class
	}

	return table, nil
}

// methodName joins class and method names: "connection" + "startOk" is
// "connectionStartOk".
func methodName(className string, name string) string {
	if name == "" {
		return className
	}
	first := name[0]
	if first >= 'a' && first <= 'z' {
		first -= 'a' - 'A'
	}
	return className + string(first) + name[1:]
}

// MethodOf returns the method registered under classID/methodID.
func (table *Table) MethodOf(classID uint16, methodID uint16) (*Method, error) {
	if method, ok := table.byID[methodKey(classID, methodID)]; ok {
		return method, nil
	}
	return nil, fmt.Errorf("%w: bad classId, methodId pair: %d, %d", ErrMethodNotFound, classID, methodID)
}

// ClassOf returns the class registered under classID.
func (table *Table) ClassOf(classID uint16) (*Class, error) {
	if class, ok := table.byClass[classID]; ok {
		return class, nil
	}
	return nil, fmt.Errorf("%w: %d", ErrClassNotFound, classID)
}

// MethodByName looks a method up by its joined name, e.g. "basicPublish".
func (table *Table) MethodByName(name string) (*Method, error) {
	if method, ok := table.byName[name]; ok {
		return method, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrMethodNotFound, name)
}

// Classes returns the classes in definition order. The slice is a copy.
func (table *Table) Classes() []*Class {
	return append([]*Class(nil), table.classes...)
}

var defaultTable = sync.OnceValue(func() *Table {
	table, err := NewTable(AMQP091)
	if err != nil {
		panic("protocol: invalid built-in definitions: " + err.Error())
	}
	return table
})

// Default returns the shared AMQP 0-9-1 registry.
func Default() *Table {
	return defaultTable()
}

func mustMethod(name string) *Method {
	method, err := Default().MethodByName(name)
	if err != nil {
		panic(err)
	}
	return method
}

// Connection-class methods used by the connection state machine.
var (
	ConnectionStart     = mustMethod("connectionStart")
	ConnectionStartOk   = mustMethod("connectionStartOk")
	ConnectionSecure    = mustMethod("connectionSecure")
	ConnectionSecureOk  = mustMethod("connectionSecureOk")
	ConnectionTune      = mustMethod("connectionTune")
	ConnectionTuneOk    = mustMethod("connectionTuneOk")
	ConnectionOpen      = mustMethod("connectionOpen")
	ConnectionOpenOk    = mustMethod("connectionOpenOk")
	ConnectionClose     = mustMethod("connectionClose")
	ConnectionCloseOk   = mustMethod("connectionCloseOk")
	ConnectionBlocked   = mustMethod("connectionBlocked")
	ConnectionUnblocked = mustMethod("connectionUnblocked")
)

// BasicClass carries the content-header property list.
var BasicClass = func() *Class {
	class, err := Default().ClassOf(60)
	if err != nil {
		panic(err)
	}
	return class
}()

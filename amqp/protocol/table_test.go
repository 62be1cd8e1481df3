package protocol

import (
	"errors"
	"testing"
)

func TestDefaultTableLookups(t *testing.T) {
	table := Default()

	method, err := table.MethodOf(10, 30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if method.Name != "connectionTune" || len(method.Fields) != 3 {
		t.Fatalf("unexpected method %+v", method)
	}
	if method.Class() == nil || method.Class().Name != "connection" {
		t.Fatalf("expected method to link back to connection class")
	}

	class, err := table.ClassOf(60)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if class.Name != "basic" || len(class.Properties) != 14 {
		t.Fatalf("unexpected basic class %s with %d properties", class.Name, len(class.Properties))
	}
	if class != BasicClass {
		t.Fatalf("expected BasicClass to point into the default table")
	}
}

func TestUnknownIdsAreErrors(t *testing.T) {
	table := Default()
	if _, err := table.MethodOf(10, 99); !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("expected ErrMethodNotFound, got %v", err)
	}
	if _, err := table.ClassOf(77); !errors.Is(err, ErrClassNotFound) {
		t.Fatalf("expected ErrClassNotFound, got %v", err)
	}
	if _, err := table.MethodByName("connectionDance"); !errors.Is(err, ErrMethodNotFound) {
		t.Fatalf("expected ErrMethodNotFound, got %v", err)
	}
}

func TestNewTableRejectsDuplicates(t *testing.T) {
	_, err := NewTable([]ClassDef{
		{Name: "a", ID: 1},
		{Name: "b", ID: 1},
	})
	if err == nil {
		t.Fatalf("expected duplicate class id to fail")
	}

	_, err = NewTable([]ClassDef{{
		Name: "a",
		ID:   1,
		Methods: []MethodDef{
			{Name: "x", ID: 10},
			{Name: "y", ID: 10},
		},
	}})
	if err == nil {
		t.Fatalf("expected duplicate method id to fail")
	}
}

func TestMethodNamesAreCamelCase(t *testing.T) {
	names := map[*Method]string{
		ConnectionStartOk:   "connectionStartOk",
		ConnectionCloseOk:   "connectionCloseOk",
		ConnectionUnblocked: "connectionUnblocked",
	}
	for method, expected := range names {
		if method.Name != expected {
			t.Fatalf("expected %q, got %q", expected, method.Name)
		}
	}
	if publish, err := Default().MethodByName("basicPublish"); err != nil || publish.MethodID != 40 {
		t.Fatalf("expected basicPublish(60,40), got %v %v", publish, err)
	}
}

func TestEveryMethodIsIndexed(t *testing.T) {
	table := Default()
	count := 0
	for _, class := range table.Classes() {
		for _, method := range class.Methods {
			found, err := table.MethodOf(method.ClassID, method.MethodID)
			if err != nil || found != method {
				t.Fatalf("method %s not indexed: %v", method, err)
			}
			count++
		}
	}
	if count < 60 {
		t.Fatalf("expected the full method list, got %d methods", count)
	}
}

func TestIsHardError(t *testing.T) {
	if IsHardError(ReplySuccess) {
		t.Fatalf("reply-success is not an error")
	}
	if IsHardError(NotFound) || IsHardError(PreconditionFailed) {
		t.Fatalf("channel-level codes must not be hard errors")
	}
	if !IsHardError(ConnectionForced) || !IsHardError(FrameError) || !IsHardError(InternalError) {
		t.Fatalf("connection-level codes must be hard errors")
	}
}

func TestDomainString(t *testing.T) {
	if DomainLongStr.String() != "longstr" || DomainTimestamp.String() != "timestamp" {
		t.Fatalf("unexpected domain names")
	}
	if Domain(99).String() != "domain(99)" {
		t.Fatalf("unexpected fallback name %q", Domain(99).String())
	}
}

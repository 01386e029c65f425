package dataservice

import (
	"github.com/wwhitehead/reddwarf/pkg/ref"
	"github.com/wwhitehead/reddwarf/pkg/types"
)

// Decorator wraps a Service, optionally rewriting the arguments of the
// five operations spec §9 calls hookable, before forwarding to Service.
// A nil rewrite func leaves that operation unchanged. This is the
// "re-architect as an optional decorator" note: application code that
// wants to intercept writes (auditing, redaction, quota enforcement)
// builds one of these instead of the Service gaining hook fields.
type Decorator struct {
	Service *Service

	RewriteSetBinding      func(name string, obj any) (string, any)
	RewriteRemoveObject    func(obj any) any
	RewriteMarkForUpdate   func(obj any) any
	RewriteCreateReference func(obj any) any
	RewriteGetObjectID     func(id types.ObjectID) types.ObjectID
}

func (d *Decorator) SetBinding(name string, obj any) error {
	if d.RewriteSetBinding != nil {
		name, obj = d.RewriteSetBinding(name, obj)
	}
	return d.Service.SetBinding(name, obj)
}

func (d *Decorator) RemoveObject(obj any) error {
	if d.RewriteRemoveObject != nil {
		obj = d.RewriteRemoveObject(obj)
	}
	return d.Service.RemoveObject(obj)
}

func (d *Decorator) MarkForUpdate(obj any) error {
	if d.RewriteMarkForUpdate != nil {
		obj = d.RewriteMarkForUpdate(obj)
	}
	return d.Service.MarkForUpdate(obj)
}

func (d *Decorator) CreateReference(obj any) (*ref.Reference, error) {
	if d.RewriteCreateReference != nil {
		obj = d.RewriteCreateReference(obj)
	}
	return d.Service.CreateReference(obj)
}

// ReferenceForID is the decorator's hook point for getObjectId: it
// rewrites the ID being resolved, not the resulting reference.
func (d *Decorator) ReferenceForID(id types.ObjectID) (*ref.Reference, error) {
	if d.RewriteGetObjectID != nil {
		id = d.RewriteGetObjectID(id)
	}
	return d.Service.ReferenceForID(id)
}

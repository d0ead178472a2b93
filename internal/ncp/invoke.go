package ncp

import (
	"context"
)

// Commander sends commands. *Session implements it; tests substitute fakes.
type Commander interface {
	SendCommand(ctx context.Context, oid uint64, method ElementID, args any) (MethodResult, error)
}

var _ Commander = (*Session)(nil)

// Invoke sends a command and decodes the result value as T.
func Invoke[T any](ctx context.Context, c Commander, oid uint64, method ElementID, args any) (T, error) {
	var out T
	res, err := c.SendCommand(ctx, oid, method, args)
	if err != nil {
		return out, err
	}
	if err := res.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

// GetProperty reads one property (method 1m1).
func GetProperty[T any](ctx context.Context, c Commander, oid uint64, property ElementID) (T, error) {
	return Invoke[T](ctx, c, oid, MethodGet, PropertyArgs{ID: property})
}

// SetProperty writes one property (method 1m2).
func SetProperty(ctx context.Context, c Commander, oid uint64, property ElementID, value any) error {
	_, err := c.SendCommand(ctx, oid, MethodSet, SetPropertyArgs{ID: property, Value: value})
	return err
}

// UserLabel reads an object's user label. A null label is returned as "".
func UserLabel(ctx context.Context, c Commander, oid uint64) (string, error) {
	label, err := GetProperty[*string](ctx, c, oid, PropertyUserLabel)
	if err != nil || label == nil {
		return "", err
	}
	return *label, nil
}

// GetMemberDescriptors lists the members of a block.
func GetMemberDescriptors(ctx context.Context, c Commander, blockOID uint64, recurse bool) ([]BlockMemberDescriptor, error) {
	return Invoke[[]BlockMemberDescriptor](ctx, c, blockOID, MethodGetMemberDescriptors,
		MemberDescriptorArgs{Recurse: recurse})
}

// FindMembersByClassID searches a block for members of a class, including
// derived classes and nested blocks.
func FindMembersByClassID(ctx context.Context, c Commander, blockOID uint64, class ClassID) ([]BlockMemberDescriptor, error) {
	return Invoke[[]BlockMemberDescriptor](ctx, c, blockOID, MethodFindMembersByClassID,
		FindMembersArgs{ClassID: class, IncludeDerived: true, Recurse: true})
}

// Touchpoints reads an object's touchpoints. A null list is returned as nil.
func Touchpoints(ctx context.Context, c Commander, oid uint64) ([]Touchpoint, error) {
	return GetProperty[[]Touchpoint](ctx, c, oid, PropertyTouchpoints)
}

package ncp

import (
	"fmt"
	"strconv"
	"strings"
)

// RootOID is the object id of the root block in every device model.
const RootOID uint64 = 1

// ElementID names a method, property or event within a class hierarchy.
// Level is the depth in the inheritance tree, Index the position at that level.
type ElementID struct {
	Level int `json:"level"`
	Index int `json:"index"`
}

// String renders the id in the "3p2" style used throughout the IS-12 docs.
func (e ElementID) String() string {
	return fmt.Sprintf("%dp%d", e.Level, e.Index)
}

// Well-known NcObject and NcBlock element ids (MS-05-02).
var (
	// MethodGet reads a property: arguments {id}.
	MethodGet = ElementID{Level: 1, Index: 1}

	// MethodSet writes a property: arguments {id, value}.
	MethodSet = ElementID{Level: 1, Index: 2}

	// MethodGetMemberDescriptors lists a block's members: arguments {recurse}.
	MethodGetMemberDescriptors = ElementID{Level: 2, Index: 1}

	// MethodFindMembersByClassID searches a block: arguments {classId, includeDerived, recurse}.
	MethodFindMembersByClassID = ElementID{Level: 2, Index: 4}

	PropertyClassID     = ElementID{Level: 1, Index: 1}
	PropertyOID         = ElementID{Level: 1, Index: 2}
	PropertyConstantOID = ElementID{Level: 1, Index: 3}
	PropertyOwner       = ElementID{Level: 1, Index: 4}
	PropertyRole        = ElementID{Level: 1, Index: 5}
	PropertyUserLabel   = ElementID{Level: 1, Index: 6}
	PropertyTouchpoints = ElementID{Level: 1, Index: 7}

	// EventPropertyChanged is the only event NcObject defines.
	EventPropertyChanged = ElementID{Level: 1, Index: 1}
)

// ClassID is an MS-05-02 class identifier such as [1 2 2 1].
type ClassID []int

// Well-known class ids.
var (
	ClassBlock           = ClassID{1, 1}
	ClassReceiverMonitor = ClassID{1, 2, 2, 1}
	ClassSenderMonitor   = ClassID{1, 2, 2, 2}
)

// String renders the class id in dotted form ("1.2.2.1").
func (c ClassID) String() string {
	parts := make([]string, len(c))
	for i, v := range c {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ".")
}

// DerivesFrom reports whether c equals base or is derived from it.
// Derived classes extend their parent's id, so this is a prefix check.
func (c ClassID) DerivesFrom(base ClassID) bool {
	if len(c) < len(base) {
		return false
	}
	for i := range base {
		if c[i] != base[i] {
			return false
		}
	}
	return true
}

// IsBlock reports whether the class is NcBlock or derived from it.
func (c ClassID) IsBlock() bool {
	return c.DerivesFrom(ClassBlock)
}

// MethodStatus is the status code carried by every method result.
type MethodStatus int

// Method status codes (NcMethodStatus).
const (
	StatusOK                     MethodStatus = 200
	StatusPropertyDeprecated     MethodStatus = 298
	StatusMethodDeprecated       MethodStatus = 299
	StatusBadCommandFormat       MethodStatus = 400
	StatusUnauthorized           MethodStatus = 401
	StatusBadOID                 MethodStatus = 404
	StatusReadonly               MethodStatus = 405
	StatusInvalidRequest         MethodStatus = 406
	StatusConflict               MethodStatus = 409
	StatusBufferOverflow         MethodStatus = 413
	StatusIndexOutOfBounds       MethodStatus = 414
	StatusParameterError         MethodStatus = 417
	StatusLocked                 MethodStatus = 423
	StatusDeviceError            MethodStatus = 500
	StatusMethodNotImplemented   MethodStatus = 501
	StatusPropertyNotImplemented MethodStatus = 502
	StatusNotReady               MethodStatus = 503
	StatusTimeout                MethodStatus = 504
)

// IsError reports whether the status denotes a failed invocation.
// Deprecation warnings (298, 299) still carry a valid value.
func (s MethodStatus) IsError() bool {
	return s >= 400
}

// PropertyChangeType classifies a property-changed event.
type PropertyChangeType int

// Property change kinds (NcPropertyChangeType).
const (
	ValueChanged        PropertyChangeType = 0
	SequenceItemAdded   PropertyChangeType = 1
	SequenceItemChanged PropertyChangeType = 2
	SequenceItemRemoved PropertyChangeType = 3
)

func (t PropertyChangeType) String() string {
	switch t {
	case ValueChanged:
		return "ValueChanged"
	case SequenceItemAdded:
		return "SequenceItemAdded"
	case SequenceItemChanged:
		return "SequenceItemChanged"
	case SequenceItemRemoved:
		return "SequenceItemRemoved"
	default:
		return fmt.Sprintf("PropertyChangeType(%d)", int(t))
	}
}

// BlockMemberDescriptor describes one member of a block.
type BlockMemberDescriptor struct {
	Role        string  `json:"role"`
	OID         uint64  `json:"oid"`
	ConstantOID bool    `json:"constantOid"`
	ClassID     ClassID `json:"classId"`
	UserLabel   *string `json:"userLabel"`
	Owner       uint64  `json:"owner"`
}

// Label returns the user label, or "" when the device reports null.
func (d BlockMemberDescriptor) Label() string {
	if d.UserLabel == nil {
		return ""
	}
	return *d.UserLabel
}

// Touchpoint links a device-model object to a resource in another context,
// typically an IS-04 sender or receiver.
type Touchpoint struct {
	ContextNamespace string             `json:"contextNamespace"`
	Resource         TouchpointResource `json:"resource"`
}

// TouchpointResource identifies the linked resource.
type TouchpointResource struct {
	ResourceType string `json:"resourceType"`
	ID           string `json:"id"`
}

// TouchpointNamespaceNMOS is the context namespace for IS-04 resources.
const TouchpointNamespaceNMOS = "x-nmos"

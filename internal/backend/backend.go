/*
SPDX-FileCopyrightText: Red Hat

SPDX-License-Identifier: Apache-2.0
*/

// Package backend defines the blob store contract that the Container layer pages extents through,
// and provides an in-memory fake for tests.
package backend

import (
	"context"
	"errors"

	"github.com/openshift-kni/vdisk-registry/internal/ids"
)

// ErrObjectDoesNotExist is returned by Read and GetSize when the named object is absent. The
// Container read path recognizes and downgrades this into a zero-filled short read.
var ErrObjectDoesNotExist = errors.New("object does not exist")

//go:generate mockgen -source=backend.go -package=backend -destination=backend_mock.go

// Backend is the blob store consumed by the Container layer. A namespace groups the objects of
// one node's extent storage; object names are the wire form of an ExtentId.
type Backend interface {
	NamespaceExists(ctx context.Context, ns ids.Namespace) (bool, error)
	CreateNamespace(ctx context.Context, ns ids.Namespace) error
	DeleteNamespace(ctx context.Context, ns ids.Namespace) error

	// Read fetches the full contents of an object. latestVersionRequired asks the backend to
	// bypass any read-your-writes cache it might otherwise use.
	Read(ctx context.Context, ns ids.Namespace, objectName string, latestVersionRequired bool) ([]byte, error)

	// Write stores data under objectName. overwrite must always be true for extent flushes: the
	// Container layer never issues a create-only write.
	Write(ctx context.Context, ns ids.Namespace, objectName string, data []byte, overwrite bool) error

	Remove(ctx context.Context, ns ids.Namespace, objectName string) error
	ListObjects(ctx context.Context, ns ids.Namespace) ([]string, error)
	GetSize(ctx context.Context, ns ids.Namespace, objectName string) (uint64, error)
}

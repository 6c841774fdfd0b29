// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package vms

import (
	"context"
	"fmt"
	"net/http"
	"sort"

	"github.com/gorilla/mux"

	"github.com/luxfi/log"
)

// Factory creates VM instances.
type Factory interface {
	New(log.Logger) (interface{}, error)
}

// HandlerProvider is the interface that VMs must implement to provide HTTP handlers
type HandlerProvider interface {
	CreateHandlers(context.Context) (map[string]http.Handler, error)
}

// Mount registers every handler of vm on router, each at prefix followed by
// the handler's extension. A vm without handlers mounts nothing. It returns
// the mounted paths.
func Mount(ctx context.Context, router *mux.Router, prefix string, vm interface{}) ([]string, error) {
	provider, ok := vm.(HandlerProvider)
	if !ok {
		return nil, nil
	}
	handlers, err := provider.CreateHandlers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create handlers: %w", err)
	}

	paths := make([]string, 0, len(handlers))
	for extension, handler := range handlers {
		path := prefix + extension
		router.Handle(path, handler)
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths, nil
}

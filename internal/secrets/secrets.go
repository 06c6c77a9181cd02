// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

// Package secrets keeps provider keys and bot tokens out of the config file.
package secrets

import (
	ariaerr "github.com/sigil-dev/aria/pkg/errors"
)

// DefaultService is the keyring service aria stores its secrets under.
const DefaultService = "aria"

// Store is a service/key secret backend.
// Retrieve and Delete return an error carrying CodeSecretNotFound for
// missing keys.
type Store interface {
	Store(service, key, value string) error
	Retrieve(service, key string) (string, error)
	Delete(service, key string) error
	// List returns the key names stored under service, sorted.
	List(service string) ([]string, error)
}

func checkKey(op, service, key string) error {
	if service == "" {
		return ariaerr.Errorf(ariaerr.CodeSecretInvalidInput, "secret %s: service must not be empty", op)
	}
	if key == "" {
		return ariaerr.Errorf(ariaerr.CodeSecretInvalidInput, "secret %s: key must not be empty", op)
	}
	if key == service+keysIndexSuffix {
		return ariaerr.Errorf(ariaerr.CodeSecretInvalidInput, "secret %s: key %q is reserved", op, key)
	}
	return nil
}

func notFound(service, key string) error {
	return ariaerr.Errorf(ariaerr.CodeSecretNotFound, "secret %s/%s not found", service, key)
}

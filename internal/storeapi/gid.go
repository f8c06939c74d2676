// Copyright 2025 James Ross
package storeapi

import "strings"

// normalizeGID accepts either a bare numeric id or an existing GID of any
// form and returns the canonical "gid://store/<entityType>/<number>" shape
// spec §6 requires for every persisted external-entity id. The vendor's own
// GID namespace never appears in this codebase — only the genericized
// "store" authority the spec uses.
func normalizeGID(entityType, id string) string {
	return "gid://store/" + entityType + "/" + numericSuffix(id)
}

// numericSuffix extracts the trailing numeric id from either a bare numeric
// string or a GID of any form ("gid://<authority>/<Type>/<number>").
func numericSuffix(id string) string {
	if i := strings.LastIndex(id, "/"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// Copyright ORS Proxy Authors
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"encoding/hex"

	"github.com/google/uuid"
)

// NewID generates a random identifier with the given prefix, e.g.
// NewID("resp_") -> "resp_9f86d081884c7d65...".
func NewID(prefix string) string {
	u := uuid.New()
	return prefix + hex.EncodeToString(u[:])
}

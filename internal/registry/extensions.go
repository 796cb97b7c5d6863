// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package registry

import (
	"strings"

	"github.com/distort-io/distort/internal/config"
	"github.com/distort-io/distort/internal/protocol"
)

// ExtensionTable is the canonical extension→class mapping the Registry uses
// to validate REQ_DISTORT/REQ_RECONNECT filenames. Unknown extensions have
// no entry and resolve to MEDIA_KO by the caller.
type ExtensionTable struct {
	classOf map[string]protocol.Class
}

// builtinTable is the fixed extension table every Registry starts with.
func builtinTable() *ExtensionTable {
	t := &ExtensionTable{classOf: map[string]protocol.Class{
		"txt":  protocol.ClassText,
		"wav":  protocol.ClassMedia,
		"png":  protocol.ClassMedia,
		"jpg":  protocol.ClassMedia,
		"jpeg": protocol.ClassMedia,
		"bmp":  protocol.ClassMedia,
		"tga":  protocol.ClassMedia,
	}}
	return t
}

// NewExtensionTable builds the builtin table and applies an optional
// operator override on top of it.
func NewExtensionTable(overrides *config.ExtensionOverrides) *ExtensionTable {
	t := builtinTable()
	if overrides == nil {
		return t
	}
	for _, ext := range overrides.Text {
		t.classOf[ext] = protocol.ClassText
	}
	for _, ext := range overrides.Media {
		t.classOf[ext] = protocol.ClassMedia
	}
	return t
}

// ClassOf resolves a filename's extension to a class. Case-insensitive.
func (t *ExtensionTable) ClassOf(filename string) (protocol.Class, bool) {
	ext := strings.TrimPrefix(strings.ToLower(extOf(filename)), ".")
	class, ok := t.classOf[ext]
	return class, ok
}

func extOf(filename string) string {
	i := strings.LastIndex(filename, ".")
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return filename[i+1:]
}

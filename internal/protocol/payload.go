// Copyright (c) 2026 The Distort Authors. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be found
// in the LICENSE file.

package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// Class identifies which worker pool a job belongs to.
type Class byte

const (
	ClassText Class = iota
	ClassMedia
)

func (c Class) String() string {
	if c == ClassText {
		return "Text"
	}
	return "Media"
}

// ParseClass parses the wire string form of a class ("Text"/"Media").
func ParseClass(s string) (Class, error) {
	switch s {
	case "Text":
		return ClassText, nil
	case "Media":
		return ClassMedia, nil
	default:
		return 0, fmt.Errorf("%w: unknown class %q", ErrMalformedPayload, s)
	}
}

func splitFields(data []byte, n int) ([]string, error) {
	fields := strings.Split(string(data), FieldSeparator)
	if len(fields) != n {
		return nil, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedPayload, n, len(fields))
	}
	for _, f := range fields {
		if f == "" {
			return nil, fmt.Errorf("%w: empty field", ErrMalformedPayload)
		}
	}
	return fields, nil
}

// ConnClientRequest is the data field of a CONN_CLIENT frame.
type ConnClientRequest struct {
	Username string
	IP       string
	Port     int
}

// EncodeConnClient serializes "username&ip&port".
func EncodeConnClient(username, ip string, port int) []byte {
	return []byte(fmt.Sprintf("%s&%s&%d", username, ip, port))
}

// DecodeConnClient parses "username&ip&port".
func DecodeConnClient(data []byte) (*ConnClientRequest, error) {
	fields, err := splitFields(data, 3)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad port %q", ErrMalformedPayload, fields[2])
	}
	return &ConnClientRequest{Username: fields[0], IP: fields[1], Port: port}, nil
}

// ConnWorkerRequest is the data field of a CONN_WORKER frame.
type ConnWorkerRequest struct {
	Class Class
	IP    string
	Port  int
}

// EncodeConnWorker serializes "class&ip&port".
func EncodeConnWorker(class Class, ip string, port int) []byte {
	return []byte(fmt.Sprintf("%s&%s&%d", class, ip, port))
}

// DecodeConnWorker parses "class&ip&port".
func DecodeConnWorker(data []byte) (*ConnWorkerRequest, error) {
	fields, err := splitFields(data, 3)
	if err != nil {
		return nil, err
	}
	class, err := ParseClass(fields[0])
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(fields[2])
	if err != nil {
		return nil, fmt.Errorf("%w: bad port %q", ErrMalformedPayload, fields[2])
	}
	return &ConnWorkerRequest{Class: class, IP: fields[1], Port: port}, nil
}

// DistortMetadata is the data field of the Client→Worker REQ_DISTORT frame
// (type 0x03): "username&filename&filesize&md5&factor".
type DistortMetadata struct {
	Username string
	Filename string
	Filesize int64
	MD5      string
	Factor   int
}

// EncodeDistortMetadata serializes "username&filename&filesize&md5&factor".
func EncodeDistortMetadata(m DistortMetadata) []byte {
	return []byte(fmt.Sprintf("%s&%s&%d&%s&%d", m.Username, m.Filename, m.Filesize, m.MD5, m.Factor))
}

// DecodeDistortMetadata parses and validates "username&filename&filesize&md5&factor".
// Class is always decided by the Registry from the file extension, never
// carried in this payload, so it has no place in this struct.
func DecodeDistortMetadata(data []byte) (*DistortMetadata, error) {
	fields, err := splitFields(data, 5)
	if err != nil {
		return nil, err
	}
	filesize, err := strconv.ParseInt(fields[2], 10, 64)
	if err != nil || filesize <= 0 {
		return nil, fmt.Errorf("%w: bad filesize %q", ErrMalformedPayload, fields[2])
	}
	factor, err := strconv.Atoi(fields[4])
	if err != nil || factor <= 0 {
		return nil, fmt.Errorf("%w: bad factor %q", ErrMalformedPayload, fields[4])
	}
	return &DistortMetadata{
		Username: fields[0],
		Filename: fields[1],
		Filesize: filesize,
		MD5:      fields[3],
		Factor:   factor,
	}, nil
}

// MetaOutPayload is the data field of a META_OUT frame: "filesize_out&md5_out".
type MetaOutPayload struct {
	FilesizeOut int64
	MD5Out      string
}

// EncodeMetaOut serializes "filesize_out&md5_out".
func EncodeMetaOut(m MetaOutPayload) []byte {
	return []byte(fmt.Sprintf("%d&%s", m.FilesizeOut, m.MD5Out))
}

// DecodeMetaOut parses "filesize_out&md5_out".
func DecodeMetaOut(data []byte) (*MetaOutPayload, error) {
	fields, err := splitFields(data, 2)
	if err != nil {
		return nil, err
	}
	filesize, err := strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad filesize_out %q", ErrMalformedPayload, fields[0])
	}
	return &MetaOutPayload{FilesizeOut: filesize, MD5Out: fields[1]}, nil
}

// RegistryDistortRequest is the data field of REQ_DISTORT (0x10) and
// REQ_RECONNECT (0x11) sent Client→Registry: "class&filename".
type RegistryDistortRequest struct {
	Class    Class
	Filename string
}

// EncodeRegistryDistortRequest serializes "class&filename".
func EncodeRegistryDistortRequest(class Class, filename string) []byte {
	return []byte(fmt.Sprintf("%s&%s", class, filename))
}

// DecodeRegistryDistortRequest parses "class&filename".
func DecodeRegistryDistortRequest(data []byte) (*RegistryDistortRequest, error) {
	fields, err := splitFields(data, 2)
	if err != nil {
		return nil, err
	}
	class, err := ParseClass(fields[0])
	if err != nil {
		return nil, err
	}
	return &RegistryDistortRequest{Class: class, Filename: fields[1]}, nil
}

// RegistryDistortReply is the successful reply to REQ_DISTORT/REQ_RECONNECT:
// "ip&port".
type RegistryDistortReply struct {
	IP   string
	Port int
}

// EncodeRegistryDistortReply serializes "ip&port".
func EncodeRegistryDistortReply(ip string, port int) []byte {
	return []byte(fmt.Sprintf("%s&%d", ip, port))
}

// DecodeRegistryDistortReply parses "ip&port".
func DecodeRegistryDistortReply(data []byte) (*RegistryDistortReply, error) {
	fields, err := splitFields(data, 2)
	if err != nil {
		return nil, err
	}
	port, err := strconv.Atoi(fields[1])
	if err != nil {
		return nil, fmt.Errorf("%w: bad port %q", ErrMalformedPayload, fields[1])
	}
	return &RegistryDistortReply{IP: fields[0], Port: port}, nil
}

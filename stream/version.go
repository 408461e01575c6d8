// Copyright 2016 The Mellium Contributors.
// Use of this source code is governed by the BSD 2-clause
// license that can be found in the LICENSE file.

package stream

import (
	"errors"
	"strconv"
	"strings"
)

// DefaultVersion is the version of XMPP implemented by this module.
var DefaultVersion = Version{Major: 1, Minor: 0}

var errVersionSep = errors.New("stream: XMPP version must have a single separator")

// Version is a version of XMPP.
type Version struct {
	Major uint8
	Minor uint8
}

// ParseVersion parses a string of the form "Major.Minor" into a Version struct
// or returns an error.
func ParseVersion(s string) (Version, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok || strings.Contains(minor, ".") {
		return Version{}, errVersionSep
	}
	maj, err := strconv.ParseUint(major, 10, 8)
	if err != nil {
		return Version{}, err
	}
	min, err := strconv.ParseUint(minor, 10, 8)
	if err != nil {
		return Version{}, err
	}
	return Version{Major: uint8(maj), Minor: uint8(min)}, nil
}

// Less reports whether v is an older version than other.
func (v Version) Less(other Version) bool {
	return v.Major < other.Major || (v.Major == other.Major && v.Minor < other.Minor)
}

// String returns the version in the form "Major.Minor".
func (v Version) String() string {
	return strconv.Itoa(int(v.Major)) + "." + strconv.Itoa(int(v.Minor))
}

// Copyright (c) 2026 The acctdb developers

// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// Package acct defines the core data model of the account store:
// account identities, content hashes and account records.
package acct

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Identity is the fixed-size opaque key uniquely naming an account.
type Identity [32]byte

var (
	_ json.Marshaler   = (*Identity)(nil)
	_ json.Unmarshaler = (*Identity)(nil)
)

// String implements stringer.
func (i Identity) String() string {
	return "0x" + hex.EncodeToString(i[:])
}

// AbbrevString returns abbrev string presentation.
func (i Identity) AbbrevString() string {
	return fmt.Sprintf("0x%x…%x", i[:4], i[28:])
}

// Bytes returns byte slice form of the identity.
func (i Identity) Bytes() []byte {
	return i[:]
}

// IsZero returns if the identity has all zero bytes.
func (i Identity) IsZero() bool {
	return i == Identity{}
}

// MarshalJSON implements json.Marshaler.
func (i *Identity) MarshalJSON() ([]byte, error) {
	if i == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(i.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (i *Identity) UnmarshalJSON(data []byte) error {
	var hexStr string
	if err := json.Unmarshal(data, &hexStr); err != nil {
		return err
	}
	parsed, err := ParseIdentity(hexStr)
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// ParseIdentity converts the string presentation into Identity type.
func ParseIdentity(s string) (Identity, error) {
	if len(s) == 32*2 {
	} else if len(s) == 32*2+2 {
		if strings.ToLower(s[:2]) != "0x" {
			return Identity{}, errors.New("invalid prefix")
		}
		s = s[2:]
	} else {
		return Identity{}, errors.New("invalid length")
	}

	var i Identity
	if _, err := hex.Decode(i[:], []byte(s)); err != nil {
		return Identity{}, err
	}
	return i, nil
}

// MustParseIdentity converts the string presentation into Identity type, panics on error.
func MustParseIdentity(s string) Identity {
	i, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return i
}

// BytesToIdentity converts a byte slice into Identity.
// If b is larger than the identity length, b will be cropped from the left.
// If b is smaller, b will be extended from the left.
func BytesToIdentity(b []byte) Identity {
	var i Identity
	if len(b) > len(i) {
		b = b[len(b)-len(i):]
	}
	copy(i[len(i)-len(b):], b)
	return i
}
